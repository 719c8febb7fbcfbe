package mapstore

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/keycodec"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Properties is the flat string-keyed configuration handed to Init.
type Properties map[string]string

// IMapStore is the contract the distributed map runtime calls to page entries
// in from and out to durable storage.
// No operation returns a low-level storage error. Failures are reported through
// the returned Result, while the data part of the return value is empty (or,
// for LoadAllKeys, holds what was collected before the failure).
type IMapStore interface {
	// Load returns the value stored for key. found is false if the key does not
	// exist, if loading is disabled or if the lookup failed.
	Load(key string) (value string, found bool, res Result)
	// LoadAll returns the stored values of all keys that exist. Keys without a
	// value are not part of the result. A nil map is returned if loading all
	// is disabled or the request failed.
	LoadAll(keys []string) (entries map[string]string, res Result)
	// LoadAllKeys returns the keys of all stored entries.
	LoadAllKeys() (keys []string, res Result)
	// Delete removes the entry of key.
	Delete(key string) (res Result)
	// DeleteAll removes the entries of all keys in a single batch.
	DeleteAll(keys []string) (res Result)
	// Store writes a single entry.
	Store(key, value string) (res Result)
	// StoreAll writes all entries in a single batch. Entries whose key cannot
	// be encoded are skipped, the rest of the batch is written regardless.
	StoreAll(entries map[string]string) (res Result)
}

// ILifecycle is implemented by map stores that are configured by the runtime.
type ILifecycle interface {
	// Init configures the store for one map. An error is fatal: the store must
	// not be used afterwards.
	Init(props Properties, mapName string) (err error)
	// Destroy releases all resources of the store. It is safe to call Destroy
	// multiple times and without a preceding Init.
	Destroy()
}

// IManagedMapStore is a map store with a lifecycle, as hosted by the server.
type IManagedMapStore interface {
	IMapStore
	ILifecycle
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess      RetCode = iota // 0: Operation executed successfully.
	RetCDisabled                    // 1: Operation is disabled by configuration, nothing was done.
	RetCMalformedKey                // 2: The key could not be encoded into a row identifier.
	RetCIOFailure                   // 3: The durable store (or the pool) failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCDisabled:
		return "Disabled"
	case RetCMalformedKey:
		return "MalformedKey"
	case RetCIOFailure:
		return "IOFailure"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("MapStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Classify converts an error of a lower layer into a return code:
// nil is a success, a key codec error is a malformed key and everything
// else (store, pool and transport errors) is an I/O failure.
func Classify(err error) RetCode {
	switch {
	case err == nil:
		return RetCSuccess
	case errors.Is(err, keycodec.ErrMalformedKey):
		return RetCMalformedKey
	default:
		var mErr *Error
		if errors.As(err, &mErr) {
			return mErr.Code
		}
		return RetCIOFailure
	}
}

// --------------------------------------------------------------------------
// Operation Results
// --------------------------------------------------------------------------

// Result is the outcome of one map-store call.
//
// Attempted is the number of items the call was given, Succeeded the number of
// items the store confirmed (for loads: the number of values found). BadKeys
// counts the items that were skipped because their key could not be encoded.
// A batch call with bad keys but a successful request still has RetCSuccess.
type Result struct {
	Code      RetCode
	Attempted int
	Succeeded int
	BadKeys   int
	Msg       string
}

// OK reports whether the call completed without a malformed key or I/O failure.
// A disabled operation is OK.
func (r Result) OK() bool {
	return r.Code == RetCSuccess || r.Code == RetCDisabled
}

// Err returns the result as an *Error, or nil if the result is OK.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return NewError(r.Code, r.Msg)
}

// Disabled returns the result of an operation that is turned off.
func Disabled() Result {
	return Result{Code: RetCDisabled}
}

// NewResult builds a result for a call with the given counts. The code and
// message are derived from err via Classify.
func NewResult(attempted, succeeded, badKeys int, err error) Result {
	res := Result{
		Code:      Classify(err),
		Attempted: attempted,
		Succeeded: succeeded,
		BadKeys:   badKeys,
	}
	if err != nil {
		res.Msg = err.Error()
	}
	return res
}
