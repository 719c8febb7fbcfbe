package common

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key    string   `json:"key,omitempty"`    // Used for: Load, Delete, Store
	Value  string   `json:"value,omitempty"`  // Used for: Store (request), Load (response)
	Keys   []string `json:"keys,omitempty"`   // Used for: LoadAll, DeleteAll, StoreAll (request), LoadAll, LoadAllKeys (response)
	Values []string `json:"values,omitempty"` // Values of Keys, used for: StoreAll (request), LoadAll (response)

	// Response only fields
	Ok        bool   `json:"ok,omitempty"`        // Used for: Load (found), Health (healthy) responses
	Code      uint64 `json:"code,omitempty"`      // mapstore.RetCode of the call
	Attempted uint32 `json:"attempted,omitempty"` // Items attempted
	Succeeded uint32 `json:"succeeded,omitempty"` // Items succeeded
	BadKeys   uint32 `json:"badKeys,omitempty"`   // Keys that could not be encoded
	Err       string `json:"err,omitempty"`       // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// Result returns the map-store result carried by a response.
func (m *Message) Result() mapstore.Result {
	return mapstore.Result{
		Code:      mapstore.RetCode(m.Code),
		Attempted: int(m.Attempted),
		Succeeded: int(m.Succeeded),
		BadKeys:   int(m.BadKeys),
		Msg:       m.Err,
	}
}

// Entries returns Keys and Values as a map. A message without keys yields nil.
func (m *Message) Entries() map[string]string {
	if m.Keys == nil {
		return nil
	}
	entries := make(map[string]string, len(m.Keys))
	for i, k := range m.Keys {
		if i < len(m.Values) {
			entries[k] = m.Values[i]
		}
	}
	return entries
}

// withResult copies a map-store result into the message.
func (m *Message) withResult(res mapstore.Result) *Message {
	m.Code = uint64(res.Code)
	m.Attempted = uint32(res.Attempted)
	m.Succeeded = uint32(res.Succeeded)
	m.BadKeys = uint32(res.BadKeys)
	m.Err = res.Msg
	return m
}

// withEntries stores a map as Keys and Values in key order. A nil map leaves
// both fields nil, an empty map sets them to empty lists.
func (m *Message) withEntries(entries map[string]string) *Message {
	if entries == nil {
		return m
	}
	m.Keys = make([]string, 0, len(entries))
	for k := range entries {
		m.Keys = append(m.Keys, k)
	}
	sort.Strings(m.Keys)
	m.Values = make([]string, len(m.Keys))
	for i, k := range m.Keys {
		m.Values[i] = entries[k]
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewLoadRequest creates a new Load request
func NewLoadRequest(key string) *Message {
	return &Message{
		MsgType: MsgTMSLoad,
		Key:     key,
	}
}

// NewLoadResponse creates a new Load response
func NewLoadResponse(value string, found bool, res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSLoad,
		Value:   value,
		Ok:      found,
	}
	return msg.withResult(res)
}

// NewLoadAllRequest creates a new LoadAll request
func NewLoadAllRequest(keys []string) *Message {
	return &Message{
		MsgType: MsgTMSLoadAll,
		Keys:    nonNil(keys),
	}
}

// NewLoadAllResponse creates a new LoadAll response
func NewLoadAllResponse(entries map[string]string, res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSLoadAll,
	}
	return msg.withEntries(entries).withResult(res)
}

// NewLoadAllKeysRequest creates a new LoadAllKeys request
func NewLoadAllKeysRequest() *Message {
	return &Message{
		MsgType: MsgTMSLoadAllKeys,
	}
}

// NewLoadAllKeysResponse creates a new LoadAllKeys response
func NewLoadAllKeysResponse(keys []string, res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSLoadAllKeys,
		Keys:    keys,
	}
	return msg.withResult(res)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTMSDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSDelete,
	}
	return msg.withResult(res)
}

// NewDeleteAllRequest creates a new DeleteAll request
func NewDeleteAllRequest(keys []string) *Message {
	return &Message{
		MsgType: MsgTMSDeleteAll,
		Keys:    nonNil(keys),
	}
}

// NewDeleteAllResponse creates a new DeleteAll response
func NewDeleteAllResponse(res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSDeleteAll,
	}
	return msg.withResult(res)
}

// NewStoreRequest creates a new Store request
func NewStoreRequest(key, value string) *Message {
	return &Message{
		MsgType: MsgTMSStore,
		Key:     key,
		Value:   value,
	}
}

// NewStoreResponse creates a new Store response
func NewStoreResponse(res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSStore,
	}
	return msg.withResult(res)
}

// NewStoreAllRequest creates a new StoreAll request
func NewStoreAllRequest(entries map[string]string) *Message {
	msg := &Message{
		MsgType: MsgTMSStoreAll,
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return msg.withEntries(entries)
}

// NewStoreAllResponse creates a new StoreAll response
func NewStoreAllResponse(res mapstore.Result) *Message {
	msg := &Message{
		MsgType: MsgTMSStoreAll,
	}
	return msg.withResult(res)
}

// NewHealthRequest creates a new Health request
func NewHealthRequest() *Message {
	return &Message{
		MsgType: MsgTMSHealth,
	}
}

// NewHealthResponse creates a new Health response
func NewHealthResponse(healthy bool, state string) *Message {
	return &Message{
		MsgType: MsgTMSHealth,
		Ok:      healthy,
		Value:   state,
	}
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint64(mapstore.RetCIOFailure),
		Err:     err,
	}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTMSLoad:
		return "load"
	case MsgTMSLoadAll:
		return "loadAll"
	case MsgTMSLoadAllKeys:
		return "loadAllKeys"
	case MsgTMSDelete:
		return "delete"
	case MsgTMSDeleteAll:
		return "deleteAll"
	case MsgTMSStore:
		return "store"
	case MsgTMSStoreAll:
		return "storeAll"
	case MsgTMSHealth:
		return "health"
	case MsgTCustom:
		return "custom"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "load":
		*t = MsgTMSLoad
	case "loadAll":
		*t = MsgTMSLoadAll
	case "loadAllKeys":
		*t = MsgTMSLoadAllKeys
	case "delete":
		*t = MsgTMSDelete
	case "deleteAll":
		*t = MsgTMSDeleteAll
	case "store":
		*t = MsgTMSStore
	case "storeAll":
		*t = MsgTMSStoreAll
	case "health":
		*t = MsgTMSHealth
	case "custom":
		*t = MsgTCustom
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IMapStore operations

	MsgTMSLoad        // Load the value of a key
	MsgTMSLoadAll     // Load the values of many keys
	MsgTMSLoadAllKeys // Load all keys
	MsgTMSDelete      // Delete a key
	MsgTMSDeleteAll   // Delete many keys
	MsgTMSStore       // Store a key-value pair
	MsgTMSStoreAll    // Store many key-value pairs
	MsgTMSHealth      // Health state of the map store

	// Custom operations

	MsgTCustom // Custom operation type
)
