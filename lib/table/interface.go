package table

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// --------------------------------------------------------------------------
// Data Types
// --------------------------------------------------------------------------

// Column addresses a single cell inside a row (column family + qualifier).
type Column struct {
	Family    string
	Qualifier string
}

// String returns the column in the usual family:qualifier notation.
func (c Column) String() string {
	return c.Family + ":" + c.Qualifier
}

// Get requests the value of one column of one row.
type Get struct {
	Row    []byte
	Column Column
}

// Put writes the value of one column of one row.
type Put struct {
	Row    []byte
	Column Column
	Value  []byte
}

// Delete removes a whole row (all columns).
type Delete struct {
	Row []byte
}

// Scan describes a forward scan over all rows carrying Column.
// StartRow is inclusive, an empty StartRow starts at the first row.
// Caching is the number of rows fetched per round trip (0 = backend default).
type Scan struct {
	Column   Column
	StartRow []byte
	Caching  int
}

// Row is the result of a Get or a single step of a scan.
// Value is nil if the row (or the requested column) does not exist.
type Row struct {
	Key   []byte
	Value []byte
}

// Empty reports whether the row carried no value for the requested column.
func (r Row) Empty() bool {
	return r.Value == nil
}

// --------------------------------------------------------------------------
// Table Descriptors (used by IAdmin.CreateTable)
// --------------------------------------------------------------------------

// Compression names the block compression of a column family.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gz"
)

// TTLForever marks a column family whose cells never expire.
const TTLForever = time.Duration(math.MaxInt32) * time.Second

// FamilyDescriptor is the storage policy of one column family.
// Backends apply the fields they support and ignore the rest.
type FamilyDescriptor struct {
	Name              string
	Compression       Compression
	BlockCacheEnabled bool
	BlockSize         int
	InMemory          bool
	MaxVersions       int
	TTL               time.Duration
}

// TableDescriptor describes a table and its column families.
type TableDescriptor struct {
	Name     string
	Families []FamilyDescriptor
}

// DefaultFamily returns the fixed policy used when a map-store table is auto-created:
// snappy compression, block cache on, 64 KiB blocks, not pinned in memory,
// a single version and no expiry.
func DefaultFamily(name string) FamilyDescriptor {
	return FamilyDescriptor{
		Name:              name,
		Compression:       CompressionSnappy,
		BlockCacheEnabled: true,
		BlockSize:         65536,
		InMemory:          false,
		MaxVersions:       1,
		TTL:               TTLForever,
	}
}

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// ITable is a handle to one named table of a durable column-oriented store.
// A handle is not safe for concurrent use; it is leased from a pool, used by a
// single caller and returned.
type ITable interface {
	// Name returns the name of the table this handle is bound to.
	Name() string
	// Get fetches one column of one row. A missing row is not an error.
	Get(g Get) (row Row, err error)
	// MultiGet fetches many rows in a single request. The result has the same
	// length and order as gets. The request is all-or-nothing.
	MultiGet(gets []Get) (rows []Row, err error)
	// Scan opens a forward scanner. The caller must close the scanner.
	Scan(s Scan) (scanner IScanner, err error)
	// Put writes one cell. With auto-flush disabled the write is buffered until Flush.
	Put(p Put) (err error)
	// MultiPut writes many cells. With auto-flush disabled the writes are buffered until Flush.
	MultiPut(puts []Put) (err error)
	// Delete removes one row.
	Delete(d Delete) (err error)
	// MultiDelete removes many rows in a single request.
	MultiDelete(deletes []Delete) (err error)
	// SetAutoFlush toggles whether writes are sent immediately (default true).
	SetAutoFlush(enabled bool)
	// Flush sends all buffered writes and waits for them to be applied.
	Flush() (err error)
	// Close releases the handle and any connection it holds. Buffered writes are discarded.
	Close() (err error)
}

// IScanner streams rows of a scan, fetching them from the store in batches.
type IScanner interface {
	// Next returns the next row. ok is false once the scan is exhausted.
	Next() (row Row, ok bool, err error)
	// Close releases the scanner.
	Close() (err error)
}

// IConnector opens table handles. Opening a handle may open a physical connection.
type IConnector interface {
	OpenTable(name string) (ITable, error)
}

// IAdmin performs administrative (non steady-state) calls.
type IAdmin interface {
	// TableExists reports whether the table exists.
	TableExists(name string) (ok bool, err error)
	// CreateTable creates the table with the given column families.
	CreateTable(desc TableDescriptor) (err error)
	// Close releases the admin handle.
	Close() (err error)
}

// IBackend bundles everything needed to talk to one durable store deployment.
type IBackend interface {
	IConnector
	// Admin opens an admin handle. The caller must close it.
	Admin() (IAdmin, error)
	// Name returns a short backend name used in logs (e.g. "memory", "dynamodb").
	Name() string
	// SupportsFeature reports whether the backend supports an optional feature.
	SupportsFeature(feature Feature) bool
	// Close releases the backend and all of its shared resources.
	Close() error
}

// Feature names optional backend behavior.
type Feature uint8

const (
	FeatureOrderedScan Feature = iota // Scans return rows in byte order of their key and honor Scan.StartRow
	FeatureCompression                // Column family compression is applied
)

// BackendFactory creates a backend. It is used by the server to defer backend
// creation until the configuration is complete.
type BackendFactory func() (IBackend, error)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrTableNotFound is returned when a handle is opened for a table that does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrTableExists is returned when CreateTable is called for an existing table.
	ErrTableExists = errors.New("table already exists")
	// ErrClosed is returned by operations on a closed handle or backend.
	ErrClosed = errors.New("table handle is closed")
)

// NotFound wraps ErrTableNotFound with the table name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrTableNotFound, name)
}
