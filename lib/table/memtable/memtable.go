package memtable

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("table")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	btreeDegree    = 32  // Degree of the row b-tree
	defaultCaching = 100 // Rows per scan batch if the scan does not specify one
)

// --------------------------------------------------------------------------
// Core Structures
// --------------------------------------------------------------------------

// memRow is one row of a table, ordered by key inside the b-tree.
type memRow struct {
	key   []byte
	cells map[table.Column][]byte
}

func lessRow(a, b *memRow) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// memTable holds the rows of one table.
type memTable struct {
	mu       sync.RWMutex
	desc     table.TableDescriptor
	families map[string]struct{}
	rows     *btree.BTreeG[*memRow]
}

func newMemTable(desc table.TableDescriptor) *memTable {
	families := make(map[string]struct{}, len(desc.Families))
	for _, f := range desc.Families {
		families[f.Name] = struct{}{}
	}
	return &memTable{
		desc:     desc,
		families: families,
		rows:     btree.NewG[*memRow](btreeDegree, lessRow),
	}
}

// DB is an ordered, in-memory column store. It implements table.IBackend.
// Every request that would be a round trip against a real store increments a
// request counter, which tests use to verify that no store work was done.
type DB struct {
	mu       sync.RWMutex
	tables   map[string]*memTable
	closed   bool
	requests atomic.Uint64
}

// New creates an empty in-memory store.
func New() *DB {
	return &DB{tables: make(map[string]*memTable)}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see table.IBackend)
// --------------------------------------------------------------------------

func (d *DB) Name() string {
	return "memory"
}

func (d *DB) SupportsFeature(feature table.Feature) bool {
	return feature == table.FeatureOrderedScan
}

func (d *DB) OpenTable(name string) (table.ITable, error) {
	t, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	h := &handle{db: d, t: t, name: name}
	h.buf = table.NewWriteBuffer(h.apply)
	return h, nil
}

func (d *DB) Admin() (table.IAdmin, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, table.ErrClosed
	}
	return &admin{db: d}, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Requests returns the number of store requests served so far.
func (d *DB) Requests() uint64 {
	return d.requests.Load()
}

// Tables returns the names of all tables.
func (d *DB) Tables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	return names
}

// lookup returns the table with the given name.
func (d *DB) lookup(name string) (*memTable, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, table.ErrClosed
	}
	t, ok := d.tables[name]
	if !ok {
		return nil, table.NotFound(name)
	}
	return t, nil
}

// --------------------------------------------------------------------------
// Admin
// --------------------------------------------------------------------------

type admin struct {
	db *DB
}

func (a *admin) TableExists(name string) (bool, error) {
	a.db.requests.Add(1)
	_, err := a.db.lookup(name)
	if err == nil {
		return true, nil
	}
	if err == table.ErrClosed {
		return false, err
	}
	return false, nil
}

func (a *admin) CreateTable(desc table.TableDescriptor) error {
	a.db.requests.Add(1)
	if desc.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(desc.Families) == 0 {
		return fmt.Errorf("table %s needs at least one column family", desc.Name)
	}

	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	if a.db.closed {
		return table.ErrClosed
	}
	if _, ok := a.db.tables[desc.Name]; ok {
		return fmt.Errorf("%w: %s", table.ErrTableExists, desc.Name)
	}
	a.db.tables[desc.Name] = newMemTable(desc)
	log.Infof("created table %s with %d column families", desc.Name, len(desc.Families))
	return nil
}

func (a *admin) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Table Handle
// --------------------------------------------------------------------------

type handle struct {
	db     *DB
	t      *memTable
	name   string
	buf    *table.WriteBuffer
	closed bool
}

func (h *handle) Name() string {
	return h.name
}

func (h *handle) Get(g table.Get) (table.Row, error) {
	if h.closed {
		return table.Row{}, table.ErrClosed
	}
	h.db.requests.Add(1)

	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	return h.t.get(g), nil
}

func (h *handle) MultiGet(gets []table.Get) ([]table.Row, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	h.db.requests.Add(1)

	h.t.mu.RLock()
	defer h.t.mu.RUnlock()
	rows := make([]table.Row, len(gets))
	for i, g := range gets {
		rows[i] = h.t.get(g)
	}
	return rows, nil
}

func (h *handle) Scan(s table.Scan) (table.IScanner, error) {
	if h.closed {
		return nil, table.ErrClosed
	}
	caching := s.Caching
	if caching <= 0 {
		caching = defaultCaching
	}
	return &scanner{h: h, column: s.Column, next: s.StartRow, caching: caching}, nil
}

func (h *handle) Put(p table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(p)
}

func (h *handle) MultiPut(puts []table.Put) error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Add(puts...)
}

func (h *handle) Delete(d table.Delete) error {
	return h.MultiDelete([]table.Delete{d})
}

func (h *handle) MultiDelete(deletes []table.Delete) error {
	if h.closed {
		return table.ErrClosed
	}
	h.db.requests.Add(1)

	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	for _, d := range deletes {
		h.t.rows.Delete(&memRow{key: d.Row})
	}
	return nil
}

func (h *handle) SetAutoFlush(enabled bool) {
	h.buf.SetAutoFlush(enabled)
}

func (h *handle) Flush() error {
	if h.closed {
		return table.ErrClosed
	}
	return h.buf.Flush()
}

func (h *handle) Close() error {
	h.buf.Discard()
	h.closed = true
	return nil
}

// apply writes a batch of puts in one request. Puts to unknown column families
// are rejected before anything is written.
func (h *handle) apply(puts []table.Put) error {
	h.db.requests.Add(1)

	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	for _, p := range puts {
		if _, ok := h.t.families[p.Column.Family]; !ok {
			return fmt.Errorf("table %s: no such column family %q", h.name, p.Column.Family)
		}
	}
	for _, p := range puts {
		h.t.put(p)
	}
	return nil
}

// --------------------------------------------------------------------------
// Row Helpers (caller holds the table lock)
// --------------------------------------------------------------------------

func (t *memTable) get(g table.Get) table.Row {
	row := table.Row{Key: cloneBytes(g.Row)}
	r, ok := t.rows.Get(&memRow{key: g.Row})
	if !ok {
		return row
	}
	if v, ok := r.cells[g.Column]; ok {
		row.Value = cloneBytes(v)
	}
	return row
}

func (t *memTable) put(p table.Put) {
	r, ok := t.rows.Get(&memRow{key: p.Row})
	if !ok {
		r = &memRow{key: cloneBytes(p.Row), cells: make(map[table.Column][]byte, 1)}
		t.rows.ReplaceOrInsert(r)
	}
	value := cloneBytes(p.Value)
	if value == nil {
		value = []byte{}
	}
	r.cells[p.Column] = value
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// --------------------------------------------------------------------------
// Scanner
// --------------------------------------------------------------------------

// scanner fetches rows in batches of size caching, each batch is one request.
type scanner struct {
	h       *handle
	column  table.Column
	next    []byte // first key of the next batch (inclusive)
	started bool
	done    bool
	batch   []table.Row
	pos     int
	caching int
}

func (s *scanner) Next() (table.Row, bool, error) {
	if s.pos < len(s.batch) {
		row := s.batch[s.pos]
		s.pos++
		return row, true, nil
	}
	if s.done {
		return table.Row{}, false, nil
	}
	if s.h.closed {
		return table.Row{}, false, table.ErrClosed
	}
	s.fetch()
	if len(s.batch) == 0 {
		s.done = true
		return table.Row{}, false, nil
	}
	row := s.batch[0]
	s.pos = 1
	return row, true, nil
}

func (s *scanner) fetch() {
	s.h.db.requests.Add(1)
	s.batch = s.batch[:0]
	s.pos = 0

	t := s.h.t
	t.mu.RLock()
	defer t.mu.RUnlock()

	visit := func(r *memRow) bool {
		// skip the last row of the previous batch
		if s.started && bytes.Equal(r.key, s.next) {
			return true
		}
		v, ok := r.cells[s.column]
		if !ok {
			return true
		}
		s.batch = append(s.batch, table.Row{Key: cloneBytes(r.key), Value: cloneBytes(v)})
		return len(s.batch) < s.caching
	}

	if s.next == nil {
		t.rows.Ascend(visit)
	} else {
		t.rows.AscendGreaterOrEqual(&memRow{key: s.next}, visit)
	}

	if len(s.batch) < s.caching {
		s.done = true
	}
	if len(s.batch) > 0 {
		s.next = s.batch[len(s.batch)-1].Key
		s.started = true
	}
}

func (s *scanner) Close() error {
	s.done = true
	s.batch = nil
	return nil
}
