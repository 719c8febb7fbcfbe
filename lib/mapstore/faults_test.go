package mapstore

import (
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/ValentinKolb/dPersist/lib/table/memtable"
)

var errInjected = errors.New("injected i/o failure")

// faultyBackend wraps a memtable store and injects I/O failures on demand.
type faultyBackend struct {
	*memtable.DB

	failOps   atomic.Bool  // every table operation fails before reaching the store
	failFlush atomic.Bool  // Flush applies the writes and then fails
	failOpen  atomic.Bool  // opening a handle fails
	scanFail  atomic.Int64 // > 0: scanners fail after this many rows
	failAdmin error
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{DB: memtable.New()}
}

func (b *faultyBackend) OpenTable(name string) (table.ITable, error) {
	if b.failOpen.Load() {
		return nil, errInjected
	}
	t, err := b.DB.OpenTable(name)
	if err != nil {
		return nil, err
	}
	return &faultyTable{ITable: t, b: b}, nil
}

func (b *faultyBackend) Admin() (table.IAdmin, error) {
	if b.failAdmin != nil {
		return nil, b.failAdmin
	}
	return b.DB.Admin()
}

// faultyTable fails the operations of a handle while its backend says so.
type faultyTable struct {
	table.ITable
	b *faultyBackend
}

func (t *faultyTable) fail() error {
	if t.b.failOps.Load() {
		return errInjected
	}
	return nil
}

func (t *faultyTable) Get(g table.Get) (table.Row, error) {
	if err := t.fail(); err != nil {
		return table.Row{}, err
	}
	return t.ITable.Get(g)
}

func (t *faultyTable) MultiGet(gets []table.Get) ([]table.Row, error) {
	if err := t.fail(); err != nil {
		return nil, err
	}
	return t.ITable.MultiGet(gets)
}

func (t *faultyTable) Scan(s table.Scan) (table.IScanner, error) {
	if err := t.fail(); err != nil {
		return nil, err
	}
	sc, err := t.ITable.Scan(s)
	if err != nil {
		return nil, err
	}
	return &faultyScanner{IScanner: sc, failAfter: t.b.scanFail.Load()}, nil
}

func (t *faultyTable) Put(p table.Put) error {
	if err := t.fail(); err != nil {
		return err
	}
	return t.ITable.Put(p)
}

func (t *faultyTable) MultiPut(puts []table.Put) error {
	if err := t.fail(); err != nil {
		return err
	}
	return t.ITable.MultiPut(puts)
}

func (t *faultyTable) Delete(d table.Delete) error {
	if err := t.fail(); err != nil {
		return err
	}
	return t.ITable.Delete(d)
}

func (t *faultyTable) MultiDelete(deletes []table.Delete) error {
	if err := t.fail(); err != nil {
		return err
	}
	return t.ITable.MultiDelete(deletes)
}

func (t *faultyTable) Flush() error {
	if err := t.fail(); err != nil {
		return err
	}
	if err := t.ITable.Flush(); err != nil {
		return err
	}
	if t.b.failFlush.Load() {
		return errInjected
	}
	return nil
}

// faultyScanner fails once failAfter rows were returned (never if failAfter <= 0).
type faultyScanner struct {
	table.IScanner
	failAfter int64
	returned  int64
}

func (s *faultyScanner) Next() (table.Row, bool, error) {
	if s.failAfter > 0 && s.returned >= s.failAfter {
		return table.Row{}, false, errInjected
	}
	r, ok, err := s.IScanner.Next()
	if ok {
		s.returned++
	}
	return r, ok, err
}
