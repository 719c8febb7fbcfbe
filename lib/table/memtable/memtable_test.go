package memtable

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/table"
	tabletesting "github.com/ValentinKolb/dPersist/lib/table/testing"
)

func Test(t *testing.T) {
	tabletesting.RunTableTests(t, "MemTable", func(t *testing.T) table.IBackend {
		return New()
	})
}

var col = table.Column{Family: "data", Qualifier: "json"}

func newTestDB(t *testing.T, tables ...string) *DB {
	t.Helper()
	db := New()
	admin, _ := db.Admin()
	for _, name := range tables {
		desc := table.TableDescriptor{Name: name, Families: []table.FamilyDescriptor{table.DefaultFamily("data")}}
		if err := admin.CreateTable(desc); err != nil {
			t.Fatalf("CreateTable failed: %v", err)
		}
	}
	return db
}

func TestUnknownFamily(t *testing.T) {
	db := newTestDB(t, "users")
	h, _ := db.OpenTable("users")
	defer h.Close()

	err := h.Put(table.Put{Row: []byte("1"), Column: table.Column{Family: "nope", Qualifier: "q"}, Value: []byte("v")})
	if err == nil {
		t.Fatalf("Expected error for unknown column family")
	}

	// a failing batch writes nothing
	h.SetAutoFlush(false)
	_ = h.MultiPut([]table.Put{
		{Row: []byte("1"), Column: col, Value: []byte("v")},
		{Row: []byte("2"), Column: table.Column{Family: "nope"}, Value: []byte("v")},
	})
	if err := h.Flush(); err == nil {
		t.Fatalf("Expected Flush to fail")
	}
	r, _ := h.Get(table.Get{Row: []byte("1"), Column: col})
	if !r.Empty() {
		t.Errorf("Expected no partial write, got %q", r.Value)
	}
}

func TestRequestCounter(t *testing.T) {
	db := newTestDB(t, "users")
	h, _ := db.OpenTable("users")
	defer h.Close()

	before := db.Requests()
	h.SetAutoFlush(false)
	_ = h.Put(table.Put{Row: []byte("1"), Column: col, Value: []byte("a")})
	_ = h.Put(table.Put{Row: []byte("2"), Column: col, Value: []byte("b")})
	if db.Requests() != before {
		t.Errorf("Expected buffered puts to issue no request")
	}
	_ = h.Flush()
	if db.Requests() != before+1 {
		t.Errorf("Expected one request for Flush, got %d", db.Requests()-before)
	}

	before = db.Requests()
	_, _ = h.MultiGet([]table.Get{{Row: []byte("1"), Column: col}, {Row: []byte("2"), Column: col}})
	if db.Requests() != before+1 {
		t.Errorf("Expected one request for MultiGet, got %d", db.Requests()-before)
	}

	// a scan of 2 rows with caching 1 needs 3 round trips (the last one is empty)
	before = db.Requests()
	s, _ := h.Scan(table.Scan{Column: col, Caching: 1})
	for {
		_, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
	}
	_ = s.Close()
	if got := db.Requests() - before; got != 3 {
		t.Errorf("Expected 3 scan requests, got %d", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	db := newTestDB(t, "users")
	h, _ := db.OpenTable("users")
	defer h.Close()

	value := []byte("value")
	_ = h.Put(table.Put{Row: []byte("1"), Column: col, Value: value})
	value[0] = 'X'

	r, _ := h.Get(table.Get{Row: []byte("1"), Column: col})
	if string(r.Value) != "value" {
		t.Errorf("Put should copy the value, got %q", r.Value)
	}
	r.Value[0] = 'Y'
	r, _ = h.Get(table.Get{Row: []byte("1"), Column: col})
	if string(r.Value) != "value" {
		t.Errorf("Get should return a copy, got %q", r.Value)
	}
}

func TestClosedDB(t *testing.T) {
	db := newTestDB(t, "users")
	_ = db.Close()

	if _, err := db.OpenTable("users"); !errors.Is(err, table.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := db.Admin(); !errors.Is(err, table.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	db := newTestDB(t, "users", "orders")
	users, _ := db.OpenTable("users")
	orders, _ := db.OpenTable("orders")
	_ = users.Put(table.Put{Row: []byte{0x01, '1'}, Column: col, Value: []byte(`{"name":"a"}`)})
	_ = users.Put(table.Put{Row: []byte{0x02, '2'}, Column: col, Value: []byte{}})
	_ = orders.Put(table.Put{Row: []byte("42"), Column: col, Value: []byte("order")})
	_ = users.Close()
	_ = orders.Close()

	var buf bytes.Buffer
	if err := db.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := New()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(restored.Tables()) != 2 {
		t.Fatalf("Expected 2 tables, got %v", restored.Tables())
	}

	h, err := restored.OpenTable("users")
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	r, _ := h.Get(table.Get{Row: []byte{0x01, '1'}, Column: col})
	if string(r.Value) != `{"name":"a"}` {
		t.Errorf("Expected restored value, got %q", r.Value)
	}
	r, _ = h.Get(table.Get{Row: []byte{0x02, '2'}, Column: col})
	if r.Empty() {
		t.Errorf("Expected empty value to survive a snapshot")
	}

	// the column family policy survives too
	restored.mu.RLock()
	desc := restored.tables["users"].desc
	restored.mu.RUnlock()
	if len(desc.Families) != 1 || desc.Families[0] != table.DefaultFamily("data") {
		t.Errorf("Expected default family descriptor, got %+v", desc.Families)
	}
}

func TestLoadInvalid(t *testing.T) {
	db := New()
	if err := db.Load(bytes.NewReader([]byte("nope!"))); err == nil {
		t.Errorf("Expected error for invalid magic number")
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.dpmt")

	empty := New()
	if err := empty.LoadFile(path); err != nil {
		t.Fatalf("LoadFile of missing file should not fail: %v", err)
	}

	db := newTestDB(t, "users")
	h, _ := db.OpenTable("users")
	_ = h.Put(table.Put{Row: []byte("1"), Column: col, Value: []byte("v")})
	if err := db.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	restored := New()
	if err := restored.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	h, _ = restored.OpenTable("users")
	r, _ := h.Get(table.Get{Row: []byte("1"), Column: col})
	if string(r.Value) != "v" {
		t.Errorf("Expected v, got %q", r.Value)
	}
}
