package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/table"
)

// BackendFactory creates a new, empty backend for a single test.
type BackendFactory func(t *testing.T) table.IBackend

const testTable = "conformance"

var testColumn = table.Column{Family: "data", Qualifier: "json"}

// RunTableTests runs a comprehensive test suite for a table.IBackend implementation.
func RunTableTests(t *testing.T, name string, factory BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Admin", func(t *testing.T) {
			testAdmin(t, factory(t))
		})

		t.Run("OpenMissingTable", func(t *testing.T) {
			testOpenMissingTable(t, factory(t))
		})

		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("MultiGet", func(t *testing.T) {
			testMultiGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("BufferedWrites", func(t *testing.T) {
			testBufferedWrites(t, factory(t))
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory(t))
		})

		t.Run("OrderedScan", func(t *testing.T) {
			testOrderedScan(t, factory(t))
		})

		t.Run("BinaryRowKeys", func(t *testing.T) {
			testBinaryRowKeys(t, factory(t))
		})

		t.Run("ClosedHandle", func(t *testing.T) {
			testClosedHandle(t, factory(t))
		})

		t.Run("ConcurrentHandles", func(t *testing.T) {
			testConcurrentHandles(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the backend supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, backend table.IBackend, feature table.Feature) {
	if !backend.SupportsFeature(feature) {
		t.Skip()
	}
}

// createTable creates the test table with the default column family.
func createTable(t testing.TB, backend table.IBackend) {
	t.Helper()
	admin, err := backend.Admin()
	if err != nil {
		t.Fatalf("Admin failed: %v", err)
	}
	defer admin.Close()

	desc := table.TableDescriptor{
		Name:     testTable,
		Families: []table.FamilyDescriptor{table.DefaultFamily(testColumn.Family)},
	}
	if err := admin.CreateTable(desc); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
}

// openTable creates the test table and opens a handle to it.
func openTable(t testing.TB, backend table.IBackend) table.ITable {
	t.Helper()
	createTable(t, backend)
	h, err := backend.OpenTable(testTable)
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	return h
}

func put(t testing.TB, h table.ITable, row, value string) {
	t.Helper()
	if err := h.Put(table.Put{Row: []byte(row), Column: testColumn, Value: []byte(value)}); err != nil {
		t.Fatalf("Put(%q) failed: %v", row, err)
	}
}

func get(t testing.TB, h table.ITable, row string) table.Row {
	t.Helper()
	r, err := h.Get(table.Get{Row: []byte(row), Column: testColumn})
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", row, err)
	}
	return r
}

// scanAll drains a scan and returns the row keys and values in scan order.
func scanAll(t testing.TB, h table.ITable, s table.Scan) ([]string, []string) {
	t.Helper()
	scanner, err := h.Scan(s)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	defer scanner.Close()

	var keys, values []string
	for {
		row, ok, err := scanner.Next()
		if err != nil {
			t.Fatalf("Scanner.Next failed: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, string(row.Key))
		values = append(values, string(row.Value))
	}
	return keys, values
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAdmin(t *testing.T, backend table.IBackend) {
	defer backend.Close()

	admin, err := backend.Admin()
	if err != nil {
		t.Fatalf("Admin failed: %v", err)
	}
	defer admin.Close()

	exists, err := admin.TableExists(testTable)
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if exists {
		t.Errorf("Expected table %s not to exist before creation", testTable)
	}

	desc := table.TableDescriptor{
		Name:     testTable,
		Families: []table.FamilyDescriptor{table.DefaultFamily(testColumn.Family)},
	}
	if err := admin.CreateTable(desc); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	exists, err = admin.TableExists(testTable)
	if err != nil {
		t.Fatalf("TableExists failed: %v", err)
	}
	if !exists {
		t.Errorf("Expected table %s to exist after creation", testTable)
	}

	err = admin.CreateTable(desc)
	if !errors.Is(err, table.ErrTableExists) {
		t.Errorf("Expected ErrTableExists when creating a table twice, got %v", err)
	}
}

func testOpenMissingTable(t *testing.T, backend table.IBackend) {
	defer backend.Close()

	_, err := backend.OpenTable("does-not-exist")
	if !errors.Is(err, table.ErrTableNotFound) {
		t.Errorf("Expected ErrTableNotFound, got %v", err)
	}
}

func testPutGet(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	if h.Name() != testTable {
		t.Errorf("Expected handle name %s, got %s", testTable, h.Name())
	}

	put(t, h, "row-1", "value-1")
	if r := get(t, h, "row-1"); string(r.Value) != "value-1" {
		t.Errorf("Expected value-1, got %q", r.Value)
	}

	put(t, h, "row-1", "value-2")
	if r := get(t, h, "row-1"); string(r.Value) != "value-2" {
		t.Errorf("Expected overwritten value value-2, got %q", r.Value)
	}

	r := get(t, h, "missing")
	if !r.Empty() {
		t.Errorf("Expected missing row to be empty, got %q", r.Value)
	}

	// other qualifier of the same family is a different cell
	other := table.Column{Family: testColumn.Family, Qualifier: "other"}
	r, err := h.Get(table.Get{Row: []byte("row-1"), Column: other})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !r.Empty() {
		t.Errorf("Expected empty value for unset qualifier, got %q", r.Value)
	}

	// empty values are values
	put(t, h, "row-empty", "")
	if r := get(t, h, "row-empty"); r.Empty() {
		t.Errorf("Expected empty (but present) value for row-empty")
	}
}

func testMultiGet(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	for i := 0; i < 5; i++ {
		put(t, h, fmt.Sprintf("row-%d", i), fmt.Sprintf("value-%d", i))
	}

	gets := []table.Get{
		{Row: []byte("row-3"), Column: testColumn},
		{Row: []byte("missing"), Column: testColumn},
		{Row: []byte("row-0"), Column: testColumn},
		{Row: []byte("row-4"), Column: testColumn},
	}
	rows, err := h.MultiGet(gets)
	if err != nil {
		t.Fatalf("MultiGet failed: %v", err)
	}
	if len(rows) != len(gets) {
		t.Fatalf("Expected %d rows, got %d", len(gets), len(rows))
	}

	expected := []string{"value-3", "", "value-0", "value-4"}
	for i, row := range rows {
		if !bytes.Equal(row.Key, gets[i].Row) {
			t.Errorf("Row %d: expected key %q, got %q", i, gets[i].Row, row.Key)
		}
		if expected[i] == "" {
			if !row.Empty() {
				t.Errorf("Row %d: expected empty row, got %q", i, row.Value)
			}
			continue
		}
		if string(row.Value) != expected[i] {
			t.Errorf("Row %d: expected %s, got %q", i, expected[i], row.Value)
		}
	}

	rows, err = h.MultiGet(nil)
	if err != nil {
		t.Fatalf("MultiGet(nil) failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no rows for empty MultiGet, got %d", len(rows))
	}
}

func testDelete(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	for i := 0; i < 4; i++ {
		put(t, h, fmt.Sprintf("row-%d", i), "value")
	}

	if err := h.Delete(table.Delete{Row: []byte("row-0")}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if r := get(t, h, "row-0"); !r.Empty() {
		t.Errorf("Expected row-0 to be deleted")
	}

	// deleting a missing row is not an error
	if err := h.Delete(table.Delete{Row: []byte("missing")}); err != nil {
		t.Errorf("Delete of missing row failed: %v", err)
	}

	err := h.MultiDelete([]table.Delete{{Row: []byte("row-1")}, {Row: []byte("row-2")}, {Row: []byte("missing")}})
	if err != nil {
		t.Fatalf("MultiDelete failed: %v", err)
	}
	for _, row := range []string{"row-1", "row-2"} {
		if r := get(t, h, row); !r.Empty() {
			t.Errorf("Expected %s to be deleted", row)
		}
	}
	if r := get(t, h, "row-3"); string(r.Value) != "value" {
		t.Errorf("Expected row-3 to survive MultiDelete, got %q", r.Value)
	}
}

func testBufferedWrites(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	h.SetAutoFlush(false)
	puts := make([]table.Put, 0, 3)
	for i := 0; i < 3; i++ {
		puts = append(puts, table.Put{
			Row:    []byte(fmt.Sprintf("row-%d", i)),
			Column: testColumn,
			Value:  []byte(fmt.Sprintf("value-%d", i)),
		})
	}
	if err := h.MultiPut(puts); err != nil {
		t.Fatalf("MultiPut failed: %v", err)
	}

	if r := get(t, h, "row-0"); !r.Empty() {
		t.Errorf("Expected buffered write to be invisible before Flush")
	}

	if err := h.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		expected := fmt.Sprintf("value-%d", i)
		if r := get(t, h, fmt.Sprintf("row-%d", i)); string(r.Value) != expected {
			t.Errorf("Expected %s after Flush, got %q", expected, r.Value)
		}
	}

	// flushing an empty buffer is a no-op
	if err := h.Flush(); err != nil {
		t.Errorf("Flush of empty buffer failed: %v", err)
	}

	// closing a handle discards unflushed writes
	put(t, h, "discarded", "value")
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	h2, err := backend.OpenTable(testTable)
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	defer h2.Close()
	if r := get(t, h2, "discarded"); !r.Empty() {
		t.Errorf("Expected unflushed write to be discarded on Close")
	}
}

func testScan(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	expected := map[string]string{}
	for i := 0; i < 25; i++ {
		row := fmt.Sprintf("row-%02d", i)
		expected[row] = fmt.Sprintf("value-%d", i)
		put(t, h, row, expected[row])
	}

	// rows without the scanned column are not returned
	other := table.Column{Family: testColumn.Family, Qualifier: "other"}
	if err := h.Put(table.Put{Row: []byte("only-other"), Column: other, Value: []byte("x")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for _, caching := range []int{0, 1, 7, 25, 100} {
		keys, values := scanAll(t, h, table.Scan{Column: testColumn, Caching: caching})
		if len(keys) != len(expected) {
			t.Errorf("caching=%d: expected %d rows, got %d", caching, len(expected), len(keys))
			continue
		}
		seen := map[string]bool{}
		for i, key := range keys {
			if seen[key] {
				t.Errorf("caching=%d: row %s returned twice", caching, key)
			}
			seen[key] = true
			if expected[key] != values[i] {
				t.Errorf("caching=%d: row %s: expected %s, got %s", caching, key, expected[key], values[i])
			}
		}
	}

	// empty table scan
	if err := h.MultiDelete(deletesFor(expected)); err != nil {
		t.Fatalf("MultiDelete failed: %v", err)
	}
	keys, _ := scanAll(t, h, table.Scan{Column: testColumn})
	if len(keys) != 0 {
		t.Errorf("Expected empty scan after deleting all rows, got %v", keys)
	}
}

func testOrderedScan(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	requireFeature(t, backend, table.FeatureOrderedScan)
	h := openTable(t, backend)
	defer h.Close()

	rows := []string{"c", "a", "b", "ab", "ba", "\x00z", "\xffa"}
	for _, row := range rows {
		put(t, h, row, "v-"+row)
	}
	sorted := append([]string(nil), rows...)
	sort.Strings(sorted)

	keys, _ := scanAll(t, h, table.Scan{Column: testColumn, Caching: 2})
	if fmt.Sprint(keys) != fmt.Sprint(sorted) {
		t.Errorf("Expected scan order %q, got %q", sorted, keys)
	}

	keys, _ = scanAll(t, h, table.Scan{Column: testColumn, StartRow: []byte("b"), Caching: 3})
	expected := []string{"b", "ba", "c", "\xffa"}
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected scan from b to return %q, got %q", expected, keys)
	}
}

func testBinaryRowKeys(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)
	defer h.Close()

	keys := [][]byte{
		{0x00, '4', '2'},
		{0x0f, '4', '2'},
		{0xff, 0x00, 0xfe},
		[]byte("42"),
	}
	for i, key := range keys {
		err := h.Put(table.Put{Row: key, Column: testColumn, Value: []byte(fmt.Sprintf("v%d", i))})
		if err != nil {
			t.Fatalf("Put(%x) failed: %v", key, err)
		}
	}
	for i, key := range keys {
		r, err := h.Get(table.Get{Row: key, Column: testColumn})
		if err != nil {
			t.Fatalf("Get(%x) failed: %v", key, err)
		}
		if string(r.Value) != fmt.Sprintf("v%d", i) {
			t.Errorf("Get(%x): expected v%d, got %q", key, i, r.Value)
		}
	}

	scanned, _ := scanAll(t, h, table.Scan{Column: testColumn})
	if len(scanned) != len(keys) {
		t.Fatalf("Expected %d scanned rows, got %d", len(keys), len(scanned))
	}
	found := map[string]bool{}
	for _, key := range scanned {
		found[key] = true
	}
	for _, key := range keys {
		if !found[string(key)] {
			t.Errorf("Row %x missing from scan", key)
		}
	}
}

func testClosedHandle(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	h := openTable(t, backend)

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := h.Get(table.Get{Row: []byte("row"), Column: testColumn}); !errors.Is(err, table.ErrClosed) {
		t.Errorf("Expected ErrClosed from Get on closed handle, got %v", err)
	}
	if err := h.Put(table.Put{Row: []byte("row"), Column: testColumn}); !errors.Is(err, table.ErrClosed) {
		t.Errorf("Expected ErrClosed from Put on closed handle, got %v", err)
	}
}

func testConcurrentHandles(t *testing.T, backend table.IBackend) {
	defer backend.Close()
	createTable(t, backend)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h, err := backend.OpenTable(testTable)
			if err != nil {
				errs <- err
				return
			}
			defer h.Close()
			for i := 0; i < perWorker; i++ {
				row := []byte(fmt.Sprintf("w%d-%d", w, i))
				if err := h.Put(table.Put{Row: row, Column: testColumn, Value: row}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent writer failed: %v", err)
	}

	h, err := backend.OpenTable(testTable)
	if err != nil {
		t.Fatalf("OpenTable failed: %v", err)
	}
	defer h.Close()
	keys, values := scanAll(t, h, table.Scan{Column: testColumn, Caching: 64})
	if len(keys) != workers*perWorker {
		t.Errorf("Expected %d rows, got %d", workers*perWorker, len(keys))
	}
	for i := range keys {
		if keys[i] != values[i] {
			t.Errorf("Row %s has value %s", keys[i], values[i])
		}
	}
}

func deletesFor(rows map[string]string) []table.Delete {
	deletes := make([]table.Delete, 0, len(rows))
	for row := range rows {
		deletes = append(deletes, table.Delete{Row: []byte(row)})
	}
	return deletes
}
