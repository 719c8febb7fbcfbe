package testing

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
)

// StoreFactory creates a map store initialised with props for the map
// MapName. The factory is responsible for destroying the store when the test
// ends (t.Cleanup).
type StoreFactory func(t *testing.T, props mapstore.Properties) mapstore.IMapStore

// MapName is the map name the factory must initialise the store with.
const MapName = "conformance"

// RunMapStoreTests runs the behavioral tests every map store implementation has to pass.
func RunMapStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {

		t.Run("Store&Load", func(t *testing.T) {
			s := factory(t, nil)
			expectOK(t, s.Store("k1", "v1"))
			expectValue(t, s, "k1", "v1")

			expectOK(t, s.Store("k1", "v2"))
			expectValue(t, s, "k1", "v2")

			expectOK(t, s.Store("empty", ""))
			expectValue(t, s, "empty", "")
		})

		t.Run("LoadMissing", func(t *testing.T) {
			s := factory(t, nil)
			v, found, res := s.Load("missing")
			expectOK(t, res)
			if found || v != "" {
				t.Errorf("Expected missing key to be absent, got %q", v)
			}
		})

		t.Run("StoreAll&LoadAll", func(t *testing.T) {
			s := factory(t, nil)
			entries := map[string]string{}
			for i := 0; i < 50; i++ {
				entries[fmt.Sprintf("key-%02d", i)] = fmt.Sprintf("value-%d", i)
			}
			res := s.StoreAll(entries)
			expectOK(t, res)
			if res.Attempted != 50 || res.Succeeded != 50 {
				t.Errorf("Expected 50/50 items, got %d/%d", res.Attempted, res.Succeeded)
			}

			keys := append(sortedKeys(entries), "missing-1", "missing-2")
			loaded, res := s.LoadAll(keys)
			expectOK(t, res)
			if len(loaded) != len(entries) {
				t.Fatalf("Expected %d entries, got %d", len(entries), len(loaded))
			}
			for k, v := range entries {
				if loaded[k] != v {
					t.Errorf("Expected %s=%s, got %q", k, v, loaded[k])
				}
			}
			if res.Attempted != len(keys) || res.Succeeded != len(entries) {
				t.Errorf("Expected %d/%d items, got %d/%d", len(keys), len(entries), res.Attempted, res.Succeeded)
			}
		})

		t.Run("LoadAllEmpty", func(t *testing.T) {
			s := factory(t, nil)
			loaded, res := s.LoadAll(nil)
			expectOK(t, res)
			if len(loaded) != 0 {
				t.Errorf("Expected no entries, got %v", loaded)
			}
		})

		t.Run("Delete", func(t *testing.T) {
			s := factory(t, nil)
			expectOK(t, s.Store("k1", "v1"))
			expectOK(t, s.Delete("k1"))
			expectAbsent(t, s, "k1")

			// deleting a missing key is not an error
			expectOK(t, s.Delete("k1"))
		})

		t.Run("DeleteAll", func(t *testing.T) {
			s := factory(t, nil)
			expectOK(t, s.StoreAll(map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}))

			res := s.DeleteAll([]string{"a", "b", "c"})
			expectOK(t, res)
			if res.Attempted != 3 || res.Succeeded != 3 {
				t.Errorf("Expected 3/3 items, got %d/%d", res.Attempted, res.Succeeded)
			}

			loaded, res := s.LoadAll([]string{"a", "b", "c", "d"})
			expectOK(t, res)
			if len(loaded) != 1 || loaded["d"] != "4" {
				t.Errorf("Expected only d to remain, got %v", loaded)
			}
		})

		t.Run("LoadAllKeys", func(t *testing.T) {
			s := factory(t, nil)
			keys, res := s.LoadAllKeys()
			expectOK(t, res)
			if len(keys) != 0 {
				t.Errorf("Expected no keys in an empty map, got %v", keys)
			}

			expectOK(t, s.Store("a", "1"))
			expectOK(t, s.Store("b", "2"))
			expectOK(t, s.Store("c", "3"))
			keys, res = s.LoadAllKeys()
			expectOK(t, res)
			expectKeys(t, keys, "a", "b", "c")
		})

		t.Run("Bucketed", func(t *testing.T) {
			s := factory(t, mapstore.Properties{mapstore.PropPrefixDate: "true"})
			expectOK(t, s.Store("20240101", "first"))
			expectValue(t, s, "20240101", "first")

			res := s.Store("not-a-number", "x")
			if res.Code != mapstore.RetCMalformedKey || res.BadKeys != 1 {
				t.Errorf("Expected malformed key result, got %+v", res)
			}
			if res.Err() == nil {
				t.Error("Expected malformed key result to carry an error")
			}
			if _, _, res := s.Load("not-a-number"); res.Code != mapstore.RetCMalformedKey {
				t.Errorf("Expected malformed key on load, got %+v", res)
			}

			// row identifiers are returned unless decoding is enabled
			keys, res := s.LoadAllKeys()
			expectOK(t, res)
			if len(keys) != 1 || keys[0] == "20240101" {
				t.Errorf("Expected the bucketed row identifier, got %q", keys)
			}
		})

		t.Run("BucketedDecodedKeys", func(t *testing.T) {
			s := factory(t, mapstore.Properties{
				mapstore.PropPrefixDate:     "true",
				mapstore.PropScanDecodeKeys: "true",
			})
			expectOK(t, s.StoreAll(map[string]string{"1": "a", "2": "b", "17": "c"}))
			keys, res := s.LoadAllKeys()
			expectOK(t, res)
			expectKeys(t, keys, "1", "17", "2")
		})

		t.Run("StoreAllIsolatesBadKeys", func(t *testing.T) {
			s := factory(t, mapstore.Properties{mapstore.PropPrefixDate: "true"})
			entries := map[string]string{
				"1001":  "a",
				"1002":  "b",
				"1003":  "c",
				"bad-1": "x",
				"bad-2": "y",
			}
			res := s.StoreAll(entries)
			expectOK(t, res)
			if res.Attempted != 5 || res.Succeeded != 3 || res.BadKeys != 2 {
				t.Errorf("Expected 5 attempted, 3 stored and 2 bad keys, got %+v", res)
			}

			loaded, res := s.LoadAll(sortedKeys(entries))
			if res.Code != mapstore.RetCSuccess || res.BadKeys != 2 {
				t.Errorf("Expected success with 2 bad keys, got %+v", res)
			}
			if len(loaded) != 3 {
				t.Errorf("Expected exactly 3 retrievable entries, got %v", loaded)
			}
		})

		t.Run("DeleteAllIsolatesBadKeys", func(t *testing.T) {
			s := factory(t, mapstore.Properties{mapstore.PropPrefixDate: "true"})
			expectOK(t, s.StoreAll(map[string]string{"1": "a", "2": "b"}))
			res := s.DeleteAll([]string{"1", "bad", "2"})
			expectOK(t, res)
			if res.Attempted != 3 || res.Succeeded != 2 || res.BadKeys != 1 {
				t.Errorf("Expected 3 attempted, 2 deleted and 1 bad key, got %+v", res)
			}
			expectAbsent(t, s, "1")
			expectAbsent(t, s, "2")
		})

		t.Run("Disabled", func(t *testing.T) {
			s := factory(t, mapstore.Properties{
				mapstore.PropAllowLoad:    "false",
				mapstore.PropAllowLoadAll: "false",
				mapstore.PropAllowDelete:  "false",
			})
			expectOK(t, s.Store("k", "v"))

			if v, found, res := s.Load("k"); found || v != "" || res.Code != mapstore.RetCDisabled {
				t.Errorf("Expected disabled load, got %q %v %+v", v, found, res)
			}
			if m, res := s.LoadAll([]string{"k"}); m != nil || res.Code != mapstore.RetCDisabled {
				t.Errorf("Expected disabled loadAll, got %v %+v", m, res)
			}
			if keys, res := s.LoadAllKeys(); keys != nil || res.Code != mapstore.RetCDisabled {
				t.Errorf("Expected disabled loadAllKeys, got %v %+v", keys, res)
			}
			if res := s.Delete("k"); res.Code != mapstore.RetCDisabled || !res.OK() {
				t.Errorf("Expected disabled delete, got %+v", res)
			}
			if res := s.DeleteAll([]string{"k"}); res.Code != mapstore.RetCDisabled {
				t.Errorf("Expected disabled deleteAll, got %+v", res)
			}
		})

		t.Run("Concurrent", func(t *testing.T) {
			s := factory(t, nil)
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						key := fmt.Sprintf("w%d-%d", w, i)
						if res := s.Store(key, key); !res.OK() {
							t.Errorf("Store %s failed: %+v", key, res)
							return
						}
						if v, found, res := s.Load(key); !res.OK() || !found || v != key {
							t.Errorf("Load %s: got %q %v %+v", key, v, found, res)
							return
						}
					}
				}(w)
			}
			wg.Wait()

			keys, res := s.LoadAllKeys()
			expectOK(t, res)
			if len(keys) != 8*50 {
				t.Errorf("Expected %d keys, got %d", 8*50, len(keys))
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func expectOK(t *testing.T, res mapstore.Result) {
	t.Helper()
	if res.Code != mapstore.RetCSuccess {
		t.Fatalf("Expected success, got %+v", res)
	}
}

func expectValue(t *testing.T, s mapstore.IMapStore, key, expected string) {
	t.Helper()
	v, found, res := s.Load(key)
	expectOK(t, res)
	if !found {
		t.Fatalf("Expected key %s to exist", key)
	}
	if v != expected {
		t.Errorf("Expected %s=%q, got %q", key, expected, v)
	}
}

func expectAbsent(t *testing.T, s mapstore.IMapStore, key string) {
	t.Helper()
	v, found, res := s.Load(key)
	expectOK(t, res)
	if found {
		t.Errorf("Expected key %s to be absent, got %q", key, v)
	}
}

func expectKeys(t *testing.T, keys []string, expected ...string) {
	t.Helper()
	got := append([]string(nil), keys...)
	sort.Strings(got)
	sort.Strings(expected)
	if fmt.Sprint(got) != fmt.Sprint(expected) {
		t.Errorf("Expected keys %v, got %v", expected, got)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
