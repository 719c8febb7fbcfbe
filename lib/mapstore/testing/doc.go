// Package testing provides a standardised conformance suite for map stores
// that satisfy the mapstore.IMapStore interface.
//
// The suite covers the read-through/write-through contract (store then load,
// batch round trips, deletes, key listing), bad-key isolation under bucketed
// keys and the enablement flags. Every test asks the factory for a fresh store
// initialised with the properties the test needs.
//
// Example usage:
//
//	mapstoretesting.RunMapStoreTests(t, "MyStore", func(t *testing.T, props mapstore.Properties) mapstore.IMapStore {
//		s := NewMyStore()
//		if err := s.Init(props, mapstoretesting.MapName); err != nil {
//			t.Fatalf("Init failed: %v", err)
//		}
//		t.Cleanup(s.Destroy)
//		return s
//	})
package testing
