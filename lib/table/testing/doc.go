// Package testing provides a standardised conformance suite for durable store
// backends that satisfy the table.IBackend interface.
//
// Every test gets a fresh, empty backend from the factory and creates its own
// table, so the suite can run against in-memory stores as well as against
// fakes of remote services. Tests for optional behavior (like ordered scans)
// are skipped if the backend does not report the matching table.Feature.
//
// Example usage:
//
//	tabletesting.RunTableTests(t, "MyBackend", func(t *testing.T) table.IBackend {
//		return NewMyBackend()
//	})
package testing
