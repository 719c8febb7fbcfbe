// Package pool provides a bounded, per-table pool of durable store handles.
//
// A handle is leased with Acquire, used by a single caller and returned with
// Release. Every table name has its own set of at most Capacity handles, which
// are opened lazily through a table.IConnector and reused afterwards. When a
// table's pool is exhausted, Acquire waits for a release (optionally bounded
// by an acquire timeout) instead of opening more handles.
//
// Key Components:
//   - Pool: The registry of per-table pools (an xsync.MapOf)
//   - Handle: A lease of one table.ITable, released exactly once
//   - Stats: Usage counters (acquired, released, created, idle, in use)
//
// Example usage:
//
//	p := pool.New(backend, 10, pool.WithAcquireTimeout(time.Second))
//	h, err := p.Acquire("users")
//	if err != nil {
//		return err
//	}
//	defer p.Release(h)
//	row, err := h.Table().Get(table.Get{Row: key, Column: col})
package pool
