// Package memtable provides an in-memory implementation of the table.IBackend interface.
//
// Rows of each table are kept in a b-tree ordered by the bytes of their key, so
// scans return rows in the same order a region-sorted column store would. The
// package is used for local development, single-node deployments that can live
// with snapshot durability, and as the store behind the map-store tests.
//
// Key Components:
//   - DB: The store, holding tables and a request counter
//   - handle: A table.ITable bound to one table, with an optional write buffer
//   - scanner: A batched forward scanner (one request per batch)
//   - Save/Load: A binary snapshot format (magic number, version, tables, rows)
//
// Example usage:
//
//	db := memtable.New()
//	admin, _ := db.Admin()
//	_ = admin.CreateTable(table.TableDescriptor{
//		Name:     "users",
//		Families: []table.FamilyDescriptor{table.DefaultFamily("data")},
//	})
//	h, _ := db.OpenTable("users")
//	_ = h.Put(table.Put{Row: []byte("42"), Column: table.Column{Family: "data", Qualifier: "json"}, Value: []byte("{}")})
package memtable
