// Package table defines the contract between the map-store adapter and a durable,
// column-oriented key-value store. The store itself (its storage engine, replication
// and schema management) is an external collaborator; this package only describes
// what the adapter needs from it.
//
// The package focuses on:
//   - A per-table handle abstraction (ITable) with single and multi row get, put
//     and delete, forward scans with a column filter and explicit flush control
//   - An administrative interface (IAdmin) used once at startup to make sure the
//     target table and column family exist
//   - A backend bundle (IBackend) that opens handles and admin sessions
//
// Key Components:
//
//   - ITable: A leased handle bound to one table name. Handles are not thread-safe;
//     the pool package hands them out to one caller at a time.
//
//   - IScanner: Streams the rows of a scan in batches so that a full table scan never
//     has to be answered by a single request.
//
//   - WriteBuffer: Shared implementation of the auto-flush switch. Backends embed it
//     so that a batch of puts can be collected and sent with one synchronous Flush.
//
//   - TableDescriptor / FamilyDescriptor: The storage policy used when a table is created.
//     DefaultFamily returns the fixed policy of the map store.
//
// Implementations:
//
//   - memtable: An ordered in-memory store (google/btree), used for development and
//     as the fake store in tests. Supports snapshots to disk.
//     Available in the "github.com/ValentinKolb/dPersist/lib/table/memtable" package.
//
//   - dynamotable: Amazon DynamoDB via aws-sdk-go-v2.
//     Available in the "github.com/ValentinKolb/dPersist/lib/table/dynamotable" package.
//
//   - redistable: Redis via go-redis, one hash per row plus a sorted-set row index.
//     Available in the "github.com/ValentinKolb/dPersist/lib/table/redistable" package.
//
// All implementations are checked against the same conformance suite in
// "github.com/ValentinKolb/dPersist/lib/table/testing".
package table
