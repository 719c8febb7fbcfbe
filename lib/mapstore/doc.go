// Package mapstore implements the persistence contract a distributed
// in-memory map uses to page its entries out to durable storage and to load
// them back in (read-through on a miss, write-through on a write, batches for
// warm-up and eviction).
//
// The contract consists of seven operations (IMapStore): Load, LoadAll,
// LoadAllKeys, Delete, DeleteAll, Store and StoreAll, plus Init and Destroy
// (ILifecycle). Two implementations are provided:
//   - Adapter: backed by a durable column-oriented store (table.IBackend)
//   - MemStore: an in-memory fake with the same semantics
//
// Adapter Call Flow:
//
//  1. Keys are encoded into row identifiers by the configured keycodec.Codec.
//     Keys that cannot be encoded are counted as bad keys and skipped; in a
//     batch they never abort the rest of the batch.
//  2. A table handle is leased from the pool. It is released before the call
//     returns, on every path.
//  3. The request is issued: one request per call, batches included.
//  4. Store and delete calls set the health tracker; every call reports its
//     counts to the metrics sink.
//
// Error Handling:
//
//	No operation returns a storage error. Every call returns a Result with a
//	RetCode (RetCSuccess, RetCDisabled, RetCMalformedKey or RetCIOFailure)
//	and the counts of the call. Result.Err converts a failed result into an
//	*Error. Only Init returns errors, and those are fatal.
//
// Configuration:
//
//	The store is configured by a flat property set (see the Prop* constants),
//	read once by Init:
//
//	mapstore.table                 table name (default: map name)
//	mapstore.column.family         column family (default: data)
//	mapstore.column.qualifier      column qualifier (default: json)
//	mapstore.pool.size             handles per table (default: 10)
//	mapstore.pool.acquire.timeout  wait for a free handle (default: 0 = block)
//	mapstore.key.prefix.date       bucketed keys (default: false)
//	mapstore.key.buckets           bucket count (default: 16)
//	mapstore.allow.load            enable Load (default: true)
//	mapstore.allow.load.all        enable LoadAll and LoadAllKeys (default: true)
//	mapstore.allow.delete          enable Delete and DeleteAll (default: true)
//	mapstore.scan.batch            rows per scan round trip (default: 100)
//	mapstore.scan.decode.keys      LoadAllKeys returns logical keys (default: false)
//
// Known Asymmetry:
//
//	With bucketed keys LoadAllKeys returns the row identifiers (bucket byte
//	plus key), which do not round trip through Load or Delete, unless
//	mapstore.scan.decode.keys is set.
package mapstore
