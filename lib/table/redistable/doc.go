// Package redistable implements table.IBackend on top of Redis (go-redis v9).
//
// A table is a set of Redis keys sharing a prefix: a meta hash that marks the
// table as existing, one hash per row holding a field per family:qualifier, and
// a sorted set indexing all row keys. All index members have score 0, so
// ZRANGEBYLEX walks them in byte order and scans behave like scans over a
// sorted column store (including Scan.StartRow).
//
// Every table handle pins one connection of the go-redis pool until it is
// closed. Batched writes and deletes are sent as MULTI/EXEC transactions, batched
// reads as pipelines.
package redistable
