// Package dynamotable implements table.IBackend on top of Amazon DynamoDB
// (AWS SDK for Go v2).
//
// Every logical table maps to one on-demand DynamoDB table (optionally with a
// name prefix). The binary row key is the partition key attribute "row", and
// each column is stored as a binary attribute named family:qualifier.
//
// The package focuses on:
//   - Batching: MultiGet uses BatchGetItem (100 keys), MultiDelete uses
//     BatchWriteItem (25 keys), both retry unprocessed keys with backoff
//   - Atomic batches: MultiPut groups puts by row and sends them as
//     TransactWriteItems of at most 100 rows
//   - Streaming scans via the SDK scan paginator, one request per page
//   - Table management: DescribeTable for existence checks and CreateTable
//     followed by the table-exists waiter
//
// DynamoDB scans are unordered, so the backend does not report
// table.FeatureOrderedScan and ignores Scan.StartRow. Column family storage
// policies (compression, block size) have no DynamoDB equivalent and are ignored.
package dynamotable
