// Package storage persists budget ledger buckets.
//
// Three backends are provided: an in-memory backend with per-bucket locks, a
// SQLite backend for single-instance durability, and a Redis backend for
// ledgers shared between instances. All three apply increments atomically per
// bucket, and Reserve checks and applies a multi-period reservation as one
// unit.
package storage
