// Package storage provides event log backends.
//
// MemoryStorage keeps events in a map and suits tests and single-process
// deployments that can lose history on restart. SQLiteStorage persists
// events to a SQLite database with WAL enabled; outcome updates are a
// compare-and-set on the version column.
package storage
