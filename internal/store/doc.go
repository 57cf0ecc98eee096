// Package store persists the set of live token records between process runs.
//
// The contract is snapshot-shaped: LoadAll returns every persisted record
// grouped by funding source in admission order, SaveAll atomically replaces
// the whole persisted set. There are no incremental writes; the write volume
// is one snapshot per admission or resolution.
//
// Two implementations are provided:
//   - Store (Open): SQLite with WAL; SaveAll deletes and re-inserts all rows
//     inside a single transaction.
//   - FileStore (OpenFile): a JSON document written to a temp file in the same
//     directory, fsynced, then renamed over the target.
//
// Both return an empty Snapshot when nothing has been persisted yet.
// Neither supports concurrent writers; the engine is the only writer.
package store
