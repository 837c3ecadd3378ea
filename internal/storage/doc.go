// Package storage persists the history of completed task runs.
//
// Two backends are available:
//   - "file": append-only JSON Lines, compacted when it grows past the
//     retention limit
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
