// Package storage persists the scheduler's task and timer history.
//
// It currently supports:
//   - "file": JSON Lines appended to <path>.history.jsonl
//   - "sqlite": a SQLite database (pure Go driver)
package storage
