// Package storage persists the event list, alert settings, the operator audit
// log and notifier dedup marks.
//
// Drivers:
//   - "file": JSON state snapshot plus JSON Lines audit and dedup journal
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//   - "redis": keys under storage.key_prefix
//   - "memory": process-local, for tests and dry runs
package storage
