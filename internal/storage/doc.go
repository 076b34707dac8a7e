package storage

// Package storage persists the quest catalogue and per-task status.
//
// It currently supports:
//   - Categories, tasks and their status records
//   - Global settings (key/value)
//   - Operator audit log appends
//   - Notifier dedup state (to survive restarts)
