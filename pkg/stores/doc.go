// Package stores provides the persistence layer for cloudmoor.
// It includes SQLite-based storage with WAL mode, connection pooling,
// one state row per managed entity, and an append-only operations log.
package stores
