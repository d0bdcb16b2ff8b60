// Package kv provides the durable key-value storage the offline layer is
// built on.
//
// A Store holds string values under string keys and supports prefix scans.
// Backends are explicit values with an Open/Close lifecycle rather than a
// process-wide singleton, so tests and logical sub-stores get isolated
// sandboxes:
//
//   - MemoryStore: in-process map, for tests and ephemeral sessions.
//   - SQLiteStore: on-device durable storage (modernc.org/sqlite).
//   - DynamoStore: a DynamoDB table, for remote/shared backing.
//
// Namespaced wraps any Store so several logical stores can share one backend.
package kv
