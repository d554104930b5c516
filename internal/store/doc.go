// Package store provides persistent storage for postbox using SQLite.
//
// # Data Models
//
//   - Profile: one row per user, keyed by the canonical platform user ID,
//     holding the user's current mail code. Re-issuing replaces the row.
//   - Mail: append-only delivered messages, keyed by a monotonically
//     increasing integer ID, indexed by recipient.
//
// # Ordering Guarantees
//
// ListMailFor returns a recipient's mail in insertion order (oldest first,
// ascending mail ID). ListProfiles returns profiles ordered by user ID
// ascending. Both orders are stable and covered by tests.
//
// # Duplicate Codes
//
// The profiles table has no UNIQUE constraint on code: the directory layer
// re-draws on collision before assigning, so duplicates only arise in a
// crash window. GetProfileByCode resolves a duplicate deterministically to
// the most recently issued profile.
//
// # SQLite Configuration
//
// The store uses SQLite (modernc.org/sqlite, no cgo) with WAL mode for
// concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Corruption Recovery
//
// On open, the file must pass PRAGMA integrity_check and schema creation.
// A file that fails is moved aside to <path>.corrupt-<timestamp> and an
// empty store is created, logged at Warn. Startup only fails if the fresh
// store cannot be created either.
//
// # Error Handling
//
// ErrNotFound is returned when a profile or code does not exist. All
// methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests with real SQLite.
package store
