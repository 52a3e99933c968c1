// Package store persists bot identities in a relational database.
//
// A Bot row is keyed by its unique name and carries the platform credential,
// an enabled flag, the optional init presence callback URL and a small set of
// lifecycle timestamps. Rows are never deleted: removing a bot only clears the
// enabled flag so the identity can later be re-enrolled under the same name.
//
// # Drivers
//
// SQLStore runs on MySQL (github.com/go-sql-driver/mysql) in production and on
// SQLite (modernc.org/sqlite) for local development and tests. The schema is
// created on open and uses DDL that both engines accept.
//
// # Token sealing
//
// When a TokenSealer is configured, tokens are encrypted with NaCl secretbox
// before they are written. Rows holding a plain token are still readable, so
// a key can be introduced on an existing database.
//
// # Testing
//
// MockStore provides an in-memory implementation with injectable failures.
package store
