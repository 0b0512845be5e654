// Package stores provides persistence for stackforge.
//
// SQLiteStore implements engine.Repository and lock.Store on a single SQLite
// database with WAL mode and embedded golang-migrate migrations. It is the
// default store of a single host deployment.
//
// Engines sharing stacks across hosts can keep the stack lock in a shared
// backend instead: RedisLockStore (SETNX plus Lua compare-and-swap) or
// PostgresLockStore (pgx connection pool).
package stores
