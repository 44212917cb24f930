// Package snapshot persists the last committed gateway documents to SQLite
// so a restarted bridge can serve stale data before its first successful
// gateway exchange.
//
// The store hooks the tedapi cache commit path: every Put is written to the
// documents table, and Restore loads the rows back into a fresh cache with
// their original fetch times, so the TTL still marks them stale.
package snapshot
