// Package registry persists pipeline items in SQLite and owns their
// lifecycle state machine.
//
// The Store manages database connections, schema migrations, stats queries,
// and the compare-and-set status transitions that implement the public state
// machine: pending → scraped → queued → summarizing → completed, with failed
// and cancelled as the terminal error paths. Every piece of derived status is
// a function of the single status column; there are no independent flag sets
// to fall out of sync.
//
// Treat this package as the single source of truth for item semantics; when
// you add new statuses or fields, add a migration and extend the transition
// table in models.go.
package registry
