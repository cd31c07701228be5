// Package database opens and migrates beurerd's SQLite store.
//
// The store holds diagnostics only: unknown-frame observations and the
// command audit trail. Lamp state itself is never persisted; it is
// re-learned from the device on every connect.
//
// WAL mode keeps reads (diagnostics queries) from blocking behind
// writes, the busy timeout absorbs lock contention, and the file is
// chmodded to owner-only. Schema migrations are embedded via the
// migrations package and applied on startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
//
// Migrations are additive: new columns are nullable or defaulted, and
// every version ships both an .up.sql and a .down.sql.
package database
