// Package database provides SQL connectivity for NodeLink Core.
//
// Two drivers are supported:
//   - SQLite (mattn/go-sqlite3), the default, for single-host deployments
//   - PostgreSQL (lib/pq) for deployments with several service replicas
//
// This package manages:
//   - Connection setup and pooling per driver
//   - Schema migrations, registered per driver by the migrations package
//   - Health checks and lifecycle management
//
// SQLite connections use WAL mode, a busy timeout and IMMEDIATE transactions
// on a single pooled connection, so read-modify-write transactions never
// interleave.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Driver: "sqlite3", Path: "./data/nodelink.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are forward-only and additive:
//   - New columns must be NULLABLE or have DEFAULT values
//   - A change is reverted by a newer .up.sql, never by rolling back
//   - Every migration exists once per dialect with the same version
//
// SchemaStatus reports the newest applied version and anything pending.
package database
