// Package node provides the Node Registry for NodeLink Core.
//
// A node is one networked microcontroller paired with an account. Each
// node carries an opaque metadata document whose devices key lists the
// logical sub-devices (relays, sensors, ...) wired to it. The registry
// owns node persistence and the rule that an account has at most one
// active node at a time.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                          Node Registry                            │
//	│                                                                   │
//	│  ┌────────────────┐   ┌──────────────────────┐   ┌─────────────┐  │
//	│  │    Registry    │──▶│      Repository      │   │  Sub-device │  │
//	│  │ (registry.go)  │   │ repository_sqlite.go │   │    model    │  │
//	│  │                │   │ repository_postgres  │   │(subdevice.go│  │
//	│  │ • node/account │   │                      │   │ metadata.go)│  │
//	│  │   locks        │   │ • active check in tx │   │             │  │
//	│  │ • read-through │   │ • partial unique idx │   │ • pure, no  │  │
//	│  │   Cache        │   │                      │   │   I/O       │  │
//	│  └────────────────┘   └──────────────────────┘   └─────────────┘  │
//	└───────────────────────────────────────────────────────────────────┘
//
// # The active-node rule
//
// Create, Update, Patch and ChangeStatus may leave a node active. Each of
// them checks for another active node of the same account in three
// places: under an in-process lock keyed by account, inside the database
// transaction that performs the write (SQLite immediate transactions,
// PostgreSQL advisory locks), and finally through the partial unique
// index idx_nodes_one_active_per_account. Any of them reports
// ErrActiveNodeExists.
//
// # Usage
//
//	repo := node.NewSQLiteRepository(db.DB)
//	registry := node.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	n, err := registry.Create(ctx, node.Input{AccountID: "acct-1", Name: "Garage"})
//	n, err = registry.AddDevice(ctx, n.ID, "light", "switch")
//	devices, _ := registry.ListDevices(ctx, n.ID)
//
// # Errors
//
// Every domain error returned by this package wraps one of ErrValidation,
// ErrNotFound or ErrConflict; the HTTP layer maps them with errors.Is.
package node
