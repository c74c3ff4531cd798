// Package migrations embeds SQL migration files into the binary.
//
// Each dialect has its own directory. Importing this package registers
// both sets with the database package, so NodeLink can migrate either
// backend without the SQL files present on the filesystem.
package migrations

import (
	"embed"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

func init() {
	database.RegisterMigrations(database.DriverSQLite, sqliteFS, "sqlite")
	database.RegisterMigrations(database.DriverPostgres, postgresFS, "postgres")
}
