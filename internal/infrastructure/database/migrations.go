package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
)

// upSuffix marks a migration file. Migrations are forward-only; a schema
// change is undone by a newer migration.
const upSuffix = ".up.sql"

// migrationSource is an embedded set of migration files for one driver.
type migrationSource struct {
	fsys fs.FS
	dir  string
}

var (
	sourcesMu sync.RWMutex
	sources   = map[string]migrationSource{}
)

// RegisterMigrations registers the migration files for a driver.
// The migrations package calls it from init with its embedded SQL, one
// directory per dialect. A later call for the same driver replaces the
// earlier registration, which lets tests substitute their own files.
// A nil fsys removes the registration.
//
//	//go:embed sqlite/*.sql
//	var sqliteFS embed.FS
//
//	func init() {
//	    database.RegisterMigrations(database.DriverSQLite, sqliteFS, "sqlite")
//	}
func RegisterMigrations(driver string, fsys fs.FS, dir string) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	if fsys == nil {
		delete(sources, driver)
		return
	}
	sources[driver] = migrationSource{fsys: fsys, dir: dir}
}

func migrationSourceFor(driver string) (migrationSource, bool) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	src, ok := sources[driver]
	return src, ok
}

// migration is one versioned schema change read from
// YYYYMMDD_HHMMSS_name.up.sql.
type migration struct {
	version string
	name    string
	sql     string
}

// SchemaStatus describes how far the connected database has been migrated.
type SchemaStatus struct {
	// Version is the newest applied migration, empty on a fresh database.
	Version string

	// Applied is the number of applied migrations.
	Applied int

	// Pending lists the versions registered but not yet applied, oldest first.
	Pending []string
}

// migrationPlan splits the registered migrations into applied and pending.
type migrationPlan struct {
	applied []string
	pending []migration
}

// Migrate applies every pending migration for the connection's driver,
// oldest first. Each migration and its schema_migrations row commit in
// one transaction; the first failure stops the run and leaves earlier
// migrations applied, so re-running Migrate resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	plan, err := db.planMigrations(ctx)
	if err != nil {
		return err
	}

	for _, m := range plan.pending {
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaStatus reports the applied and pending migrations.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	plan, err := db.planMigrations(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}

	status := SchemaStatus{Applied: len(plan.applied)}
	if n := len(plan.applied); n > 0 {
		status.Version = plan.applied[n-1]
	}
	for _, m := range plan.pending {
		status.Pending = append(status.Pending, m.version)
	}
	return status, nil
}

func (db *DB) planMigrations(ctx context.Context) (migrationPlan, error) {
	if err := db.ensureMigrationLedger(ctx); err != nil {
		return migrationPlan{}, fmt.Errorf("creating migrations table: %w", err)
	}

	available, err := readMigrations(db.driver)
	if err != nil {
		return migrationPlan{}, fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return migrationPlan{}, fmt.Errorf("getting applied migrations: %w", err)
	}

	plan := migrationPlan{applied: applied}
	for _, m := range available {
		if !slices.Contains(applied, m.version) {
			plan.pending = append(plan.pending, m)
		}
	}
	return plan, nil
}

// ensureMigrationLedger creates the schema_migrations table.
func (db *DB) ensureMigrationLedger(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedVersions returns the recorded versions in ascending order.
func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		db.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
		m.version,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// readMigrations loads the up files registered for driver, sorted by
// version. A driver with nothing registered has no migrations.
func readMigrations(driver string) ([]migration, error) {
	src, ok := migrationSourceFor(driver)
	if !ok {
		return nil, nil
	}

	files, err := fs.Glob(src.fsys, path.Join(src.dir, "*"+upSuffix))
	if err != nil {
		return nil, err
	}

	out := make([]migration, 0, len(files))
	for _, file := range files {
		version, name, ok := splitMigrationFilename(path.Base(file))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(src.fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}

	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

// splitMigrationFilename parses "20260118_120000_create_nodes.up.sql" into
// version "20260118_120000" and name "create_nodes". The name part is
// optional.
func splitMigrationFilename(file string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(file, upSuffix)
	if !found {
		return "", "", false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || date == "" {
		return "", "", false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return "", "", false
	}
	return date + "_" + clock, name, true
}
