package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/database"
	"github.com/nerrad567/nodelink-core/internal/node"
)

// writeConfig writes a minimal config.yaml into a temp dir and points
// NODELINK_CONFIG at it.
func writeConfig(t *testing.T, database string, apiPort int) {
	t.Helper()

	content := fmt.Sprintf(`
service:
  id: test-service

database:
%s

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-client"
  qos: 1
  timeouts:
    connect: 1

redis:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d
`, database, apiPort)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("NODELINK_CONFIG", path)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("NODELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_UnsupportedDriver verifies config validation stops start-up.
func TestRun_UnsupportedDriver(t *testing.T) {
	writeConfig(t, `  driver: mysql`, 8080)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unsupported database driver")
	}
}

// TestRun_StartsWithoutBroker verifies the service comes up and shuts down
// cleanly when the MQTT broker is unreachable.
func TestRun_StartsWithoutBroker(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodelink.db")
	writeConfig(t, fmt.Sprintf("  driver: sqlite3\n  path: %q\n  wal_mode: true\n  busy_timeout: 5", dbPath), freePort(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean shutdown", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("NODELINK_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("NODELINK_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestNewRepository verifies the repository follows the database driver.
func TestNewRepository(t *testing.T) {
	if _, ok := newRepository(database.Wrap(nil, config.DriverPostgres)).(*node.PostgresRepository); !ok {
		t.Error("postgres driver should select the PostgreSQL repository")
	}
	if _, ok := newRepository(database.Wrap(nil, config.DriverSQLite)).(*node.SQLiteRepository); !ok {
		t.Error("sqlite3 driver should select the SQLite repository")
	}
}
