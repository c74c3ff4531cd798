package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

// metadataColumn matches the metadata column definition in a CREATE TABLE.
var metadataColumn = regexp.MustCompile(`(?m)^\s*metadata\s+(\w+)`)

func TestMetadataColumnKeepsKeyOrder(t *testing.T) {
	tests := []struct {
		name     string
		fsys     fs.FS
		dir      string
		wantType string
	}{
		{name: "sqlite", fsys: sqliteFS, dir: "sqlite", wantType: "TEXT"},
		// JSONB would normalise the document and reorder its keys.
		{name: "postgres", fsys: postgresFS, dir: "postgres", wantType: "JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := fs.Glob(tt.fsys, tt.dir+"/*.up.sql")
			if err != nil || len(files) == 0 {
				t.Fatalf("no up migrations in %s: %v", tt.dir, err)
			}

			var found bool
			for _, file := range files {
				body, err := fs.ReadFile(tt.fsys, file)
				if err != nil {
					t.Fatalf("ReadFile(%s) error = %v", file, err)
				}
				m := metadataColumn.FindStringSubmatch(string(body))
				if m == nil {
					continue
				}
				found = true
				if got := strings.ToUpper(m[1]); got != tt.wantType {
					t.Errorf("%s: metadata column type = %s, want %s", file, got, tt.wantType)
				}
			}
			if !found {
				t.Errorf("no metadata column defined in %s migrations", tt.dir)
			}
		})
	}
}
