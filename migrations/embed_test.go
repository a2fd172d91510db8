package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationSets(t *testing.T) {
	tests := []struct {
		dir   string
		file  string
		table string
	}{
		{Local, "001_app_state.sql", "CREATE TABLE app_state"},
		{Remote, "001_entities.sql", "CREATE TABLE entities"},
		{Remote, "002_devices.sql", "CREATE TABLE devices"},
	}

	for _, tt := range tests {
		t.Run(tt.dir+"/"+tt.file, func(t *testing.T) {
			content, err := FS.ReadFile(tt.dir + "/" + tt.file)
			if err != nil {
				t.Fatalf("failed to read migration file: %v", err)
			}

			s := string(content)
			if !strings.Contains(s, "-- +goose Up") {
				t.Error("migration missing '-- +goose Up' directive")
			}
			if !strings.Contains(s, "-- +goose Down") {
				t.Error("migration missing '-- +goose Down' directive")
			}
			if !strings.Contains(s, tt.table) {
				t.Errorf("migration missing %q", tt.table)
			}
		})
	}
}
