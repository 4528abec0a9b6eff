package migrations

import "testing"

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	found := false
	for _, entry := range entries {
		if entry.Name() == "001_initial_schema.sql" {
			found = true
			break
		}
	}
	if !found {
		t.Error("001_initial_schema.sql not found in embedded FS")
	}
}

func TestEmbeddedFS_MigrationFileReadable(t *testing.T) {
	content, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	s := string(content)
	if len(s) == 0 {
		t.Fatal("migration file is empty")
	}
	for _, marker := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE change_log", "CREATE TABLE positions"} {
		if !contains(s, marker) {
			t.Errorf("migration missing %q", marker)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
