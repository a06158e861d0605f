package store

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion = %d, want 4", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"events", "graph_nodes", "graph_edges", "candidates", "rule_weights"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, _ := db.SchemaVersion()
	if v != 4 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 4", v)
	}
}
