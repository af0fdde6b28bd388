package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// newChromaFixture creates a chroma.sqlite3 with the subset of Chroma's
// internal schema the reader touches, and returns the directory holding it.
func newChromaFixture(t *testing.T) (string, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "chroma.sqlite3"))
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE collections (id TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE segments (id TEXT PRIMARY KEY, collection TEXT NOT NULL, scope TEXT NOT NULL);
	CREATE TABLE embeddings (id INTEGER PRIMARY KEY, segment_id TEXT NOT NULL, embedding_id TEXT NOT NULL);
	CREATE TABLE embedding_metadata (id INTEGER NOT NULL, key TEXT NOT NULL,
		string_value TEXT, int_value INTEGER, float_value REAL);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create fixture schema: %v", err)
	}
	return dir, db
}

func addFixtureCollection(t *testing.T, db *sql.DB, id, name, segmentID string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO collections (id, name) VALUES (?, ?)`, id, name); err != nil {
		t.Fatalf("failed to insert collection: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO segments (id, collection, scope) VALUES (?, ?, 'METADATA')`,
		segmentID, id,
	); err != nil {
		t.Fatalf("failed to insert segment: %v", err)
	}
}

func addFixtureRecord(t *testing.T, db *sql.DB, segmentID string, rowID int64, externalID, document string, meta map[string]any) {
	t.Helper()
	if _, err := db.Exec(
		`INSERT INTO embeddings (id, segment_id, embedding_id) VALUES (?, ?, ?)`,
		rowID, segmentID, externalID,
	); err != nil {
		t.Fatalf("failed to insert embedding row: %v", err)
	}
	if document != "" {
		if _, err := db.Exec(
			`INSERT INTO embedding_metadata (id, key, string_value) VALUES (?, 'chroma:document', ?)`,
			rowID, document,
		); err != nil {
			t.Fatalf("failed to insert document row: %v", err)
		}
	}
	for key, val := range meta {
		var err error
		switch v := val.(type) {
		case string:
			_, err = db.Exec(`INSERT INTO embedding_metadata (id, key, string_value) VALUES (?, ?, ?)`, rowID, key, v)
		case int64:
			_, err = db.Exec(`INSERT INTO embedding_metadata (id, key, int_value) VALUES (?, ?, ?)`, rowID, key, v)
		case float64:
			_, err = db.Exec(`INSERT INTO embedding_metadata (id, key, float_value) VALUES (?, ?, ?)`, rowID, key, v)
		default:
			t.Fatalf("unsupported metadata type %T for key %s", val, key)
		}
		if err != nil {
			t.Fatalf("failed to insert metadata row %s: %v", key, err)
		}
	}
}
