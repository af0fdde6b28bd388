package chroma

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// newFixture creates a chroma.sqlite3 with the subset of Chroma's internal
// schema the reader touches, and returns the directory containing it.
func newFixture(t *testing.T) (string, *sql.DB) {
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

// addRecord inserts a record with its metadata rows under the given segment.
func addRecord(t *testing.T, db *sql.DB, segmentID string, rowID int64, externalID, document string, meta map[string]any) {
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
		case int:
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

func addCollection(t *testing.T, db *sql.DB, id, name, segmentID string) {
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

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without chroma.sqlite3")
	}
}

func TestListCollections(t *testing.T) {
	dir, db := newFixture(t)
	addCollection(t, db, "col-1", "memories_v2", "seg-1")
	addCollection(t, db, "col-2", "episodes", "seg-2")

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	names, err := r.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(names))
	}
	if names[0] != "memories_v2" || names[1] != "episodes" {
		t.Errorf("unexpected collection names: %v", names)
	}
}

func TestListCollectionsCreationOrder(t *testing.T) {
	dir, db := newFixture(t)
	// Deliberately created in reverse alphabetical order: creation order
	// must win, since the first non-episode collection is the one migrated.
	addCollection(t, db, "col-1", "zebra", "seg-1")
	addCollection(t, db, "col-2", "aardvark", "seg-2")

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	names, err := r.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(names) != 2 || names[0] != "zebra" || names[1] != "aardvark" {
		t.Errorf("expected creation order [zebra aardvark], got %v", names)
	}
}

func TestCountCollection(t *testing.T) {
	dir, db := newFixture(t)
	addCollection(t, db, "col-1", "memories_v2", "seg-1")
	addRecord(t, db, "seg-1", 1, "mem-1", "doc one", nil)
	addRecord(t, db, "seg-1", 2, "mem-2", "doc two", nil)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	n, err := r.CountCollection("memories_v2")
	if err != nil {
		t.Fatalf("CountCollection failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}

	absent, err := r.CountCollection("nope")
	if err != nil {
		t.Fatalf("absent collection should not error, got: %v", err)
	}
	if absent != 0 {
		t.Errorf("expected 0 for absent collection, got %d", absent)
	}
}

func TestReadCollection(t *testing.T) {
	dir, db := newFixture(t)
	addCollection(t, db, "col-1", "memories_v2", "seg-1")
	addRecord(t, db, "seg-1", 1, "mem-1", "今日は晴れだった", map[string]any{
		"emotion":    "joy",
		"importance": int64(4),
		"novelty":    0.75,
	})

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	recs, err := r.ReadCollection("memories_v2")
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}

	rec := recs[0]
	if rec.ID != "mem-1" {
		t.Errorf("expected id mem-1, got %s", rec.ID)
	}
	if rec.Document != "今日は晴れだった" {
		t.Errorf("unexpected document: %q", rec.Document)
	}
	// The reserved document key must not leak into the metadata map.
	if _, ok := rec.Metadata["chroma:document"]; ok {
		t.Error("chroma:document should be split out of metadata")
	}
	if rec.Metadata["emotion"] != "joy" {
		t.Errorf("expected emotion joy, got %v", rec.Metadata["emotion"])
	}
	if rec.Metadata["importance"] != int64(4) {
		t.Errorf("expected importance int64(4), got %v (%T)", rec.Metadata["importance"], rec.Metadata["importance"])
	}
	if rec.Metadata["novelty"] != 0.75 {
		t.Errorf("expected novelty 0.75, got %v", rec.Metadata["novelty"])
	}
}

func TestReadCollectionAbsent(t *testing.T) {
	dir, _ := newFixture(t)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	recs, err := r.ReadCollection("nope")
	if err != nil {
		t.Fatalf("absent collection should not error, got: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty result for absent collection, got %d records", len(recs))
	}
}

func TestReadCollectionMissingSegment(t *testing.T) {
	dir, db := newFixture(t)
	// Collection exists but has no METADATA segment.
	if _, err := db.Exec(`INSERT INTO collections (id, name) VALUES ('col-x', 'orphan')`); err != nil {
		t.Fatalf("failed to insert collection: %v", err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	recs, err := r.ReadCollection("orphan")
	if err != nil {
		t.Fatalf("missing segment should not error, got: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty result, got %d records", len(recs))
	}
}
