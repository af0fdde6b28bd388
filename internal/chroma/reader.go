// Package chroma reads memory records straight out of ChromaDB's internal
// SQLite schema (chroma.sqlite3). The chromadb client library is not
// involved: collections, segments and per-attribute metadata rows are
// resolved with plain SQL, which keeps the migration free of the source's
// dependency tree. All access is read-only.
package chroma

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// documentKey is the reserved metadata key Chroma uses for the canonical
// document text of a record.
const documentKey = "chroma:document"

// RawRecord is one record recovered from a Chroma collection: the external
// id, the document text, and a flat metadata mapping. Metadata values are
// string, int64 or float64 depending on which value column was populated.
type RawRecord struct {
	ID       string
	Document string
	Metadata map[string]any
}

// Reader is a read-only handle on a Chroma data directory.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens the chroma.sqlite3 file inside dir. The file must already
// exist; a missing file is a fatal condition for the caller, not something
// to silently create.
func Open(dir string) (*Reader, error) {
	path := filepath.Join(dir, "chroma.sqlite3")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chroma.sqlite3 not found in %s", dir)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", path, err)
	}

	return &Reader{db: db, path: path}, nil
}

// Path returns the path of the underlying chroma.sqlite3 file.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the underlying database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}

// ListCollections returns the names of all collections in creation order,
// the order the source itself reports them in.
func (r *Reader) ListCollections() ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM collections ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// metadataSegment resolves the METADATA segment id of the named collection.
// Records live there; the VECTOR segment only holds the old embeddings,
// which get recomputed anyway. ok is false when the collection or segment
// is absent.
func (r *Reader) metadataSegment(name string) (segmentID string, ok bool, err error) {
	var collectionID string
	err = r.db.QueryRow(`SELECT id FROM collections WHERE name = ?`, name).Scan(&collectionID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve collection %q: %w", name, err)
	}

	err = r.db.QueryRow(
		`SELECT id FROM segments WHERE collection = ? AND scope = 'METADATA'`,
		collectionID,
	).Scan(&segmentID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve metadata segment for %q: %w", name, err)
	}
	return segmentID, true, nil
}

// CountCollection returns the number of records in the named collection
// without reading any metadata. Absent collections count zero.
func (r *Reader) CountCollection(name string) (int, error) {
	segmentID, ok, err := r.metadataSegment(name)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	err = r.db.QueryRow(
		`SELECT COUNT(*) FROM embeddings WHERE segment_id = ?`,
		segmentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records of %q: %w", name, err)
	}
	return n, nil
}

// ReadCollection returns all records of the named collection. An absent
// collection or metadata segment yields an empty result, not an error —
// "nothing to migrate" is a normal outcome.
func (r *Reader) ReadCollection(name string) ([]RawRecord, error) {
	segmentID, ok, err := r.metadataSegment(name)
	if err != nil || !ok {
		return nil, err
	}

	rows, err := r.db.Query(
		`SELECT id, embedding_id FROM embeddings WHERE segment_id = ?`,
		segmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate embeddings for %q: %w", name, err)
	}
	defer rows.Close()

	type embRow struct {
		rowID       int64
		embeddingID string
	}
	var embs []embRow
	for rows.Next() {
		var e embRow
		if err := rows.Scan(&e.rowID, &e.embeddingID); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		embs = append(embs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]RawRecord, 0, len(embs))
	for _, e := range embs {
		doc, meta, err := r.readMetadata(e.rowID)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata for %s: %w", e.embeddingID, err)
		}
		records = append(records, RawRecord{
			ID:       e.embeddingID,
			Document: doc,
			Metadata: meta,
		})
	}
	return records, nil
}

// readMetadata gathers the row-per-attribute metadata of one internal row id
// into a flat map. For each key the first non-null of string/int/float wins;
// the reserved document key is split out of the generic mapping.
func (r *Reader) readMetadata(rowID int64) (string, map[string]any, error) {
	rows, err := r.db.Query(
		`SELECT key, string_value, int_value, float_value
		 FROM embedding_metadata WHERE id = ?`,
		rowID,
	)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var document string
	meta := make(map[string]any)
	for rows.Next() {
		var key string
		var strVal sql.NullString
		var intVal sql.NullInt64
		var floatVal sql.NullFloat64
		if err := rows.Scan(&key, &strVal, &intVal, &floatVal); err != nil {
			return "", nil, err
		}

		switch {
		case key == documentKey:
			if strVal.Valid {
				document = strVal.String
			}
		case strVal.Valid:
			meta[key] = strVal.String
		case intVal.Valid:
			meta[key] = intVal.Int64
		case floatVal.Valid:
			meta[key] = floatVal.Float64
		}
	}
	return document, meta, rows.Err()
}
