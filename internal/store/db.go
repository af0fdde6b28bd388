// Package store owns the destination SQLite schema of the migrated memory
// store: memories, embeddings, coactivation edges and episodes. All writes
// are insert-or-ignore, so repeated migration runs never duplicate or
// overwrite rows. Reads power the recall surface.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ymiyake/kioku/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// Execer is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting writers run either standalone or inside a stage transaction.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// DB wraps the destination SQLite connection.
type DB struct {
	db           *sql.DB
	path         string
	vecAvailable bool
	vecDim       int // dimension of the memory_vec index (0 = not built)
}

// Open opens or creates the destination database, ensures the schema exists
// and probes for the sqlite-vec extension. Safe to call on every run.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &DB{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logging.Info("store", "sqlite-vec not available: %v — recall falls back to full scan", err)
	} else {
		logging.Debug("store", "sqlite-vec %s loaded", vecVersion)
		s.vecAvailable = true
	}

	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *DB) Path() string {
	return s.path
}

// Begin starts a transaction for one pipeline stage.
func (s *DB) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// Conn exposes the raw handle for package-level writers running outside a
// transaction.
func (s *DB) Conn() *sql.DB {
	return s.db
}

// ensureSchema creates the four tables and their indexes if absent. The
// weight range and the cascade deletes are enforced at the storage layer, so
// a misbehaving writer cannot leave the graph inconsistent.
func (s *DB) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		normalized_content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		emotion TEXT NOT NULL DEFAULT 'neutral',
		importance INTEGER NOT NULL DEFAULT 3,
		category TEXT NOT NULL DEFAULT 'daily',
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT NOT NULL DEFAULT '',
		linked_ids TEXT NOT NULL DEFAULT '',
		episode_id TEXT,
		sensory_data TEXT NOT NULL DEFAULT '',
		camera_position TEXT,
		tags TEXT NOT NULL DEFAULT '',
		links TEXT NOT NULL DEFAULT '',
		novelty_score REAL NOT NULL DEFAULT 0.0,
		prediction_error REAL NOT NULL DEFAULT 0.0,
		activation_count INTEGER NOT NULL DEFAULT 0,
		last_activated TEXT NOT NULL DEFAULT '',
		reading TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_emotion    ON memories(emotion);
	CREATE INDEX IF NOT EXISTS idx_memories_category   ON memories(category);
	CREATE INDEX IF NOT EXISTS idx_memories_timestamp  ON memories(timestamp);
	CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);

	CREATE TABLE IF NOT EXISTS embeddings (
		memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
		vector BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coactivation (
		source_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		weight REAL NOT NULL CHECK(weight >= 0.0 AND weight <= 1.0),
		PRIMARY KEY (source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_coactivation_source ON coactivation(source_id);
	CREATE INDEX IF NOT EXISTS idx_coactivation_target ON coactivation(target_id);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		memory_ids TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL DEFAULT '',
		location_context TEXT,
		summary TEXT NOT NULL DEFAULT '',
		emotion TEXT NOT NULL DEFAULT 'neutral',
		importance INTEGER NOT NULL DEFAULT 3
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Stats returns row counts for all four tables.
func (s *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"memories", "embeddings", "coactivation", "episodes"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
