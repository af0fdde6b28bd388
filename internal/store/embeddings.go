package store

import (
	"database/sql"
	"fmt"

	"github.com/ymiyake/kioku/internal/vector"
)

// InsertEmbedding stores the vector of a memory as a fixed-width little-
// endian float32 blob. One vector per memory; an existing row wins.
func InsertEmbedding(e Execer, memoryID string, vec []float32) error {
	if memoryID == "" {
		return fmt.Errorf("memory id is required")
	}
	_, err := e.Exec(`
		INSERT OR IGNORE INTO embeddings (memory_id, vector) VALUES (?,?)
	`, memoryID, vector.Encode(vec))
	if err != nil {
		return fmt.Errorf("failed to insert embedding for %s: %w", memoryID, err)
	}
	return nil
}

// GetEmbedding returns the stored vector of a memory, or nil when absent.
func (s *DB) GetEmbedding(memoryID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM embeddings WHERE memory_id = ?`, memoryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding for %s: %w", memoryID, err)
	}
	return vector.Decode(blob)
}
