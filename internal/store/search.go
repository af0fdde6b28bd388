package store

import (
	"fmt"
	"math"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/ymiyake/kioku/internal/logging"
	"github.com/ymiyake/kioku/internal/vector"
)

// SearchResult pairs a memory with its cosine similarity to the query.
type SearchResult struct {
	Memory *Memory
	Score  float64
}

// EnsureVecIndex creates the memory_vec vec0 virtual table and backfills it
// from the embeddings blobs. The embeddings table remains the source of
// truth; memory_vec is an acceleration layer only. No-op when sqlite-vec is
// unavailable or no embeddings exist yet.
//
// Schema uses integer rowid (from the memories table) + auxiliary +memory_id
// column, avoiding vec0's TEXT PRIMARY KEY partitioning behaviour which
// breaks KNN queries.
func (s *DB) EnsureVecIndex() error {
	if !s.vecAvailable {
		return nil
	}

	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM embeddings LIMIT 1`).Scan(&blob)
	if err != nil {
		return nil // no embeddings yet
	}
	dim := len(blob) / 4
	if dim == 0 {
		return nil
	}
	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 && s.vecDim != dim {
		return fmt.Errorf("embedding dim %d doesn't match vec index dim %d", dim, s.vecDim)
	}

	_, err = s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
			embedding float[%d],
			+memory_id TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create memory_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim

	rows, err := s.db.Query(`
		SELECT m.rowid, e.memory_id, e.vector
		FROM embeddings e JOIN memories m ON m.id = e.memory_id
	`)
	if err != nil {
		return fmt.Errorf("failed to read embeddings for backfill: %w", err)
	}
	defer rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin backfill transaction: %w", err)
	}

	var count int
	for rows.Next() {
		var rowid int64
		var id string
		var blob []byte
		if err := rows.Scan(&rowid, &id, &blob); err != nil {
			continue
		}
		vec, err := vector.Decode(blob)
		if err != nil || len(vec) != dim {
			continue
		}
		serialized, err := sqlite_vec.SerializeFloat32(vec)
		if err != nil {
			continue
		}
		// vec0 does not reliably support INSERT OR REPLACE; use DELETE + INSERT.
		tx.Exec(`DELETE FROM memory_vec WHERE rowid = ?`, rowid)
		if _, err := tx.Exec(
			`INSERT INTO memory_vec(rowid, embedding, memory_id) VALUES (?, ?, ?)`,
			rowid, serialized, id,
		); err != nil {
			logging.Warn("store", "vec backfill failed for %s: %v", id, err)
			continue
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit backfill: %w", err)
	}
	if count > 0 {
		logging.Info("store", "vec index: %d memories (dim=%d)", count, dim)
	}
	return nil
}

// SearchSimilar returns the memories closest to the query vector, best
// first. Uses the vec0 KNN index when built, otherwise a full cosine scan
// over the embeddings table.
func (s *DB) SearchSimilar(query []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.vecAvailable && s.vecDim == len(query) && s.vecDim > 0 {
		results, err := s.searchVec(query, limit)
		if err == nil {
			return results, nil
		}
		logging.Warn("store", "vec search failed, falling back to full scan: %v", err)
	}
	return s.searchScan(query, limit)
}

func (s *DB) searchVec(query []float32, limit int) ([]SearchResult, error) {
	serialized, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT memory_id, distance FROM memory_vec
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serialized, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		m, err := s.GetMemory(id)
		if err != nil || m == nil {
			continue
		}
		// Embeddings are unit-normalized, so L2 distance maps to cosine
		// similarity: sim = 1 - L2²/2.
		results = append(results, SearchResult{Memory: m, Score: 1.0 - (dist*dist)/2.0})
	}
	return results, rows.Err()
}

func (s *DB) searchScan(query []float32, limit int) ([]SearchResult, error) {
	rows, err := s.db.Query(`SELECT memory_id, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{id: id, score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var results []SearchResult
	for i := 0; i < len(candidates) && i < limit; i++ {
		m, err := s.GetMemory(candidates[i].id)
		if err != nil || m == nil {
			continue
		}
		results = append(results, SearchResult{Memory: m, Score: candidates[i].score})
	}
	return results, nil
}

// cosineSimilarity computes similarity between two vectors (-1 to 1).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
