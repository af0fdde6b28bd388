package store

import "fmt"

// Coactivation is a directed weighted edge between two memories. Weight is
// expected in [0,1]; the table's CHECK constraint is the last line of
// defense behind the transformer's clamping.
type Coactivation struct {
	SourceID string
	TargetID string
	Weight   float64
}

// InsertCoactivation inserts an edge if the ordered (source, target) pair is
// not already present. Duplicate pairs are silent no-ops. Callers must only
// pass edges whose endpoints exist in memories, or the FK constraint fires.
func InsertCoactivation(e Execer, c Coactivation) error {
	_, err := e.Exec(`
		INSERT OR IGNORE INTO coactivation (source_id, target_id, weight)
		VALUES (?,?,?)
	`, c.SourceID, c.TargetID, c.Weight)
	if err != nil {
		return fmt.Errorf("failed to insert coactivation %s -> %s: %w", c.SourceID, c.TargetID, err)
	}
	return nil
}

// GetCoactivation returns the outgoing edges of a memory, strongest first.
func (s *DB) GetCoactivation(sourceID string) ([]Coactivation, error) {
	rows, err := s.db.Query(`
		SELECT source_id, target_id, weight FROM coactivation
		WHERE source_id = ?
		ORDER BY weight DESC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coactivation for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var edges []Coactivation
	for rows.Next() {
		var c Coactivation
		if err := rows.Scan(&c.SourceID, &c.TargetID, &c.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan coactivation edge: %w", err)
		}
		edges = append(edges, c)
	}
	return edges, rows.Err()
}
