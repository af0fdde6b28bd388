package store

import (
	"database/sql"
	"fmt"
)

// Memory is one durable unit of recollection. Optional fields are pointers:
// nil maps to SQL NULL, never to an empty string.
type Memory struct {
	ID                string
	Content           string
	NormalizedContent string
	Timestamp         string
	Emotion           string
	Importance        int
	Category          string
	AccessCount       int
	LastAccessed      string
	LinkedIDs         string
	EpisodeID         *string
	SensoryData       string
	CameraPosition    *string
	Tags              string
	Links             string
	NoveltyScore      float64
	PredictionError   float64
	ActivationCount   int
	LastActivated     string
	Reading           *string
}

const memoryColumns = `id, content, normalized_content, timestamp,
	emotion, importance, category, access_count, last_accessed,
	linked_ids, episode_id, sensory_data, camera_position,
	tags, links, novelty_score, prediction_error,
	activation_count, last_activated, reading`

// InsertMemory inserts a memory if its id is not already present. An
// existing row wins; reruns are non-destructive.
func InsertMemory(e Execer, m *Memory) error {
	if m.ID == "" {
		return fmt.Errorf("memory id is required")
	}

	_, err := e.Exec(`
		INSERT OR IGNORE INTO memories (`+memoryColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		m.ID, m.Content, m.NormalizedContent, m.Timestamp,
		m.Emotion, m.Importance, m.Category, m.AccessCount, m.LastAccessed,
		m.LinkedIDs, m.EpisodeID, m.SensoryData, m.CameraPosition,
		m.Tags, m.Links, m.NoveltyScore, m.PredictionError,
		m.ActivationCount, m.LastActivated, m.Reading,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory %s: %w", m.ID, err)
	}
	return nil
}

// GetMemory retrieves a memory by id. Returns nil when absent.
func (s *DB) GetMemory(id string) (*Memory, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory %s: %w", id, err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var m Memory
	var episodeID, cameraPosition, reading sql.NullString
	err := r.Scan(
		&m.ID, &m.Content, &m.NormalizedContent, &m.Timestamp,
		&m.Emotion, &m.Importance, &m.Category, &m.AccessCount, &m.LastAccessed,
		&m.LinkedIDs, &episodeID, &m.SensoryData, &cameraPosition,
		&m.Tags, &m.Links, &m.NoveltyScore, &m.PredictionError,
		&m.ActivationCount, &m.LastActivated, &reading,
	)
	if err != nil {
		return nil, err
	}
	if episodeID.Valid {
		m.EpisodeID = &episodeID.String
	}
	if cameraPosition.Valid {
		m.CameraPosition = &cameraPosition.String
	}
	if reading.Valid {
		m.Reading = &reading.String
	}
	return &m, nil
}
