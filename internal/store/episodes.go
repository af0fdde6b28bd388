package store

import (
	"database/sql"
	"fmt"
)

// Episode is a named, time-bounded grouping of memories. EndTime is nil for
// ongoing episodes. MemoryIDs is a serialized list and is intentionally not
// validated against the memories table (soft reference).
type Episode struct {
	ID              string
	Title           string
	StartTime       string
	EndTime         *string
	MemoryIDs       string
	Participants    string
	LocationContext *string
	Summary         string
	Emotion         string
	Importance      int
}

// InsertEpisode inserts an episode if its id is not already present.
func InsertEpisode(e Execer, ep *Episode) error {
	if ep.ID == "" {
		return fmt.Errorf("episode id is required")
	}

	_, err := e.Exec(`
		INSERT OR IGNORE INTO episodes
			(id, title, start_time, end_time, memory_ids, participants,
			 location_context, summary, emotion, importance)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`,
		ep.ID, ep.Title, ep.StartTime, ep.EndTime, ep.MemoryIDs, ep.Participants,
		ep.LocationContext, ep.Summary, ep.Emotion, ep.Importance,
	)
	if err != nil {
		return fmt.Errorf("failed to insert episode %s: %w", ep.ID, err)
	}
	return nil
}

// ListEpisodes returns episodes ordered by start time, newest first.
func (s *DB) ListEpisodes(limit int) ([]*Episode, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, title, start_time, end_time, memory_ids, participants,
			location_context, summary, emotion, importance
		FROM episodes
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		var ep Episode
		var endTime, locationContext sql.NullString
		err := rows.Scan(
			&ep.ID, &ep.Title, &ep.StartTime, &endTime, &ep.MemoryIDs, &ep.Participants,
			&locationContext, &ep.Summary, &ep.Emotion, &ep.Importance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		if endTime.Valid {
			ep.EndTime = &endTime.String
		}
		if locationContext.Valid {
			ep.LocationContext = &locationContext.String
		}
		episodes = append(episodes, &ep)
	}
	return episodes, rows.Err()
}
