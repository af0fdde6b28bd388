package migrate

import (
	"encoding/json"
	"strconv"

	"github.com/ymiyake/kioku/internal/chroma"
	"github.com/ymiyake/kioku/internal/normalize"
	"github.com/ymiyake/kioku/internal/store"
)

// transformMemory converts a raw source record into a typed memory row, the
// coactivation triples embedded in its metadata, and the text to embed.
//
// Canonical content is the explicit content field when present, else the
// document text. Normalized content derives from the document; the embedding
// input is the normalized form, falling back to canonical content when
// normalization yields nothing.
func transformMemory(rec chroma.RawRecord) (*store.Memory, []store.Coactivation, string) {
	meta := rec.Metadata
	coacts := extractCoactivation(rec.ID, meta)

	content := metaString(meta, "content", "")
	if content == "" {
		content = rec.Document
	}

	var normalized string
	if rec.Document != "" {
		normalized = normalize.Text(rec.Document)
	}

	embedText := normalized
	if embedText == "" {
		embedText = content
	}

	m := &store.Memory{
		ID:                rec.ID,
		Content:           content,
		NormalizedContent: normalized,
		Timestamp:         metaString(meta, "timestamp", ""),
		Emotion:           metaString(meta, "emotion", "neutral"),
		Importance:        metaInt(meta, "importance", 3),
		Category:          metaString(meta, "category", "daily"),
		AccessCount:       metaInt(meta, "access_count", 0),
		LastAccessed:      metaString(meta, "last_accessed", ""),
		LinkedIDs:         metaString(meta, "linked_ids", ""),
		EpisodeID:         optionalString(meta, "episode_id"),
		SensoryData:       metaString(meta, "sensory_data", ""),
		CameraPosition:    optionalString(meta, "camera_position"),
		Tags:              metaString(meta, "tags", ""),
		Links:             metaString(meta, "links", ""),
		NoveltyScore:      metaFloat(meta, "novelty_score", 0.0),
		PredictionError:   metaFloat(meta, "prediction_error", 0.0),
		ActivationCount:   metaInt(meta, "activation_count", 0),
		LastActivated:     metaString(meta, "last_activated", ""),
		Reading:           optionalString(meta, "reading"),
	}
	return m, coacts, embedText
}

// transformEpisode converts a raw record from the episodes collection. The
// document text is the episode summary.
func transformEpisode(rec chroma.RawRecord) *store.Episode {
	meta := rec.Metadata
	return &store.Episode{
		ID:              rec.ID,
		Title:           metaString(meta, "title", ""),
		StartTime:       metaString(meta, "start_time", ""),
		EndTime:         optionalString(meta, "end_time"),
		MemoryIDs:       metaString(meta, "memory_ids", ""),
		Participants:    metaString(meta, "participants", ""),
		LocationContext: optionalString(meta, "location_context"),
		Summary:         rec.Document,
		Emotion:         metaString(meta, "emotion", "neutral"),
		Importance:      metaInt(meta, "importance", 3),
	}
}

// extractCoactivation pulls the serialized coactivation mapping (target id →
// raw weight) out of the metadata. Weights are coerced to float and clamped
// to [0,1]; entries that fail coercion are dropped silently — one bad weight
// must not sink the record. The key is removed from the map either way.
func extractCoactivation(sourceID string, meta map[string]any) []store.Coactivation {
	raw, ok := meta["coactivation"]
	if !ok {
		return nil
	}
	delete(meta, "coactivation")

	serialized, ok := raw.(string)
	if !ok || serialized == "" {
		return nil
	}

	var mapping map[string]any
	if err := json.Unmarshal([]byte(serialized), &mapping); err != nil {
		return nil
	}

	var edges []store.Coactivation
	for targetID, rawWeight := range mapping {
		w, ok := toFloat(rawWeight)
		if !ok {
			continue
		}
		edges = append(edges, store.Coactivation{
			SourceID: sourceID,
			TargetID: targetID,
			Weight:   clamp01(w),
		})
	}
	return edges
}

func clamp01(w float64) float64 {
	if w < 0.0 {
		return 0.0
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}

// toFloat coerces the value shapes that appear in source metadata.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// metaString returns the string value of key, or def when absent or not a
// string.
func metaString(meta map[string]any, key, def string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return def
}

// metaInt returns the integer value of key, tolerating the int/float/string
// shapes the source stores, or def when absent or malformed.
func metaInt(meta map[string]any, key string, def int) int {
	v, ok := meta[key]
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return int(f)
}

// metaFloat returns the float value of key, or def when absent or malformed.
func metaFloat(meta map[string]any, key string, def float64) float64 {
	v, ok := meta[key]
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return f
}

// optionalString maps an absent or empty-string value to nil — optional
// fields are stored as NULL, never as "".
func optionalString(meta map[string]any, key string) *string {
	if v, ok := meta[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
