package migrate

import (
	"testing"

	"github.com/ymiyake/kioku/internal/chroma"
)

func TestTransformMemoryDefaults(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "m1",
		Document: "some text",
		Metadata: map[string]any{},
	}

	m, coacts, embedText := transformMemory(rec)

	if m.Importance != 3 {
		t.Errorf("omitted importance should default to 3, got %d", m.Importance)
	}
	if m.Emotion != "neutral" {
		t.Errorf("omitted emotion should default to neutral, got %q", m.Emotion)
	}
	if m.Category != "daily" {
		t.Errorf("omitted category should default to daily, got %q", m.Category)
	}
	if len(coacts) != 0 {
		t.Errorf("expected no coactivation edges, got %d", len(coacts))
	}
	if embedText == "" {
		t.Error("expected non-empty embed text for non-empty document")
	}
}

func TestTransformMemoryContentPrecedence(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "m1",
		Document: "normalized doc form",
		Metadata: map[string]any{"content": "Original Content"},
	}
	m, _, _ := transformMemory(rec)
	if m.Content != "Original Content" {
		t.Errorf("explicit content field should win, got %q", m.Content)
	}

	rec2 := chroma.RawRecord{ID: "m2", Document: "only the doc", Metadata: map[string]any{}}
	m2, _, _ := transformMemory(rec2)
	if m2.Content != "only the doc" {
		t.Errorf("content should fall back to document, got %q", m2.Content)
	}
}

func TestTransformMemoryEmptyDocument(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "m1",
		Document: "",
		Metadata: map[string]any{"content": "stored content"},
	}
	m, _, embedText := transformMemory(rec)
	if m.NormalizedContent != "" {
		t.Errorf("empty document should yield empty normalized form, got %q", m.NormalizedContent)
	}
	// Embedding input falls back to canonical content.
	if embedText != "stored content" {
		t.Errorf("embed text should fall back to content, got %q", embedText)
	}
}

func TestTransformMemoryOptionalFields(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "m1",
		Document: "doc",
		Metadata: map[string]any{
			"episode_id":      "",
			"camera_position": "",
			"reading":         "よみ",
		},
	}
	m, _, _ := transformMemory(rec)
	if m.EpisodeID != nil {
		t.Error("empty episode_id should become nil, not empty string")
	}
	if m.CameraPosition != nil {
		t.Error("empty camera_position should become nil")
	}
	if m.Reading == nil || *m.Reading != "よみ" {
		t.Errorf("reading should be preserved, got %v", m.Reading)
	}
}

func TestTransformMemoryNumericCoercion(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "m1",
		Document: "doc",
		Metadata: map[string]any{
			"importance":    int64(5),
			"access_count":  int64(7),
			"novelty_score": 0.42,
		},
	}
	m, _, _ := transformMemory(rec)
	if m.Importance != 5 || m.AccessCount != 7 {
		t.Errorf("integers not coerced: importance=%d access_count=%d", m.Importance, m.AccessCount)
	}
	if m.NoveltyScore != 0.42 {
		t.Errorf("float not coerced: %v", m.NoveltyScore)
	}
}

func TestExtractCoactivationClamping(t *testing.T) {
	meta := map[string]any{
		"coactivation": `{"above": 1.7, "below": -0.3, "inside": 0.95}`,
	}
	edges := extractCoactivation("src", meta)
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}

	byTarget := make(map[string]float64)
	for _, e := range edges {
		if e.SourceID != "src" {
			t.Errorf("unexpected source id %s", e.SourceID)
		}
		byTarget[e.TargetID] = e.Weight
	}
	if byTarget["above"] != 1.0 {
		t.Errorf("1.7 should clamp to 1.0, got %v", byTarget["above"])
	}
	if byTarget["below"] != 0.0 {
		t.Errorf("-0.3 should clamp to 0.0, got %v", byTarget["below"])
	}
	if byTarget["inside"] != 0.95 {
		t.Errorf("0.95 should pass through, got %v", byTarget["inside"])
	}
}

func TestExtractCoactivationMalformedEntries(t *testing.T) {
	// One bad weight must not sink the rest of the mapping.
	meta := map[string]any{
		"coactivation": `{"good": 0.5, "bad": "not-a-number", "stringy": "0.25"}`,
	}
	edges := extractCoactivation("src", meta)
	if len(edges) != 2 {
		t.Fatalf("expected 2 surviving edges, got %d", len(edges))
	}
	byTarget := make(map[string]float64)
	for _, e := range edges {
		byTarget[e.TargetID] = e.Weight
	}
	if byTarget["good"] != 0.5 {
		t.Errorf("expected good=0.5, got %v", byTarget["good"])
	}
	// Numeric strings coerce, like the source sometimes stores them.
	if byTarget["stringy"] != 0.25 {
		t.Errorf("expected stringy=0.25, got %v", byTarget["stringy"])
	}
}

func TestExtractCoactivationGarbage(t *testing.T) {
	cases := []map[string]any{
		{"coactivation": "not json at all"},
		{"coactivation": ""},
		{"coactivation": int64(42)},
		{},
	}
	for i, meta := range cases {
		if edges := extractCoactivation("src", meta); len(edges) != 0 {
			t.Errorf("case %d: expected no edges, got %d", i, len(edges))
		}
	}
}

func TestExtractCoactivationRemovesKey(t *testing.T) {
	meta := map[string]any{"coactivation": `{"x": 0.5}`, "emotion": "joy"}
	extractCoactivation("src", meta)
	if _, ok := meta["coactivation"]; ok {
		t.Error("coactivation key should be consumed from metadata")
	}
	if meta["emotion"] != "joy" {
		t.Error("other metadata keys must be untouched")
	}
}

func TestTransformEpisode(t *testing.T) {
	rec := chroma.RawRecord{
		ID:       "ep-1",
		Document: "we went to the sea",
		Metadata: map[string]any{
			"title":      "beach day",
			"start_time": "2026-07-01T10:00:00",
			"end_time":   "",
			"importance": int64(4),
		},
	}
	ep := transformEpisode(rec)
	if ep.Summary != "we went to the sea" {
		t.Errorf("summary should come from the document, got %q", ep.Summary)
	}
	if ep.EndTime != nil {
		t.Error("empty end_time should become nil (ongoing episode)")
	}
	if ep.Title != "beach day" || ep.Importance != 4 {
		t.Errorf("metadata fields not mapped: %+v", ep)
	}
	if ep.Emotion != "neutral" {
		t.Errorf("omitted emotion should default to neutral, got %q", ep.Emotion)
	}
}
