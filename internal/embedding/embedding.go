// Package embedding recomputes memory embeddings with a local E5-family
// sentence encoder. E5 models require a semantic role prefix: stored
// documents are encoded as "passage: {text}" and search queries as
// "query: {text}" — the two spaces are not comparable without the markers.
// Model weights are loaded from disk only; there is no download path.
package embedding

import (
	"fmt"
	"sync"

	"github.com/ymiyake/kioku/internal/logging"
)

// Role prefixes required by E5 models.
const (
	passagePrefix = "passage: "
	queryPrefix   = "query: "
)

// DefaultBatchSize bounds peak memory during batch encoding.
const DefaultBatchSize = 32

// Encoder computes unit-normalized fixed-dimensional embeddings. Both modes
// operate on the same model; only the role prefix differs.
type Encoder interface {
	// EmbedPassages encodes stored content ("passage: " prefix).
	EmbedPassages(texts []string) ([][]float32, error)
	// EmbedQuery encodes search queries ("query: " prefix).
	EmbedQuery(texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Cache holds loaded encoders keyed by model name, so repeated construction
// never reloads weights. It is an explicit service owned by the caller and
// passed by handle — not a hidden package global. Loaded models are never
// evicted; the set of model names is small and sessions must stay alive.
type Cache struct {
	mu     sync.Mutex
	models map[string]Encoder
}

// NewCache creates an empty model cache.
func NewCache() *Cache {
	return &Cache{models: make(map[string]Encoder)}
}

// GetOrLoad returns the cached encoder for name, calling load exactly once
// per name on a miss. A failed load is not cached.
func (c *Cache) GetOrLoad(name string, load func() (Encoder, error)) (Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.models[name]; ok {
		return enc, nil
	}

	enc, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}
	c.models[name] = enc
	logging.Info("embedding", "loaded model %s (%d dims)", name, enc.Dimensions())
	return enc, nil
}
