// Package migrate implements the Chroma → SQLite migration pipeline:
// memories, re-computed embeddings, the coactivation graph, and episodes.
// The pipeline is strictly sequential; each logical stage commits as its own
// transaction, so an interrupted run keeps everything already committed and
// a rerun is safe (all writes are insert-or-ignore).
package migrate

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ymiyake/kioku/internal/chroma"
	"github.com/ymiyake/kioku/internal/embedding"
	"github.com/ymiyake/kioku/internal/logging"
	"github.com/ymiyake/kioku/internal/store"
)

// EpisodesCollection is the source collection name reserved for episodes.
const EpisodesCollection = "episodes"

// Source is the narrow read-only adapter over the foreign store. Any
// relational backend can implement it; the pipeline never learns storage
// specifics.
type Source interface {
	ListCollections() ([]string, error)
	ReadCollection(name string) ([]chroma.RawRecord, error)
}

// Options tunes the pipeline.
type Options struct {
	// BatchSize bounds how many documents are embedded at once.
	BatchSize int
}

// Summary reports what one run persisted.
type Summary struct {
	Collection    string // memory collection migrated ("" = none found)
	Memories      int
	Embeddings    int
	Coactivations int
	Episodes      int
}

// Run executes the full pipeline: memories of the first non-episode
// collection, their re-computed embeddings, the reconciled coactivation
// graph, then the episodes collection if present.
//
// A single record failing to insert is logged and skipped; the run
// continues. An embedding failure is fatal — prior stages stay committed.
func Run(src Source, dst *store.DB, enc embedding.Encoder, opts Options) (*Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedding.DefaultBatchSize
	}

	names, err := src.ListCollections()
	if err != nil {
		return nil, fmt.Errorf("failed to list source collections: %w", err)
	}

	sum := &Summary{Collection: pickMemoryCollection(names)}

	// Only edges whose both endpoints survive this run are admitted later.
	migrated := make(map[string]bool)
	var pending []store.Coactivation

	if sum.Collection != "" {
		records, err := src.ReadCollection(sum.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to read collection %q: %w", sum.Collection, err)
		}
		logging.Info("migrate", "migrating %d memories from %q", len(records), sum.Collection)

		embedIDs, embedTexts, err := migrateMemories(dst, records, migrated, &pending)
		if err != nil {
			return nil, err
		}
		sum.Memories = len(migrated)
		logging.Info("migrate", "inserted %d memories", sum.Memories)

		sum.Embeddings, err = computeEmbeddings(dst, enc, embedIDs, embedTexts, migrated, opts.BatchSize)
		if err != nil {
			return nil, err
		}

		sum.Coactivations, err = reconcileGraph(dst, pending, migrated)
		if err != nil {
			return nil, err
		}
		logging.Info("migrate", "inserted %d coactivation edges", sum.Coactivations)
	} else {
		logging.Info("migrate", "no memory collection found — nothing to migrate")
	}

	if containsName(names, EpisodesCollection) {
		sum.Episodes, err = migrateEpisodes(dst, src)
		if err != nil {
			return nil, err
		}
		logging.Info("migrate", "inserted %d episodes", sum.Episodes)
	}

	return sum, nil
}

// pickMemoryCollection returns the first collection that is not the reserved
// episodes collection.
func pickMemoryCollection(names []string) string {
	for _, name := range names {
		if name != EpisodesCollection {
			return name
		}
	}
	return ""
}

func containsName(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}

// migrateMemories inserts all memory rows in one transaction and collects
// the ids/texts to embed plus the extracted coactivation triples. A failing
// record is logged and skipped.
func migrateMemories(dst *store.DB, records []chroma.RawRecord, migrated map[string]bool, pending *[]store.Coactivation) ([]string, []string, error) {
	tx, err := dst.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin memory transaction: %w", err)
	}

	var embedIDs, embedTexts []string
	for _, rec := range records {
		m, coacts, embedText := transformMemory(rec)
		if err := store.InsertMemory(tx, m); err != nil {
			logging.Warn("migrate", "failed to insert memory %s (%s): %v",
				rec.ID, logging.Truncate(m.Content, 60), err)
			continue
		}
		migrated[m.ID] = true
		*pending = append(*pending, coacts...)
		embedIDs = append(embedIDs, m.ID)
		embedTexts = append(embedTexts, embedText)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit memories: %w", err)
	}
	return embedIDs, embedTexts, nil
}

// computeEmbeddings re-computes vectors in fixed-size batches. Each batch is
// persisted and committed before the next starts, so an interruption loses
// at most the current batch.
func computeEmbeddings(dst *store.DB, enc embedding.Encoder, ids, texts []string, migrated map[string]bool, batchSize int) (int, error) {
	total := len(ids)
	if total == 0 {
		return 0, nil
	}
	logging.Info("migrate", "re-computing %d embeddings (batch size %d)", total, batchSize)

	done := 0
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		vecs, err := enc.EmbedPassages(texts[start:end])
		if err != nil {
			return done, fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}

		tx, err := dst.Begin()
		if err != nil {
			return done, fmt.Errorf("failed to begin embedding transaction: %w", err)
		}
		for i, vec := range vecs {
			id := ids[start+i]
			if !migrated[id] {
				continue
			}
			if err := store.InsertEmbedding(tx, id, vec); err != nil {
				logging.Warn("migrate", "failed to insert embedding for %s: %v", id, err)
				continue
			}
			done++
		}
		if err := tx.Commit(); err != nil {
			return done, fmt.Errorf("failed to commit embedding batch: %w", err)
		}

		logging.Info("migrate", "%d/%d embeddings done", end, total)
		logBatchRSS(start / batchSize)
	}
	return done, nil
}

// reconcileGraph persists the coactivation edges whose endpoints both exist
// in this run's persisted-memory set. Edges referencing filtered or failed
// ids are dropped without error — expected, not exceptional.
func reconcileGraph(dst *store.DB, edges []store.Coactivation, migrated map[string]bool) (int, error) {
	tx, err := dst.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin coactivation transaction: %w", err)
	}

	inserted := 0
	for _, edge := range edges {
		if !migrated[edge.SourceID] || !migrated[edge.TargetID] {
			continue
		}
		if err := store.InsertCoactivation(tx, edge); err != nil {
			logging.Warn("migrate", "failed to insert edge %s -> %s: %v", edge.SourceID, edge.TargetID, err)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit coactivation edges: %w", err)
	}
	return inserted, nil
}

// migrateEpisodes migrates the episodes collection with the same
// insert-or-ignore discipline. No embeddings are computed for episodes.
func migrateEpisodes(dst *store.DB, src Source) (int, error) {
	records, err := src.ReadCollection(EpisodesCollection)
	if err != nil {
		return 0, fmt.Errorf("failed to read episodes: %w", err)
	}
	logging.Info("migrate", "migrating %d episodes", len(records))

	tx, err := dst.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin episode transaction: %w", err)
	}

	inserted := 0
	for _, rec := range records {
		if err := store.InsertEpisode(tx, transformEpisode(rec)); err != nil {
			logging.Warn("migrate", "failed to insert episode %s: %v", rec.ID, err)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit episodes: %w", err)
	}
	return inserted, nil
}

// logBatchRSS reports resident memory every few embedding batches. Batching
// exists to bound peak memory; this makes the bound observable.
func logBatchRSS(batch int) {
	if batch%10 != 0 {
		return
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return
	}
	logging.Debug("migrate", "embedding batch %d: rss=%d MB", batch, mi.RSS/(1<<20))
}
