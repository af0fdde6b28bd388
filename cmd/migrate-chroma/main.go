// migrate-chroma: One-time migration of a ChromaDB memory store into kioku's
// SQLite schema, re-computing all embeddings with the local E5 model.
//
// Usage:
//
//	migrate-chroma -source /path/to/chroma_db -dest /path/to/kioku.db [-model-dir dir] [-batch 32] [-yes]
//
// The tool reads the first non-episode collection plus the episodes
// collection out of chroma.sqlite3, shows what it found, and asks for
// confirmation before writing. All writes are insert-or-ignore, so an
// interrupted run can simply be restarted. The model is loaded strictly from
// local files; nothing is downloaded.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ymiyake/kioku/internal/chroma"
	"github.com/ymiyake/kioku/internal/config"
	"github.com/ymiyake/kioku/internal/embedding"
	"github.com/ymiyake/kioku/internal/migrate"
	"github.com/ymiyake/kioku/internal/store"
)

func main() {
	source := flag.String("source", "", "Path to the Chroma data directory (contains chroma.sqlite3)")
	dest := flag.String("dest", "", "Path to the destination SQLite database")
	modelDir := flag.String("model-dir", "", "Local model directory (overrides KIOKU_MODEL_DIR)")
	batch := flag.Int("batch", 0, "Embedding batch size (overrides KIOKU_BATCH_SIZE)")
	yes := flag.Bool("yes", false, "Skip the confirmation prompt")
	flag.Parse()

	if *source == "" || *dest == "" {
		fmt.Fprintln(os.Stderr, "usage: migrate-chroma -source <chroma dir> -dest <db file> [-model-dir dir] [-batch n] [-yes]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modelDir != "" {
		cfg.ModelDir = *modelDir
	}
	if *batch > 0 {
		cfg.BatchSize = *batch
	}

	src, err := chroma.Open(*source)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer src.Close()

	names, err := src.ListCollections()
	if err != nil {
		log.Fatalf("Failed to list collections: %v", err)
	}
	if len(names) == 0 {
		log.Fatalf("No collections found in %s", *source)
	}

	fmt.Printf("Source: %s\n", src.Path())
	for _, name := range names {
		// Count only; the records themselves are read once, by the run.
		n, err := src.CountCollection(name)
		if err != nil {
			log.Fatalf("Failed to count collection %q: %v", name, err)
		}
		fmt.Printf("  %-20s %d records\n", name, n)
	}
	fmt.Printf("Destination: %s\n", *dest)
	fmt.Printf("Model: %s (%s, batch %d)\n", cfg.ModelName, cfg.ModelDir, cfg.BatchSize)

	if !*yes && !confirm() {
		fmt.Println("Aborted.")
		os.Exit(1)
	}

	// Fail fast on a missing model before touching the destination.
	cache := embedding.NewCache()
	enc, err := cache.GetOrLoad(cfg.ModelName, func() (embedding.Encoder, error) {
		return embedding.NewE5(embedding.Config{
			ModelDir:    cfg.ModelDir,
			Name:        cfg.ModelName,
			Dimensions:  cfg.Dimensions,
			RuntimeLib:  cfg.RuntimeLib,
			OfflineOnly: cfg.OfflineOnly,
		})
	})
	if err != nil {
		log.Fatalf("Failed to load embedding model: %v", err)
	}

	dst, err := store.Open(*dest)
	if err != nil {
		log.Fatalf("Failed to open destination: %v", err)
	}
	defer dst.Close()

	runID := uuid.NewString()
	log.Printf("[migrate] run %s starting", runID)

	sum, err := migrate.Run(src, dst, enc, migrate.Options{BatchSize: cfg.BatchSize})
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Best effort: the brute-force scan path works without the index.
	if err := dst.EnsureVecIndex(); err != nil {
		log.Printf("[migrate] vector index unavailable: %v", err)
	}

	fmt.Println("Migration complete:")
	if sum.Collection != "" {
		fmt.Printf("  collection:    %s\n", sum.Collection)
	}
	fmt.Printf("  memories:      %d\n", sum.Memories)
	fmt.Printf("  embeddings:    %d\n", sum.Embeddings)
	fmt.Printf("  coactivations: %d\n", sum.Coactivations)
	fmt.Printf("  episodes:      %d\n", sum.Episodes)
}

// confirm asks for a single y/N answer on stdin. Anything but an explicit
// yes declines.
func confirm() bool {
	fmt.Print("Proceed with migration? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
