// kioku-mcp exposes the migrated memory store over MCP (stdio transport).
//
// Tools: recall_memory (semantic search), get_memory, list_episodes, stats.
// The embedding model is loaded lazily on the first recall, so the server
// starts instantly and the other tools work without model files present.
//
// All logging goes to stderr; stdout carries the MCP protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ymiyake/kioku/internal/config"
	"github.com/ymiyake/kioku/internal/embedding"
	"github.com/ymiyake/kioku/internal/store"
)

type app struct {
	db    *store.DB
	cfg   *config.Config
	cache *embedding.Cache
}

func main() {
	log.SetOutput(os.Stderr)
	_ = godotenv.Load()

	dbPath := flag.String("db", "", "Path to the SQLite database (overrides KIOKU_DB)")
	flag.Parse()

	path := *dbPath
	if path == "" {
		path = os.Getenv("KIOKU_DB")
	}
	if path == "" {
		path = "kioku.db"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.Open(path)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", path, err)
	}
	defer db.Close()

	// Attach the vec0 KNN index; recall falls back to a full scan without it.
	if err := db.EnsureVecIndex(); err != nil {
		log.Printf("[mcp] vector index unavailable: %v", err)
	}

	a := &app{db: db, cfg: cfg, cache: embedding.NewCache()}

	s := server.NewMCPServer(
		"kioku-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(recallTool(), a.handleRecall)
	s.AddTool(getMemoryTool(), a.handleGetMemory)
	s.AddTool(listEpisodesTool(), a.handleListEpisodes)
	s.AddTool(statsTool(), a.handleStats)

	log.Printf("[mcp] serving %s", path)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// encoder loads the model on first use. The cache serializes loads and keys
// them by model name; a failed load is retried on the next call.
func (a *app) encoder() (embedding.Encoder, error) {
	return a.cache.GetOrLoad(a.cfg.ModelName, func() (embedding.Encoder, error) {
		return embedding.NewE5(embedding.Config{
			ModelDir:    a.cfg.ModelDir,
			Name:        a.cfg.ModelName,
			Dimensions:  a.cfg.Dimensions,
			RuntimeLib:  a.cfg.RuntimeLib,
			OfflineOnly: a.cfg.OfflineOnly,
		})
	})
}

func recallTool() mcp.Tool {
	return mcp.NewTool("recall_memory",
		mcp.WithDescription("Semantic search over stored memories. Embeds the query with the same model the store was built with and returns the closest memories with similarity scores."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language query text"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)"),
		),
	)
}

func (a *app) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := 5
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	enc, err := a.encoder()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load embedding model: %v", err)), nil
	}

	vecs, err := enc.EmbedQuery([]string{query})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to embed query: %v", err)), nil
	}

	results, err := a.db.SearchSimilar(vecs[0], limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No memories found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%.3f] %s\n", i+1, r.Score, r.Memory.ID)
		fmt.Fprintf(&b, "   %s\n", r.Memory.Content)
		fmt.Fprintf(&b, "   emotion=%s importance=%d category=%s", r.Memory.Emotion, r.Memory.Importance, r.Memory.Category)
		if r.Memory.Timestamp != "" {
			fmt.Fprintf(&b, " time=%s", r.Memory.Timestamp)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func getMemoryTool() mcp.Tool {
	return mcp.NewTool("get_memory",
		mcp.WithDescription("Fetch one memory by id, including its coactivation neighbors."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id"),
		),
	)
}

func (a *app) handleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	m, err := a.db.GetMemory(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch memory: %v", err)), nil
	}
	if m == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No memory with id %s.", id)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory %s\n", m.ID)
	fmt.Fprintf(&b, "Content: %s\n", m.Content)
	fmt.Fprintf(&b, "Emotion: %s  Importance: %d  Category: %s\n", m.Emotion, m.Importance, m.Category)
	if m.Timestamp != "" {
		fmt.Fprintf(&b, "Timestamp: %s\n", m.Timestamp)
	}
	if m.EpisodeID != nil {
		fmt.Fprintf(&b, "Episode: %s\n", *m.EpisodeID)
	}
	if m.Reading != nil {
		fmt.Fprintf(&b, "Reading: %s\n", *m.Reading)
	}
	if m.Tags != "" {
		fmt.Fprintf(&b, "Tags: %s\n", m.Tags)
	}

	edges, err := a.db.GetCoactivation(id)
	if err == nil && len(edges) > 0 {
		b.WriteString("Coactivated with:\n")
		for _, e := range edges {
			fmt.Fprintf(&b, "  %s (%.2f)\n", e.TargetID, e.Weight)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func listEpisodesTool() mcp.Tool {
	return mcp.NewTool("list_episodes",
		mcp.WithDescription("List episodes, most recent first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of episodes (default 10)"),
		),
	)
}

func (a *app) handleListEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	limit := 10
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	episodes, err := a.db.ListEpisodes(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list episodes: %v", err)), nil
	}
	if len(episodes) == 0 {
		return mcp.NewToolResultText("No episodes."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d episodes:\n\n", len(episodes))
	for _, ep := range episodes {
		end := "ongoing"
		if ep.EndTime != nil {
			end = *ep.EndTime
		}
		fmt.Fprintf(&b, "%s  %s — %s\n", ep.ID, ep.StartTime, end)
		if ep.Title != "" {
			fmt.Fprintf(&b, "  %s\n", ep.Title)
		}
		if ep.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", ep.Summary)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func statsTool() mcp.Tool {
	return mcp.NewTool("stats",
		mcp.WithDescription("Row counts for memories, embeddings, coactivation edges and episodes."),
	)
}

func (a *app) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := a.db.Stats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", a.db.Path())
	for _, table := range []string{"memories", "embeddings", "coactivation", "episodes"} {
		fmt.Fprintf(&b, "  %-13s %d\n", table, stats[table])
	}
	return mcp.NewToolResultText(b.String()), nil
}
