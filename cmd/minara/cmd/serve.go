package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/minara-dev/minara/internal/chunk"
	"github.com/minara-dev/minara/internal/config"
	"github.com/minara-dev/minara/internal/control"
	"github.com/minara-dev/minara/internal/embed"
	"github.com/minara-dev/minara/internal/extract"
	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/logging"
	"github.com/minara-dev/minara/internal/mcp"
	"github.com/minara-dev/minara/internal/pipeline"
	"github.com/minara-dev/minara/internal/pqueue"
	"github.com/minara-dev/minara/internal/querycache"
	"github.com/minara-dev/minara/internal/search"
	"github.com/minara-dev/minara/internal/selfheal"
	"github.com/minara-dev/minara/internal/session"
	"github.com/minara-dev/minara/internal/store"
	"github.com/minara-dev/minara/internal/validate"
	"github.com/minara-dev/minara/internal/vectorindex"
	"github.com/minara-dev/minara/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var sessionName string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start Minara's MCP server, exposing hybrid search over the
current project to AI coding assistants (Claude Code, Cursor) via the
Model Context Protocol.

Stdout is reserved exclusively for the MCP JSON-RPC stream; every other
message goes to the debug log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionName != "" {
				return runServeWithSession(cmd.Context(), transport, sessionName, debug)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport to serve on: stdio")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (unused for stdio transport)")
	cmd.Flags().StringVar(&sessionName, "session", "", "serve a named session instead of the current directory's index")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging to ~/.minara/logs/")

	return cmd
}

// runServe starts the MCP server over the project found from the
// current directory. It never writes to stdout: BUG-034 established
// that MCP's stdio transport requires stdout exclusively for the
// JSON-RPC stream.
func runServe(ctx context.Context, transport string, port int) error {
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanup()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".minara")

	return serveProject(ctx, root, dataDir, transport, port)
}

// runServeWithSession serves a named session's index instead of the
// current directory's. Sessions let a client keep several projects'
// indices around and switch between them without reindexing.
func runServeWithSession(ctx context.Context, transport, sessionName string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	cleanup, err := logging.SetupMCPModeWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanup()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg := config.NewConfig()
	mgr, err := session.NewManager(session.ManagerConfig{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	if err != nil {
		return fmt.Errorf("failed to open session manager: %w", err)
	}

	sess, err := mgr.Open(sessionName, root)
	if err != nil {
		return fmt.Errorf("failed to open session %q: %w", sessionName, err)
	}
	sess.UpdateLastUsed()
	if err := mgr.Save(sess); err != nil {
		slog.Warn("failed to persist session metadata", slog.String("session", sessionName), slog.String("error", err.Error()))
	}

	return serveProject(ctx, root, sess.SessionDir, transport, 0)
}

// verifyStdinForMCP checks that stdin looks like a pipe rather than an
// interactive terminal. MCP clients always connect over a pipe; a
// terminal stdin means the user ran `minara serve` directly, which
// will hang waiting for a JSON-RPC request that never arrives.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: minara serve is meant to be launched by an MCP client, not run interactively")
	}
	return nil
}

// serveProject wires a project's full control.Plane - search engine,
// ingestion pipeline, self-healer, query cache - and runs the MCP
// server over it until ctx is cancelled.
func serveProject(ctx context.Context, root, dataDir, transport string, port int) error {
	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin check failed", slog.String("error", err.Error()))
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	plane, metadata, embedder, watch, cleanup, err := buildServePlane(ctx, root, dataDir, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	defer cleanup()

	// BUG-035: the file watcher can take seconds to warm up on a slow
	// or large filesystem. It must never block the MCP handshake, so
	// it starts in its own goroutine instead of being awaited here.
	go startWatcher(ctx, watch, root, plane)

	server, err := mcp.NewServer(plane, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = server.Close() }()

	addr := ""
	if port > 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	return server.Serve(ctx, transport, addr)
}

// startWatcher runs the file watcher for root until ctx is cancelled,
// submitting every changed path to the pipeline at normal priority.
// Delete events are not re-ingested; self-heal's orphan scan reconciles
// those instead.
func startWatcher(ctx context.Context, w *watcher.HybridWatcher, root string, plane *control.Plane) {
	if w == nil {
		return
	}
	defer func() { _ = w.Stop() }()

	if err := w.Start(ctx, root); err != nil {
		slog.Error("file watcher failed to start", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			for _, event := range batch {
				if event.IsDir || event.Operation == watcher.OpDelete {
					continue
				}
				if _, err := plane.Ingest(ctx, event.Path, pqueue.Normal, false); err != nil {
					slog.Debug("watcher ingest failed", slog.String("path", event.Path), slog.String("error", err.Error()))
				}
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// buildServePlane opens every store a project needs to search and
// ingest, and wires them into a control.Plane. The returned cleanup
// closes everything in reverse order; it is always safe to call even
// if an error was also returned alongside a partially built result.
func buildServePlane(ctx context.Context, root, dataDir string, cfg *config.Config) (
	plane *control.Plane, metadata store.MetadataStore, embedder embed.Embedder,
	watch *watcher.HybridWatcher, cleanup func(), err error,
) {
	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(e error) (*control.Plane, store.MetadataStore, embed.Embedder, *watcher.HybridWatcher, func(), error) {
		cleanup()
		return nil, nil, nil, nil, func() {}, e
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err = store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fail(fmt.Errorf("failed to open metadata store: %w", err))
	}
	closers = append(closers, func() { _ = metadata.Close() })

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fail(fmt.Errorf("failed to open BM25 index: %w", err))
	}
	closers = append(closers, func() { _ = bm25.Close() })

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
	embedder, err = embed.NewEmbedder(embedCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	embedCancel()
	if err != nil {
		return fail(fmt.Errorf("failed to initialize embedder: %w", err))
	}
	closers = append(closers, func() { _ = embedder.Close() })

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorIdx, err := vectorindex.New(vectorindex.Config{
		Path:         vectorPath,
		Dimensions:   embedder.Dimensions(),
		VectorConfig: store.DefaultVectorStoreConfig(embedder.Dimensions()),
	})
	if err != nil {
		return fail(fmt.Errorf("failed to open vector index: %w", err))
	}
	closers = append(closers, func() { _ = vectorIdx.Close() })

	// search.Engine wants the raw store.VectorStore interface; open a
	// second handle over the same file for searches, independent of
	// the pipeline's periodically-flushed vectorindex.Index.
	searchVector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return fail(fmt.Errorf("failed to open search vector store: %w", err))
	}
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		_ = searchVector.Load(vectorPath)
	}
	closers = append(closers, func() { _ = searchVector.Close() })

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{BM25: cfg.Search.BM25Weight, Semantic: cfg.Search.SemanticWeight}
	}
	engine := search.New(bm25, searchVector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))

	fp, err := fingerprint.New(root)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize fingerprint service: %w", err))
	}

	queue := pqueue.New(0)
	closers = append(closers, queue.Close)

	cache, err := querycache.New(querycache.DefaultCapacity)
	if err != nil {
		return fail(fmt.Errorf("failed to create query cache: %w", err))
	}

	pl := pipeline.New(pipeline.Config{
		ProjectID:   projectIDFor(root),
		RootPath:    root,
		Queue:       queue,
		Validator:   validate.New(validate.Config{}),
		Extractors:  extract.NewRegistry(),
		CodeChunker: chunk.NewCodeChunker(),
		MDChunker:   chunk.NewMarkdownChunker(),
		Embedder:    embedder,
		BM25:        bm25,
		Vector:      vectorIdx,
		Metadata:    metadata,
		QueryCache:  cache,
		WriteLock:   store.NewWriteLock(dataDir),
		Fingerprint: fp,
	})
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pl.Shutdown(shutdownCtx, false)
	})

	healer := &selfheal.Healer{
		Scanner: &selfheal.Scanner{
			ProjectID: projectIDFor(root),
			RootPath:  root,
			Metadata:  metadata,
			Keyword:   bm25,
			Vector:    vectorIdx,
		},
		Enqueue: pl,
	}

	plane = control.New(control.Config{
		ProjectID:   projectIDFor(root),
		Pipeline:    pl,
		Engine:      engine,
		Healer:      healer,
		Metadata:    metadata,
		Fingerprint: fp,
		Cache:       cache,
		Embedder:    embedder,
	})

	watch, err = watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		slog.Warn("file watcher unavailable, live reindexing disabled", slog.String("error", err.Error()))
		watch = nil
	}

	return plane, metadata, embedder, watch, cleanup, nil
}

func projectIDFor(root string) string {
	return hashString(root)
}
