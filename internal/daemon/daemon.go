package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/minara-dev/minara/internal/config"
	"github.com/minara-dev/minara/internal/control"
	"github.com/minara-dev/minara/internal/embed"
	"github.com/minara-dev/minara/internal/search"
	"github.com/minara-dev/minara/internal/store"
)

// projectState holds everything needed to search one project without
// reopening its stores on every request.
type projectState struct {
	rootPath string
	loadedAt time.Time
	lastUsed time.Time

	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
	engine   search.SearchEngine
	plane    *control.Plane
}

// Close releases a project's open stores. Safe to call on a zero-value
// projectState (e.g. one built directly in tests).
func (s *projectState) Close() error {
	if s.metadata != nil {
		_ = s.metadata.Close()
	}
	if s.bm25 != nil {
		_ = s.bm25.Close()
	}
	if s.vector != nil {
		_ = s.vector.Close()
	}
	return nil
}

// Daemon keeps a single embedder loaded in memory and a small LRU of
// recently searched projects, so CLI search commands can connect over
// the Unix socket instead of reinitializing the embedder every call.
type Daemon struct {
	cfg      Config
	embedder embed.Embedder

	pidFile    *PIDFile
	server     *Server
	compaction *CompactionManager

	mu       sync.RWMutex
	projects map[string]*projectState

	started time.Time
}

// Option configures a Daemon at construction time.
type Option func(*Daemon)

// WithEmbedder overrides the embedder the daemon loads, bypassing the
// normal config-driven factory. Primarily for tests, where a real
// Ollama/MLX embedder would add network dependencies and startup time.
func WithEmbedder(embedder embed.Embedder) Option {
	return func(d *Daemon) {
		d.embedder = embedder
	}
}

// NewDaemon creates a daemon for the given config. It doesn't bind any
// socket or load an embedder yet; that happens in Start.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		pidFile:  NewPIDFile(cfg.PIDPath),
		projects: make(map[string]*projectState),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Start runs the daemon until ctx is cancelled. It blocks for the
// lifetime of the process.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	if d.pidFile.IsRunning() {
		return fmt.Errorf("daemon already running (pid file: %s)", d.cfg.PIDPath)
	}

	if d.embedder == nil {
		embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(""), "")
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		d.embedder = embedder
	}

	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.started = time.Now()

	server, err := NewServer(d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create daemon server: %w", err)
	}
	server.SetHandler(d)
	d.server = server

	compactionCfg := config.NewConfig().Compaction
	if userCfg, err := config.LoadUserConfig(); err == nil && userCfg != nil {
		compactionCfg = userCfg.Compaction
	}
	d.compaction = NewCompactionManager(d, compactionCfg)
	d.compaction.Start(ctx)
	defer d.compaction.Stop()

	defer d.cleanup()

	err = server.ListenAndServe(ctx)
	if err != nil {
		return err
	}
	return ctx.Err()
}

// HandleSearch implements RequestHandler.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	if d.compaction != nil {
		d.compaction.InterruptCompaction(params.RootPath)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []*search.SearchResult
	if params.BM25Only || params.Explain {
		// Diagnostic modes read fields control.QueryOptions doesn't carry,
		// so they go straight to the engine, same as the CLI's local search.
		results, err = state.engine.Search(ctx, params.Query, search.SearchOptions{
			Limit:    limit,
			Filter:   params.Filter,
			Language: params.Language,
			Scopes:   params.Scopes,
			BM25Only: params.BM25Only,
			Explain:  params.Explain,
		})
	} else {
		qopts := control.DefaultQueryOptions()
		qopts.TopK = limit
		qopts.Filter = params.Filter
		qopts.Language = params.Language
		qopts.Scopes = params.Scopes
		results, err = state.plane.Query(ctx, params.Query, qopts)
	}
	if err != nil {
		return nil, err
	}

	if d.compaction != nil {
		d.compaction.OnSearchComplete(params.RootPath)
	}

	return toSearchResults(results), nil
}

func toSearchResults(results []*search.SearchResult) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		sr := SearchResult{
			FilePath:  r.Chunk.FilePath,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
			Language:  r.Chunk.Language,
			BM25Score: r.BM25Score,
			VecScore:  r.VecScore,
			BM25Rank:  r.BM25Rank,
			VecRank:   r.VecRank,
		}
		if r.Explain != nil {
			sr.Explain = &ExplainData{
				Query:                r.Explain.Query,
				BM25ResultCount:      r.Explain.BM25ResultCount,
				VectorResultCount:    r.Explain.VectorResultCount,
				BM25Weight:           r.Explain.Weights.BM25,
				SemanticWeight:       r.Explain.Weights.Semantic,
				RRFConstant:          r.Explain.RRFConstant,
				BM25Only:             r.Explain.BM25Only,
				DimensionMismatch:    r.Explain.DimensionMismatch,
				MultiQueryDecomposed: r.Explain.MultiQueryDecomposed,
				SubQueries:           r.Explain.SubQueries,
			}
		}
		out = append(out, sr)
	}
	return out
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	projectsLoaded := len(d.projects)
	d.mu.RUnlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		ProjectsLoaded: projectsLoaded,
	}

	if d.embedder != nil {
		status.EmbedderType = d.embedder.ModelName()
		status.EmbedderStatus = "ready"
	} else {
		status.EmbedderType = "unavailable"
		status.EmbedderStatus = "unavailable"
	}

	return status
}

// loadProject returns the cached state for rootPath, opening its index
// stores on first use.
func (d *Daemon) loadProject(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.RLock()
	if state, ok := d.projects[rootPath]; ok {
		d.mu.RUnlock()
		d.mu.Lock()
		state.lastUsed = time.Now()
		d.mu.Unlock()
		return state, nil
	}
	d.mu.RUnlock()

	dataDir := filepath.Join(rootPath, ".minara")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found in %s", rootPath)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	vectorConfig := store.DefaultVectorStoreConfig(d.embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("project", rootPath), slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	engine := search.New(bm25, vector, d.embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))

	state := &projectState{
		rootPath: rootPath,
		loadedAt: time.Now(),
		lastUsed: time.Now(),
		metadata: metadata,
		bm25:     bm25,
		vector:   vector,
		engine:   engine,
		plane:    control.New(control.Config{Engine: engine, Embedder: d.embedder}),
	}

	d.evictLRU()

	d.mu.Lock()
	d.projects[rootPath] = state
	d.mu.Unlock()

	_ = ctx
	return state, nil
}

// evictLRU closes and drops the least-recently-used project once the
// cache is at capacity, making room for the project about to be added.
func (d *Daemon) evictLRU() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.projects) < d.cfg.MaxProjects {
		return
	}

	var oldestPath string
	var oldestTime time.Time
	first := true
	for path, state := range d.projects {
		if first || state.lastUsed.Before(oldestTime) {
			oldestPath = path
			oldestTime = state.lastUsed
			first = false
		}
	}

	if oldestPath == "" {
		return
	}

	if state := d.projects[oldestPath]; state != nil {
		_ = state.Close()
	}
	delete(d.projects, oldestPath)

	slog.Debug("evicted LRU project", slog.String("project", oldestPath))
}

// cleanup closes all loaded projects and releases the embedder, called
// when the daemon shuts down.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	for _, state := range d.projects {
		_ = state.Close()
	}
	d.projects = make(map[string]*projectState)
	d.mu.Unlock()

	if d.embedder != nil {
		_ = d.embedder.Close()
		d.embedder = nil
	}
}
