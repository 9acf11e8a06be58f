// Package control exposes the single surface spec.md §6.1 names: one
// Plane type wrapping the pipeline, search engine, self-healer, and
// query cache, so the CLI (cmd/minara/cmd) and the MCP server
// (internal/mcp) stay thin callers and all control-plane policy lives
// in one place, matching spec §1's "transport is a thin adapter"
// framing.
package control

import (
	"context"
	"fmt"
	"os"

	"github.com/minara-dev/minara/internal/embed"
	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/pipeline"
	"github.com/minara-dev/minara/internal/pqueue"
	"github.com/minara-dev/minara/internal/querycache"
	"github.com/minara-dev/minara/internal/search"
	"github.com/minara-dev/minara/internal/selfheal"
	"github.com/minara-dev/minara/internal/store"
)

// Config wires a Plane to the components it coordinates. Cache is
// optional: a cache-less Plane just always misses.
type Config struct {
	ProjectID   string
	Pipeline    *pipeline.Pipeline
	Engine      search.SearchEngine
	Healer      *selfheal.Healer
	Metadata    store.MetadataStore
	Fingerprint *fingerprint.Service
	Cache       *querycache.Cache
	Embedder    embed.Embedder
}

// Plane implements every operation in spec.md §6.1's control-plane
// table. It is the only thing CLI commands and the MCP server should
// call into for indexing, search, or maintenance.
type Plane struct {
	projectID   string
	pipeline    *pipeline.Pipeline
	engine      search.SearchEngine
	healer      *selfheal.Healer
	metadata    store.MetadataStore
	fingerprint *fingerprint.Service
	cache       *querycache.Cache
	embedder    embed.Embedder
}

// New builds a Plane from cfg.
func New(cfg Config) *Plane {
	return &Plane{
		projectID:   cfg.ProjectID,
		pipeline:    cfg.Pipeline,
		engine:      cfg.Engine,
		healer:      cfg.Healer,
		metadata:    cfg.Metadata,
		fingerprint: cfg.Fingerprint,
		cache:       cfg.Cache,
		embedder:    cfg.Embedder,
	}
}

// IngestResult is the result of Ingest, per spec's
// `{enqueued, deduplicated, rejected}`.
type IngestResult struct {
	Enqueued     bool
	Deduplicated bool
	Rejected     bool
}

// Ingest validates path resolves under the project root and submits it
// to the pipeline at the given priority. Validator rejection (wrong
// size, extension, etc.) happens asynchronously inside the pipeline's
// chunk stage; Ingest itself only rejects paths that cannot be
// resolved at all.
func (p *Plane) Ingest(ctx context.Context, path string, priority pqueue.Priority, force bool) (*IngestResult, error) {
	if path == "" {
		return nil, cerrors.BadRequestError("path must not be empty", nil)
	}

	if _, err := p.fingerprint.Canonicalize(path); err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.NotFoundError(fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, cerrors.PathEscapesRootError(fmt.Sprintf("invalid path: %s", path), err)
	}

	result, err := p.pipeline.Enqueue(ctx, path, priority, force)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", path, err)
	}

	return &IngestResult{
		Enqueued:     result == pqueue.Enqueued,
		Deduplicated: result == pqueue.Deduplicated,
	}, nil
}

// Pause suspends dequeue from the priority queue.
func (p *Plane) Pause() PauseResult {
	p.pipeline.Pause()
	return p.pauseResult()
}

// Resume re-enables dequeue.
func (p *Plane) Resume() PauseResult {
	p.pipeline.Resume()
	return p.pauseResult()
}

// Clear discards every item still waiting in the priority queue.
func (p *Plane) Clear() PauseResult {
	p.pipeline.Clear()
	return p.pauseResult()
}

// PauseResult is the shared result shape for pause/resume/clear, per
// spec's `{queue_size, paused}`.
type PauseResult struct {
	QueueSize int
	Paused    bool
}

func (p *Plane) pauseResult() PauseResult {
	status := p.pipeline.Status()
	return PauseResult{QueueSize: status.QueueSize, Paused: status.Paused}
}

// Status returns the pipeline's introspection snapshot, per spec §4.11.
func (p *Plane) Status() pipeline.Status {
	return p.pipeline.Status()
}

// HealthResult is the result of Health, per spec's
// `{document_count, chunk_count, indexing_in_progress, model_name}`.
type HealthResult struct {
	DocumentCount      int
	ChunkCount         int
	IndexingInProgress bool
	ModelName          string
}

// Health reports aggregate index size and pipeline activity.
func (p *Plane) Health(ctx context.Context) (*HealthResult, error) {
	project, err := p.metadata.GetProject(ctx, p.projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project stats: %w", err)
	}

	status := p.pipeline.Status()

	result := &HealthResult{
		IndexingInProgress: len(status.ActiveJobs) > 0 || status.QueueSize > 0,
	}
	if project != nil {
		result.DocumentCount = project.FileCount
		result.ChunkCount = project.ChunkCount
	}
	if p.embedder != nil {
		result.ModelName = p.embedder.ModelName()
	}
	return result, nil
}
