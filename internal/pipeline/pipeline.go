// Package pipeline generalizes the teacher's synchronous
// internal/index.Coordinator into the three-stage channel topology
// spec.md's ingestion design calls for: a chunk stage worker pool, an
// embed stage worker pool, and a single storage-stage writer, connected
// by bounded channels instead of one mutex-guarded call path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minara-dev/minara/internal/chunk"
	"github.com/minara-dev/minara/internal/embed"
	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/extract"
	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/graph"
	"github.com/minara-dev/minara/internal/pqueue"
	"github.com/minara-dev/minara/internal/querycache"
	"github.com/minara-dev/minara/internal/store"
	"github.com/minara-dev/minara/internal/validate"
	"github.com/minara-dev/minara/internal/vectorindex"
)

// Default tuning, chosen so a laptop-scale vault keeps the CPU-bound
// chunk stage and the network/GPU-bound embed stage from starving each
// other.
const (
	DefaultChunkWorkers  = 4
	DefaultEmbedWorkers  = 2
	DefaultChannelDepth  = 64
)

// Config wires a Pipeline to its dependencies. Graph and QueryCache are
// optional: a plain-document project has no graph, and a cache-less
// pipeline just skips invalidation.
type Config struct {
	ProjectID string
	RootPath  string

	Queue *pqueue.Queue

	ChunkWorkers int
	EmbedWorkers int
	ChannelDepth int

	Validator   validate.Validator
	Extractors  *extract.Registry
	CodeChunker chunk.Chunker
	MDChunker   chunk.Chunker
	TextChunker chunk.Chunker

	Embedder   embed.Embedder
	BM25       store.BM25Index
	Vector     *vectorindex.Index
	Metadata   store.MetadataStore
	Graph      *graph.Store
	QueryCache *querycache.Cache
	WriteLock  *store.WriteLock

	Fingerprint *fingerprint.Service

	// EmbedRetry configures the backoff retried around each EmbedBatch
	// call. Zero value defaults to cerrors.DefaultRetryConfig().
	EmbedRetry cerrors.RetryConfig
	// EmbedCircuitMaxFailures trips the embed circuit breaker after
	// this many consecutive EmbedBatch failures. Zero defaults to the
	// breaker's own default (5).
	EmbedCircuitMaxFailures int
}

// Pipeline runs the three-stage ingestion topology over Config's
// dependencies until Shutdown is called.
type Pipeline struct {
	cfg Config

	chunkCh   chan rawJob
	embedCh   chan chunkedDoc
	storageCh chan embeddedDoc

	activeMu sync.RWMutex
	active   map[string]time.Time

	embedCircuit *cerrors.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// New builds a Pipeline and starts its worker goroutines. Call
// Shutdown to stop them.
func New(cfg Config) *Pipeline {
	if cfg.ChunkWorkers <= 0 {
		cfg.ChunkWorkers = DefaultChunkWorkers
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = DefaultEmbedWorkers
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = DefaultChannelDepth
	}
	if cfg.EmbedRetry == (cerrors.RetryConfig{}) {
		cfg.EmbedRetry = cerrors.DefaultRetryConfig()
	}

	circuitOpts := []cerrors.CircuitBreakerOption{}
	if cfg.EmbedCircuitMaxFailures > 0 {
		circuitOpts = append(circuitOpts, cerrors.WithMaxFailures(cfg.EmbedCircuitMaxFailures))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:          cfg,
		chunkCh:      make(chan rawJob, cfg.ChannelDepth),
		embedCh:      make(chan chunkedDoc, cfg.ChannelDepth),
		storageCh:    make(chan embeddedDoc, cfg.ChannelDepth),
		active:       make(map[string]time.Time),
		embedCircuit: cerrors.NewCircuitBreaker("embedder", circuitOpts...),
		ctx:          ctx,
		cancel:       cancel,
	}

	p.wg.Add(1)
	go p.intake()

	for i := 0; i < cfg.ChunkWorkers; i++ {
		p.wg.Add(1)
		go p.chunkWorker()
	}
	for i := 0; i < cfg.EmbedWorkers; i++ {
		p.wg.Add(1)
		go p.embedWorker()
	}
	p.wg.Add(1)
	go p.storageWorker()

	return p
}

// intake pulls items from the priority queue and forwards them to the
// chunk stage, applying backpressure from chunkCh's capacity.
func (p *Pipeline) intake() {
	defer p.wg.Done()
	for {
		item, err := p.cfg.Queue.Dequeue(p.ctx)
		if err != nil {
			return
		}
		job := rawJob{path: item.Path, priority: int(item.Priority), force: item.Force, queuedAt: item.EnqueuedAt}
		p.markActive(job.path)
		select {
		case p.chunkCh <- job:
		case <-p.ctx.Done():
			p.clearActive(job.path)
			return
		}
	}
}

// Submit enqueues path for ingestion at the given priority.
func (p *Pipeline) Submit(ctx context.Context, path string, priority pqueue.Priority, force bool) error {
	_, err := p.cfg.Queue.Enqueue(ctx, path, priority, force)
	return err
}

// Enqueue is Submit but also reports whether the path was newly queued
// or deduplicated against an existing queue entry.
func (p *Pipeline) Enqueue(ctx context.Context, path string, priority pqueue.Priority, force bool) (pqueue.EnqueueResult, error) {
	return p.cfg.Queue.Enqueue(ctx, path, priority, force)
}

// Pause suspends dequeue from the priority queue; in-flight jobs
// already past the queue continue to completion.
func (p *Pipeline) Pause() { p.cfg.Queue.Pause() }

// Resume re-enables dequeue.
func (p *Pipeline) Resume() { p.cfg.Queue.Resume() }

// Clear discards every item still waiting in the priority queue.
// Jobs already dequeued into the pipeline are unaffected.
func (p *Pipeline) Clear() { p.cfg.Queue.Clear() }

// QueueSize reports the number of items currently waiting in the
// priority queue, not counting jobs already dequeued into a stage.
func (p *Pipeline) QueueSize() int { return p.cfg.Queue.Size() }

// Paused reports whether dequeue from the priority queue is suspended.
func (p *Pipeline) Paused() bool { return p.cfg.Queue.Paused() }

// Status is a snapshot of the pipeline's introspection surface, per
// spec.md §4.11: queue state plus what each stage is doing right now.
type Status struct {
	QueueSize    int
	Paused       bool
	ActiveJobs   map[string]time.Time
	ChunkWorkers int
	EmbedWorkers int
}

// Status returns a point-in-time snapshot of queue and stage state.
func (p *Pipeline) Status() Status {
	return Status{
		QueueSize:    p.QueueSize(),
		Paused:       p.Paused(),
		ActiveJobs:   p.ActiveJobs(),
		ChunkWorkers: p.cfg.ChunkWorkers,
		EmbedWorkers: p.cfg.EmbedWorkers,
	}
}

// ActiveJobs returns a snapshot of paths currently between dequeue and
// storage commit, with the time each was dequeued. The returned map is
// a copy; callers must not assume it reflects later pipeline state.
func (p *Pipeline) ActiveJobs() map[string]time.Time {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	snapshot := make(map[string]time.Time, len(p.active))
	for k, v := range p.active {
		snapshot[k] = v
	}
	return snapshot
}

func (p *Pipeline) markActive(path string) {
	p.activeMu.Lock()
	p.active[path] = time.Now()
	p.activeMu.Unlock()
}

func (p *Pipeline) clearActive(path string) {
	p.activeMu.Lock()
	delete(p.active, path)
	p.activeMu.Unlock()
}

// Shutdown stops the pipeline. graceful=true drains every channel and
// waits for in-flight jobs to reach a terminal progress state before
// returning. graceful=false cancels immediately; jobs that were
// mid-flight are left with an "in_progress" progress row for self-heal
// to pick up on the next startup scan, per spec.md's resumability
// contract.
func (p *Pipeline) Shutdown(ctx context.Context, graceful bool) error {
	var shutdownErr error
	p.shutdownOnce.Do(func() {
		p.cfg.Queue.Close()

		if graceful {
			done := make(chan struct{})
			go func() {
				p.cancel() // unblocks intake once the queue is drained and closed
				p.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				shutdownErr = fmt.Errorf("graceful shutdown timed out: %w", ctx.Err())
			}
			return
		}

		p.cancel()
		p.wg.Wait()
	})
	return shutdownErr
}

func (p *Pipeline) logStageError(stage, path string, err error) {
	slog.Warn("pipeline stage failed",
		slog.String("stage", stage),
		slog.String("path", path),
		slog.String("error", err.Error()))
}

// recoverStage turns a panic in a stage worker into a logged error
// instead of crashing the process, mirroring the teacher's
// HandleEvents "log and continue" discipline at the goroutine level.
func (p *Pipeline) recoverStage(stage, path string) {
	if r := recover(); r != nil {
		slog.Error("pipeline stage panicked",
			slog.String("stage", stage),
			slog.String("path", path),
			slog.Any("panic", r))
		p.failProgress(path, fmt.Sprintf("panic in %s stage: %v", stage, r))
		p.clearActive(path)
	}
}

func (p *Pipeline) failProgress(path, reason string) {
	progress := &store.ProcessingProgress{
		Path:         path,
		Status:       store.ProgressFailed,
		ErrorMessage: reason,
	}
	if err := p.cfg.Metadata.SaveProgress(context.Background(), progress); err != nil {
		slog.Warn("failed to save failure progress", slog.String("path", path), slog.String("error", err.Error()))
	}
}
