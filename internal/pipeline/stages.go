package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/minara-dev/minara/internal/chunk"
	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/extract"
	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/graph"
	"github.com/minara-dev/minara/internal/scanner"
	"github.com/minara-dev/minara/internal/store"
	"github.com/minara-dev/minara/internal/validate"
)

// quarantiner is implemented by validators that can archive a rejected
// file's content. Kept local so the pipeline depends only on the
// behavior it needs, not validate.DefaultValidator's concrete type.
type quarantiner interface {
	Quarantine(relPath string, content []byte, verdict validate.Verdict) (string, error)
}

func (p *Pipeline) chunkWorker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.chunkCh:
			if !ok {
				return
			}
			p.processChunkJob(job)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) processChunkJob(job rawJob) {
	defer p.recoverStage("chunk", job.path)
	ctx := p.ctx

	progress := &store.ProcessingProgress{Path: job.path, Status: store.ProgressInProgress, StartedAt: job.queuedAt}
	if progress.StartedAt.IsZero() {
		progress.StartedAt = time.Now()
	}
	if err := p.cfg.Metadata.SaveProgress(ctx, progress); err != nil {
		slog.Warn("failed to save in-progress state", slog.String("path", job.path), slog.String("error", err.Error()))
	}

	absPath := filepath.Join(p.cfg.RootPath, job.path)
	info, err := os.Lstat(absPath)
	if err != nil {
		p.failProgress(job.path, fmt.Sprintf("stat failed: %v", err))
		p.clearActive(job.path)
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		_ = p.cfg.Metadata.DeleteProgress(ctx, job.path)
		p.clearActive(job.path)
		return
	}

	// Pre-read check with no content: catches excluded paths, extension
	// rejections, and oversized files before a single byte is read.
	verdict, err := p.cfg.Validator.Validate(ctx, job.path, info, nil)
	if err != nil {
		p.failProgress(job.path, err.Error())
		p.clearActive(job.path)
		return
	}
	if !verdict.Accepted {
		p.rejectJob(job.path, nil, verdict)
		return
	}

	content, err := p.readFileWithRetry(ctx, absPath)
	if err != nil {
		p.failProgress(job.path, fmt.Sprintf("read failed: %v", err))
		p.clearActive(job.path)
		return
	}

	verdict, err = p.cfg.Validator.Validate(ctx, job.path, info, content)
	if err != nil {
		p.failProgress(job.path, err.Error())
		p.clearActive(job.path)
		return
	}
	if !verdict.Accepted {
		p.rejectJob(job.path, content, verdict)
		return
	}

	method, pages, err := p.cfg.Extractors.Extract(ctx, job.path, content)
	if err != nil {
		p.failProgress(job.path, fmt.Sprintf("extraction failed: %v", err))
		p.clearActive(job.path)
		return
	}

	chunks, err := p.chunkPages(ctx, job.path, pages)
	if err != nil {
		p.failProgress(job.path, fmt.Sprintf("chunking failed: %v", err))
		p.clearActive(job.path)
		return
	}

	if len(chunks) == 0 {
		p.completeEmpty(job.path)
		return
	}

	language := scanner.DetectLanguage(job.path)
	contentType := scanner.DetectContentType(language)
	fileID := fingerprint.FileID(p.cfg.ProjectID, job.path)
	for _, c := range chunks {
		c.FileID = fileID
		c.FilePath = job.path
	}

	var edges []*graph.Edge
	if p.cfg.Graph != nil && contentType == scanner.ContentTypeMarkdown {
		edges = graph.BuildEdges(job.path, string(content))
	}

	doc := chunkedDoc{
		path:             job.path,
		fileID:           fileID,
		info:             info,
		contentHash:      fingerprint.HashContent(content),
		language:         language,
		contentType:      string(contentType),
		extractionMethod: method,
		chunks:           chunks,
		graphEdges:       edges,
		rawContent:       string(content),
		startedAt:        progress.StartedAt,
	}

	select {
	case p.embedCh <- doc:
	case <-p.ctx.Done():
		p.clearActive(job.path)
	}
}

// chunkPages runs each extracted page through the chunker matching its
// content type, so a single Jupyter notebook's code and markdown cells
// each reach the chunker built to parse them. Pages beyond the first
// get a synthetic path suffix so Chunk.ID (derived from path+line) stays
// unique across pages that restart their own line numbering.
func (p *Pipeline) chunkPages(ctx context.Context, path string, pages []extract.Page) ([]*store.Chunk, error) {
	var all []*store.Chunk
	for i, page := range pages {
		chunker := p.chunkerFor(page.ContentType)
		if chunker == nil {
			continue
		}

		inputPath := path
		if len(pages) > 1 {
			inputPath = fmt.Sprintf("%s#page=%d", path, i)
		}

		input := &chunk.FileInput{
			Path:     inputPath,
			Content:  []byte(page.Text),
			Language: languageForContentType(path, page.ContentType),
		}

		chunks, err := chunker.Chunk(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		for _, c := range chunks {
			c.FilePath = path
			if page.PageNo != nil {
				if c.Metadata == nil {
					c.Metadata = map[string]string{}
				}
				c.Metadata["page"] = strconv.Itoa(*page.PageNo)
			}
			all = append(all, c)
		}
	}
	return all, nil
}

func (p *Pipeline) chunkerFor(ct chunk.ContentType) chunk.Chunker {
	switch ct {
	case chunk.ContentTypeCode:
		return p.cfg.CodeChunker
	case chunk.ContentTypeMarkdown:
		return p.cfg.MDChunker
	default:
		if p.cfg.TextChunker != nil {
			return p.cfg.TextChunker
		}
		return p.cfg.MDChunker
	}
}

func languageForContentType(path string, ct chunk.ContentType) string {
	if ct == chunk.ContentTypeCode {
		return scanner.DetectLanguage(path)
	}
	return ""
}

func (p *Pipeline) rejectJob(path string, content []byte, verdict validate.Verdict) {
	if verdict.Severity == validate.SeverityCritical && content != nil {
		if q, ok := p.cfg.Validator.(quarantiner); ok {
			if _, err := q.Quarantine(path, content, verdict); err != nil {
				slog.Warn("failed to quarantine file", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}

	progress := &store.ProcessingProgress{Path: path, Status: store.ProgressRejected, ErrorMessage: verdict.Reason, CompletedAt: time.Now()}
	if err := p.cfg.Metadata.SaveProgress(context.Background(), progress); err != nil {
		slog.Warn("failed to save rejection state", slog.String("path", path), slog.String("error", err.Error()))
	}
	p.clearActive(path)
}

func (p *Pipeline) completeEmpty(path string) {
	progress := &store.ProcessingProgress{Path: path, Status: store.ProgressCompleted, CompletedAt: time.Now()}
	if err := p.cfg.Metadata.SaveProgress(context.Background(), progress); err != nil {
		slog.Warn("failed to save empty-file completion", slog.String("path", path), slog.String("error", err.Error()))
	}
	p.clearActive(path)
}

func (p *Pipeline) embedWorker() {
	defer p.wg.Done()
	for {
		select {
		case doc, ok := <-p.embedCh:
			if !ok {
				return
			}
			p.processEmbed(doc)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) processEmbed(doc chunkedDoc) {
	defer p.recoverStage("embed", doc.path)

	texts := make([]string, len(doc.chunks))
	for i, c := range doc.chunks {
		texts[i] = c.Content
	}

	embeddings, err := p.embedBatch(texts)
	if err != nil {
		p.failProgress(doc.path, fmt.Sprintf("embedding failed: %v", err))
		p.clearActive(doc.path)
		return
	}

	out := embeddedDoc{chunkedDoc: doc, embeddings: embeddings}
	select {
	case p.storageCh <- out:
	case <-p.ctx.Done():
		p.clearActive(doc.path)
	}
}

// readFileWithRetry retries a transient read failure (file locked by
// another process, momentary I/O error on a network-mounted vault)
// before giving up, using the same backoff as the embedder calls.
func (p *Pipeline) readFileWithRetry(ctx context.Context, absPath string) ([]byte, error) {
	return cerrors.RetryWithResult(ctx, cerrors.DefaultRetryConfig(), func() ([]byte, error) {
		return os.ReadFile(absPath)
	})
}

// embedBatch calls the embedder through a circuit breaker so a
// failing provider stops taking new work after a run of failures
// instead of piling up timeouts, and retries transient failures with
// backoff while the breaker is closed.
func (p *Pipeline) embedBatch(texts []string) ([][]float32, error) {
	return cerrors.CircuitExecuteWithResult(p.embedCircuit,
		func() ([][]float32, error) {
			return cerrors.RetryWithResult(p.ctx, p.cfg.EmbedRetry, func() ([][]float32, error) {
				return p.cfg.Embedder.EmbedBatch(p.ctx, texts)
			})
		},
		func() ([][]float32, error) {
			return nil, cerrors.ErrCircuitOpen
		},
	)
}

func (p *Pipeline) storageWorker() {
	defer p.wg.Done()
	for {
		select {
		case doc, ok := <-p.storageCh:
			if !ok {
				return
			}
			p.commit(doc)
		case <-p.ctx.Done():
			return
		}
	}
}

// commit runs spec.md §4.6's storage-stage protocol: acquire the write
// lock for this path, delete the prior generation of chunks/vectors/FTS
// entries, then insert the new generation. Exactly one goroutine calls
// this, so no cross-document coordination is needed beyond the lock
// that keeps a late-arriving duplicate job for the same path from
// interleaving with itself.
func (p *Pipeline) commit(doc embeddedDoc) {
	defer p.recoverStage("storage", doc.path)
	defer p.clearActive(doc.path)

	release, err := p.cfg.WriteLock.Acquire(doc.path)
	if err != nil {
		p.failProgress(doc.path, fmt.Sprintf("write lock failed: %v", err))
		return
	}
	defer release()

	ctx := context.Background()

	if existing, err := p.cfg.Metadata.GetChunksByFile(ctx, doc.fileID); err == nil && len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, c := range existing {
			ids[i] = c.ID
		}
		if err := p.cfg.BM25.Delete(ctx, ids); err != nil {
			slog.Warn("failed to delete stale bm25 entries", slog.String("path", doc.path), slog.String("error", err.Error()))
		}
		if err := p.cfg.Vector.Delete(ctx, ids); err != nil {
			slog.Warn("failed to delete stale vectors", slog.String("path", doc.path), slog.String("error", err.Error()))
		}
		if err := p.cfg.Metadata.DeleteChunksByFile(ctx, doc.fileID); err != nil {
			slog.Warn("failed to delete stale chunk records", slog.String("path", doc.path), slog.String("error", err.Error()))
		}
	}

	file := &store.File{
		ID:               doc.fileID,
		ProjectID:        p.cfg.ProjectID,
		Path:             doc.path,
		Size:             doc.info.Size(),
		ModTime:          doc.info.ModTime(),
		ContentHash:      doc.contentHash,
		Language:         doc.language,
		ContentType:      doc.contentType,
		ChunkCount:       len(doc.chunks),
		ExtractionMethod: doc.extractionMethod,
	}
	if err := p.cfg.Metadata.SaveFiles(ctx, []*store.File{file}); err != nil {
		p.failProgress(doc.path, fmt.Sprintf("save file failed: %v", err))
		return
	}

	docs := make([]*store.Document, len(doc.chunks))
	ids := make([]string, len(doc.chunks))
	for i, c := range doc.chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
		ids[i] = c.ID
	}

	if err := p.cfg.BM25.Index(ctx, docs); err != nil {
		p.failProgress(doc.path, fmt.Sprintf("bm25 index failed: %v", err))
		return
	}
	if err := p.cfg.Vector.Add(ctx, ids, doc.embeddings); err != nil {
		p.failProgress(doc.path, fmt.Sprintf("vector index failed: %v", err))
		return
	}
	if err := p.cfg.Metadata.SaveChunks(ctx, doc.chunks); err != nil {
		p.failProgress(doc.path, fmt.Sprintf("save chunks failed: %v", err))
		return
	}
	if err := p.cfg.Metadata.SaveChunkEmbeddings(ctx, ids, doc.embeddings, p.cfg.Embedder.ModelName()); err != nil {
		slog.Warn("failed to persist embeddings, compaction will require re-embedding",
			slog.String("path", doc.path), slog.String("error", err.Error()))
	}

	if p.cfg.Graph != nil && doc.contentType == string(scanner.ContentTypeMarkdown) {
		p.commitGraph(ctx, doc)
	}

	progress := &store.ProcessingProgress{
		Path:             doc.path,
		ContentHash:      doc.contentHash,
		Status:           store.ProgressCompleted,
		ExtractionMethod: doc.extractionMethod,
		StartedAt:        doc.startedAt,
		CompletedAt:      time.Now(),
	}
	if err := p.cfg.Metadata.SaveProgress(ctx, progress); err != nil {
		slog.Warn("failed to save completion state", slog.String("path", doc.path), slog.String("error", err.Error()))
	}

	if p.cfg.QueryCache != nil {
		p.cfg.QueryCache.InvalidateAll()
	}
	p.cfg.Queue.MarkDone(doc.path)
}

func (p *Pipeline) commitGraph(ctx context.Context, doc embeddedDoc) {
	frontmatter, body := graph.ParseFrontmatter(doc.rawContent)
	node := &graph.Node{
		Path:        doc.path,
		Title:       noteTitle(doc.path, frontmatter),
		Content:     body,
		Frontmatter: frontmatter,
	}
	if err := p.cfg.Graph.UpsertNode(ctx, node); err != nil {
		slog.Warn("failed to upsert graph node", slog.String("path", doc.path), slog.String("error", err.Error()))
		return
	}
	for _, edge := range doc.graphEdges {
		if err := p.cfg.Graph.AddEdge(ctx, edge); err != nil {
			slog.Warn("failed to add graph edge",
				slog.String("path", doc.path), slog.String("target", edge.Target), slog.String("error", err.Error()))
		}
	}
}

func noteTitle(path string, frontmatter map[string]any) string {
	if title, ok := frontmatter["title"].(string); ok && title != "" {
		return title
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
