package control

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/pqueue"
)

// DocumentSummary is one row of ListDocuments' result.
type DocumentSummary struct {
	Path       string
	ChunkCount int
	IndexedAt  string
}

// ListDocuments returns a summary of every indexed document whose path
// matches pattern (a filepath.Match glob). An empty pattern matches
// everything.
func (p *Plane) ListDocuments(ctx context.Context, pattern string) ([]DocumentSummary, error) {
	var summaries []DocumentSummary
	cursor := ""
	for {
		files, next, err := p.metadata.ListFiles(ctx, p.projectID, cursor, 500)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		for _, f := range files {
			if pattern != "" {
				matched, err := filepath.Match(pattern, f.Path)
				if err != nil {
					return nil, cerrors.BadRequestError(fmt.Sprintf("invalid pattern: %s", pattern), err)
				}
				if !matched {
					continue
				}
			}
			summaries = append(summaries, DocumentSummary{
				Path:       f.Path,
				ChunkCount: f.ChunkCount,
				IndexedAt:  f.IndexedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return summaries, nil
}

// DocumentInfo is the result of GetDocument.
type DocumentInfo struct {
	Path             string
	ChunkCount       int
	Size             int64
	ContentHash      string
	ExtractionMethod string
	IndexedAt        string
}

// GetDocument returns full metadata for a single indexed document.
func (p *Plane) GetDocument(ctx context.Context, path string) (*DocumentInfo, error) {
	file, err := p.metadata.GetFileByPath(ctx, p.projectID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	if file == nil {
		return nil, cerrors.NotFoundError(fmt.Sprintf("document not found: %s", path), nil)
	}
	return &DocumentInfo{
		Path:             file.Path,
		ChunkCount:       file.ChunkCount,
		Size:             file.Size,
		ContentHash:      file.ContentHash,
		ExtractionMethod: file.ExtractionMethod,
		IndexedAt:        file.IndexedAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// DeleteResult is the result of DeleteDocument.
type DeleteResult struct {
	ChunksDeleted   int
	DocumentDeleted bool
}

// DeleteDocument removes a document's chunks from both search indices
// and its File/progress rows from metadata. Engine.Delete only removes
// chunk-level index/metadata state, so the File row is removed here
// afterward.
func (p *Plane) DeleteDocument(ctx context.Context, path string) (*DeleteResult, error) {
	file, err := p.metadata.GetFileByPath(ctx, p.projectID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	if file == nil {
		return nil, cerrors.NotFoundError(fmt.Sprintf("document not found: %s", path), nil)
	}

	chunks, err := p.metadata.GetChunksByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %s: %w", path, err)
	}
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}

	if len(chunkIDs) > 0 {
		if err := p.engine.Delete(ctx, chunkIDs); err != nil {
			return nil, fmt.Errorf("failed to delete chunks for %s: %w", path, err)
		}
	}

	if err := p.metadata.DeleteFile(ctx, file.ID); err != nil {
		return nil, fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	if err := p.metadata.DeleteProgress(ctx, path); err != nil {
		return nil, fmt.Errorf("failed to delete progress for %s: %w", path, err)
	}

	if p.cache != nil {
		p.cache.InvalidateAll()
	}

	return &DeleteResult{ChunksDeleted: len(chunkIDs), DocumentDeleted: true}, nil
}

// ReindexResult is the result of ReindexDocument.
type ReindexResult struct {
	Deletion *DeleteResult
	Queued   bool
	Priority string
}

// ReindexDocument deletes a document's existing index state and
// re-enqueues it for ingestion at HIGH priority with force=true, so
// the pipeline reprocesses it even though its content hash matches the
// last-seen progress entry.
func (p *Plane) ReindexDocument(ctx context.Context, path string) (*ReindexResult, error) {
	deletion, err := p.DeleteDocument(ctx, path)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			deletion = &DeleteResult{}
		} else {
			return nil, err
		}
	}

	if _, err := p.pipeline.Enqueue(ctx, path, pqueue.High, true); err != nil {
		return nil, fmt.Errorf("failed to re-enqueue %s: %w", path, err)
	}

	return &ReindexResult{Deletion: deletion, Queued: true, Priority: pqueue.High.String()}, nil
}
