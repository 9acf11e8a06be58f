package selfheal

import (
	"context"
	"fmt"

	"github.com/minara-dev/minara/internal/pqueue"
	"github.com/minara-dev/minara/internal/store"
)

// IntegrityReport is the result of verify_integrity: a full scan with
// no repairs applied.
type IntegrityReport struct {
	Counts     map[Class]int
	Consistent bool
}

// VerifyIntegrity runs every check and reports counts without
// repairing anything, regardless of how Healer.Heal would be invoked
// elsewhere.
func (h *Healer) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report, err := h.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &IntegrityReport{
		Counts:     report.Counts,
		Consistent: len(report.Actions) == 0,
	}, nil
}

// CleanupOrphansResult counts repairs per orphan class.
type CleanupOrphansResult struct {
	Counts map[Class]int
	DryRun bool
}

// orphanClasses is every class cleanup_orphans is responsible for; it
// excludes ClassIncompleteFile, which reindex_failed_documents owns,
// and ClassIndexCountMismatch, which repair_indexes owns.
var orphanClasses = map[Class]bool{
	ClassOrphanedFile:     true,
	ClassPhantomFile:      true,
	ClassEmptyDocument:    true,
	ClassOrphanChunk:      true,
	ClassOrphanVector:     true,
	ClassOrphanFTSEntry:   true,
	ClassZeroChunkMissing: true,
}

// CleanupOrphans applies (or, if dryRun, just reports) every action in
// the orphan-class subset of the table: orphaned/phantom/empty
// documents, orphan chunks/vectors/FTS entries, and the zero-chunk
// edge case. Index count mismatch and incomplete files are left to
// RepairIndexes and ReindexFailedDocuments respectively.
func (h *Healer) CleanupOrphans(ctx context.Context, dryRun bool) (*CleanupOrphansResult, error) {
	report, err := h.Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := &CleanupOrphansResult{Counts: make(map[Class]int), DryRun: dryRun}
	for _, action := range report.Actions {
		if !orphanClasses[action.Class] {
			continue
		}
		result.Counts[action.Class]++
		if dryRun {
			continue
		}
		if err := h.apply(ctx, action); err != nil {
			return nil, fmt.Errorf("failed to apply %s repair for %s: %w", action.Class, action.Path, err)
		}
	}
	return result, nil
}

// RebuildResult is the shared shape for rebuild_vector_index and
// rebuild_fts_index.
type RebuildResult struct {
	Rebuilt bool
	Count   int
}

// RebuildVectorIndex rebuilds the vector index from the vector table,
// matching spec.md's index-count-mismatch repair regardless of whether
// a mismatch was actually detected (an explicit rebuild request is
// unconditional).
func (h *Healer) RebuildVectorIndex(ctx context.Context, dryRun bool) (*RebuildResult, error) {
	if h.Vector == nil {
		return &RebuildResult{}, nil
	}
	embeddings, err := h.Metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	if dryRun {
		return &RebuildResult{Rebuilt: false, Count: len(embeddings)}, nil
	}
	if err := h.Vector.RebuildFromVectors(ctx, h.Metadata); err != nil {
		return nil, err
	}
	return &RebuildResult{Rebuilt: true, Count: len(embeddings)}, nil
}

// RebuildFTSIndex re-indexes every chunk into the keyword store from
// metadata, the FTS-side equivalent of RebuildVectorIndex.
func (h *Healer) RebuildFTSIndex(ctx context.Context, dryRun bool) (*RebuildResult, error) {
	if h.Keyword == nil {
		return &RebuildResult{}, nil
	}

	ids, err := h.Keyword.AllIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list existing keyword entries: %w", err)
	}

	embeddings, err := h.Metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	chunkIDs := make([]string, 0, len(embeddings))
	for id := range embeddings {
		chunkIDs = append(chunkIDs, id)
	}

	if dryRun {
		return &RebuildResult{Rebuilt: false, Count: len(chunkIDs)}, nil
	}

	if len(ids) > 0 {
		if err := h.Keyword.Delete(ctx, ids); err != nil {
			return nil, fmt.Errorf("failed to clear keyword index: %w", err)
		}
	}

	chunks, err := h.Metadata.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for rebuild: %w", err)
	}
	docs := make([]*store.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, &store.Document{ID: c.ID, Content: c.Content})
	}
	if len(docs) > 0 {
		if err := h.Keyword.Index(ctx, docs); err != nil {
			return nil, fmt.Errorf("failed to rebuild keyword index: %w", err)
		}
	}

	return &RebuildResult{Rebuilt: true, Count: len(docs)}, nil
}

// RepairIndexesResult combines both rebuild operations.
type RepairIndexesResult struct {
	Vector RebuildResult
	FTS    RebuildResult
}

// RepairIndexes runs RebuildVectorIndex and RebuildFTSIndex together.
func (h *Healer) RepairIndexes(ctx context.Context, dryRun bool) (*RepairIndexesResult, error) {
	vec, err := h.RebuildVectorIndex(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	fts, err := h.RebuildFTSIndex(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	return &RepairIndexesResult{Vector: *vec, FTS: *fts}, nil
}

// ReindexFailedDocumentsResult reports how many paths were queued.
type ReindexFailedDocumentsResult struct {
	DocumentsQueued int
}

// ReindexFailedDocuments re-enqueues every path whose progress is
// pending/in_progress/failed at HIGH priority, the same repair the
// incomplete-files row of the orphan table calls for. issueTypes
// narrows which of those three statuses to include; nil means all.
func (h *Healer) ReindexFailedDocuments(ctx context.Context, issueTypes []store.ProcessingStatus, dryRun bool) (*ReindexFailedDocumentsResult, error) {
	statuses := issueTypes
	if len(statuses) == 0 {
		statuses = []store.ProcessingStatus{store.ProgressPending, store.ProgressInProgress, store.ProgressFailed}
	}

	var paths []string
	seen := make(map[string]bool)
	for _, status := range statuses {
		progresses, err := h.Metadata.ListProgressByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s progress: %w", status, err)
		}
		for _, p := range progresses {
			if seen[p.Path] {
				continue
			}
			seen[p.Path] = true
			paths = append(paths, p.Path)
		}
	}

	if dryRun {
		return &ReindexFailedDocumentsResult{DocumentsQueued: len(paths)}, nil
	}

	if h.Enqueue == nil {
		return nil, fmt.Errorf("no enqueuer configured")
	}
	for _, path := range paths {
		if err := h.Enqueue.Submit(ctx, path, pqueue.High, true); err != nil {
			return nil, fmt.Errorf("failed to enqueue %s: %w", path, err)
		}
	}
	return &ReindexFailedDocumentsResult{DocumentsQueued: len(paths)}, nil
}
