package selfheal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/store"
	"github.com/minara-dev/minara/internal/vectorindex"
)

// Scanner runs the orphan-detection table against one project's stores
// and produces RepairActions. It never mutates state on its own; Apply
// does that.
//
// Grounded on the teacher's internal/index.Coordinator.ReconcileOnStartup
// (file-level progress/document diffing) and
// internal/index.ConsistencyChecker (entry-level chunk/vector/FTS
// diffing), merged into the single orphan taxonomy.
type Scanner struct {
	ProjectID string
	RootPath  string

	Metadata store.MetadataStore
	Keyword  store.BM25Index // BM25 or FTS backend; both satisfy the same interface
	Vector   *vectorindex.Index
}

// Scan runs every check in the orphan-detection table and returns the
// full set of repair actions it would take, without applying any of
// them. Callers pass the same Report to Apply, or to ReportFor a dry
// run.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	report := newReport(false)

	if err := s.scanFiles(ctx, report); err != nil {
		return nil, fmt.Errorf("file-level scan failed: %w", err)
	}
	if err := s.scanOrphanChunks(ctx, report); err != nil {
		return nil, fmt.Errorf("orphan-chunk scan failed: %w", err)
	}
	if err := s.scanEntryConsistency(ctx, report); err != nil {
		return nil, fmt.Errorf("entry-consistency scan failed: %w", err)
	}
	if err := s.scanIndexCountMismatch(ctx, report); err != nil {
		return nil, fmt.Errorf("index-count scan failed: %w", err)
	}

	return report, nil
}

// scanFiles covers the four document-level rows of the table: orphaned
// files, incomplete files, phantom files, empty documents, and the
// zero-chunk-missing-document edge case. It walks ProcessingProgress
// rows (the source of truth for in-flight work) and File rows (the
// source of truth for committed documents) and reconciles the two,
// mirroring ReconcileFilesOnStartup's "diff indexed-vs-actual" shape.
func (s *Scanner) scanFiles(ctx context.Context, report *Report) error {
	files, err := s.Metadata.GetFilesForReconciliation(ctx, s.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load files: %w", err)
	}

	for path, f := range files {
		if _, err := os.Lstat(filepath.Join(s.RootPath, path)); os.IsNotExist(err) {
			report.add(RepairAction{
				Class:  ClassPhantomFile,
				Kind:   RepairDeleteFile,
				Path:   path,
				Detail: "document row exists but file is absent from disk",
			})
			continue
		}

		if f.ChunkCount == 0 {
			report.add(RepairAction{
				Class:  ClassEmptyDocument,
				Kind:   RepairDeleteFile,
				Path:   path,
				Detail: "document row has zero chunks",
			})
		}
	}

	for _, status := range []store.ProcessingStatus{
		store.ProgressPending, store.ProgressInProgress, store.ProgressFailed,
	} {
		progresses, err := s.Metadata.ListProgressByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list %s progress: %w", status, err)
		}
		for _, p := range progresses {
			report.add(RepairAction{
				Class:  ClassIncompleteFile,
				Kind:   RepairEnqueue,
				Path:   p.Path,
				Detail: fmt.Sprintf("progress stuck at %s", status),
			})
		}
	}

	completed, err := s.Metadata.ListProgressByStatus(ctx, store.ProgressCompleted)
	if err != nil {
		return fmt.Errorf("failed to list completed progress: %w", err)
	}
	for _, p := range completed {
		if _, ok := files[p.Path]; ok {
			continue
		}

		fileID := fingerprint.FileID(s.ProjectID, p.Path)
		chunks, err := s.Metadata.GetChunksByFile(ctx, fileID)
		if err != nil {
			return fmt.Errorf("failed to check chunks for %s: %w", p.Path, err)
		}

		if len(chunks) == 0 {
			report.add(RepairAction{
				Class:  ClassZeroChunkMissing,
				Kind:   RepairRebuildFile,
				Path:   p.Path,
				Detail: "progress completed with zero chunks, no document row",
			})
			continue
		}

		report.add(RepairAction{
			Class:  ClassOrphanedFile,
			Kind:   RepairEnqueue,
			Path:   p.Path,
			Detail: "progress completed but no document row exists",
		})
	}

	return nil
}

// scanOrphanChunks finds chunk rows left behind by a partial commit or
// crash between deleting a file's old generation and inserting the new
// one.
func (s *Scanner) scanOrphanChunks(ctx context.Context, report *Report) error {
	ids, err := s.Metadata.ListOrphanChunkIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	report.add(RepairAction{
		Class:  ClassOrphanChunk,
		Kind:   RepairDeleteChunks,
		IDs:    ids,
		Detail: fmt.Sprintf("%d chunk rows with no parent document", len(ids)),
	})
	return nil
}

// scanEntryConsistency diffs the keyword and vector stores against the
// set of chunk IDs that have a saved embedding (the teacher's
// ConsistencyChecker.Check uses the same set as its source of truth).
func (s *Scanner) scanEntryConsistency(ctx context.Context, report *Report) error {
	embeddings, err := s.Metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	known := make(map[string]bool, len(embeddings))
	for id := range embeddings {
		known[id] = true
	}

	if s.Keyword != nil {
		keywordIDs, err := s.Keyword.AllIDs()
		if err != nil {
			return fmt.Errorf("failed to list keyword index IDs: %w", err)
		}
		var orphan []string
		for _, id := range keywordIDs {
			if !known[id] {
				orphan = append(orphan, id)
			}
		}
		if len(orphan) > 0 {
			report.add(RepairAction{
				Class:  ClassOrphanFTSEntry,
				Kind:   RepairDeleteFTS,
				IDs:    orphan,
				Detail: fmt.Sprintf("%d keyword-index entries with no chunk", len(orphan)),
			})
		}
	}

	if s.Vector != nil {
		var orphan []string
		for _, id := range s.Vector.AllIDs() {
			if !known[id] {
				orphan = append(orphan, id)
			}
		}
		if len(orphan) > 0 {
			report.add(RepairAction{
				Class:  ClassOrphanVector,
				Kind:   RepairDeleteVectors,
				IDs:    orphan,
				Detail: fmt.Sprintf("%d vector entries with no chunk", len(orphan)),
			})
		}
	}

	return nil
}

// scanIndexCountMismatch is the teacher's ConsistencyChecker.QuickCheck,
// narrowed to just the vector side since that is the one with a direct
// rebuild path (RebuildFromVectors).
func (s *Scanner) scanIndexCountMismatch(ctx context.Context, report *Report) error {
	if s.Vector == nil {
		return nil
	}
	embeddings, err := s.Metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	if s.Vector.Count() != len(embeddings) {
		report.add(RepairAction{
			Class:  ClassIndexCountMismatch,
			Kind:   RepairRebuildVector,
			Detail: fmt.Sprintf("vector index has %d entries, vector table has %d", s.Vector.Count(), len(embeddings)),
		})
	}
	return nil
}
