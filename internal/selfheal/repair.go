package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/minara-dev/minara/internal/fingerprint"
	"github.com/minara-dev/minara/internal/pqueue"
	"github.com/minara-dev/minara/internal/store"
)

// Healer applies the RepairActions a Scanner produces. It embeds the
// Scanner's dependencies plus an enqueuer for the two classes that
// repair by re-submitting a path.
type Healer struct {
	*Scanner
	Enqueue enqueuer
}

// Heal scans and, unless dryRun is true, applies every action found.
// The returned Report always reflects what was found; DryRun on the
// report records whether Apply actually ran.
func (h *Healer) Heal(ctx context.Context, dryRun bool) (*Report, error) {
	report, err := h.Scan(ctx)
	if err != nil {
		return nil, err
	}
	report.DryRun = dryRun
	if dryRun {
		return report, nil
	}

	for _, action := range report.Actions {
		if err := h.apply(ctx, action); err != nil {
			slog.Warn("self-heal repair failed",
				slog.String("class", string(action.Class)),
				slog.String("path", action.Path),
				slog.String("error", err.Error()))
		}
	}
	return report, nil
}

func (h *Healer) apply(ctx context.Context, action RepairAction) error {
	switch action.Kind {
	case RepairEnqueue:
		if h.Enqueue == nil {
			return fmt.Errorf("no enqueuer configured for %s", action.Path)
		}
		return h.Enqueue.Submit(ctx, action.Path, pqueue.High, true)

	case RepairDeleteFile:
		file, err := h.Metadata.GetFileByPath(ctx, h.ProjectID, action.Path)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", action.Path, err)
		}
		if file == nil {
			return nil // already gone
		}
		if err := h.Metadata.DeleteFile(ctx, file.ID); err != nil {
			return fmt.Errorf("failed to delete document for %s: %w", action.Path, err)
		}
		return h.Metadata.DeleteProgress(ctx, action.Path)

	case RepairDeleteChunks:
		if len(action.IDs) == 0 {
			return nil
		}
		return h.Metadata.DeleteChunks(ctx, action.IDs)

	case RepairDeleteVectors:
		if h.Vector == nil || len(action.IDs) == 0 {
			return nil
		}
		return h.Vector.Delete(ctx, action.IDs)

	case RepairDeleteFTS:
		if h.Keyword == nil || len(action.IDs) == 0 {
			return nil
		}
		return h.Keyword.Delete(ctx, action.IDs)

	case RepairRebuildVector:
		if h.Vector == nil {
			return nil
		}
		return h.Vector.RebuildFromVectors(ctx, h.Metadata)

	case RepairRebuildFile:
		return h.rebuildFile(ctx, action.Path)

	default:
		return fmt.Errorf("unknown repair kind %q", action.Kind)
	}
}

// rebuildFile synthesizes a zero-chunk document row for a path whose
// progress says "completed" but which produced no chunks, so that
// list_documents/health see it as indexed instead of re-flagging it as
// orphaned on every future scan.
func (h *Healer) rebuildFile(ctx context.Context, path string) error {
	progress, err := h.Metadata.GetProgress(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load progress for %s: %w", path, err)
	}

	info, statErr := os.Lstat(filepath.Join(h.RootPath, path))
	var size int64
	var modTime time.Time
	if statErr == nil {
		size = info.Size()
		modTime = info.ModTime()
	}

	extractionMethod := ""
	contentHash := ""
	if progress != nil {
		extractionMethod = progress.ExtractionMethod
		contentHash = progress.ContentHash
	}

	file := &store.File{
		ID:               fingerprint.FileID(h.ProjectID, path),
		ProjectID:        h.ProjectID,
		Path:             path,
		Size:             size,
		ModTime:          modTime,
		ContentHash:      contentHash,
		IndexedAt:        time.Now(),
		ChunkCount:       0,
		ExtractionMethod: extractionMethod,
	}
	return h.Metadata.SaveFiles(ctx, []*store.File{file})
}
