package control

import (
	"context"
	"fmt"

	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/selfheal"
	"github.com/minara-dev/minara/internal/store"
)

// VerifyIntegrity scans for every orphan-taxonomy class without
// repairing anything.
func (p *Plane) VerifyIntegrity(ctx context.Context) (*selfheal.IntegrityReport, error) {
	return p.healer.VerifyIntegrity(ctx)
}

// CleanupOrphans removes orphan chunks/vectors/FTS entries and phantom
// or empty documents. dryRun reports counts without applying them.
func (p *Plane) CleanupOrphans(ctx context.Context, dryRun bool) (*selfheal.CleanupOrphansResult, error) {
	return p.healer.CleanupOrphans(ctx, dryRun)
}

// RebuildVectorIndex rebuilds the vector index from the persisted
// embeddings table.
func (p *Plane) RebuildVectorIndex(ctx context.Context, dryRun bool) (*selfheal.RebuildResult, error) {
	return p.healer.RebuildVectorIndex(ctx, dryRun)
}

// RebuildFTSIndex rebuilds the full-text index from persisted chunks.
func (p *Plane) RebuildFTSIndex(ctx context.Context, dryRun bool) (*selfheal.RebuildResult, error) {
	return p.healer.RebuildFTSIndex(ctx, dryRun)
}

// RepairIndexes rebuilds both the vector and FTS indices.
func (p *Plane) RepairIndexes(ctx context.Context, dryRun bool) (*selfheal.RepairIndexesResult, error) {
	return p.healer.RepairIndexes(ctx, dryRun)
}

// ReindexFailedDocuments re-enqueues documents stuck in a non-terminal
// processing state. An empty issueTypes filters to every non-terminal
// status.
func (p *Plane) ReindexFailedDocuments(ctx context.Context, issueTypes []string, dryRun bool) (*selfheal.ReindexFailedDocumentsResult, error) {
	statuses, err := parseProgressStatuses(issueTypes)
	if err != nil {
		return nil, err
	}
	return p.healer.ReindexFailedDocuments(ctx, statuses, dryRun)
}

// parseProgressStatuses maps spec's issue_types strings onto
// store.ProcessingStatus. An empty slice means "all non-terminal
// statuses" and is left for Healer.ReindexFailedDocuments to expand.
func parseProgressStatuses(issueTypes []string) ([]store.ProcessingStatus, error) {
	if len(issueTypes) == 0 {
		return nil, nil
	}
	statuses := make([]store.ProcessingStatus, 0, len(issueTypes))
	for _, t := range issueTypes {
		status := store.ProcessingStatus(t)
		switch status {
		case store.ProgressPending, store.ProgressInProgress, store.ProgressFailed:
			statuses = append(statuses, status)
		default:
			return nil, cerrors.BadRequestError(fmt.Sprintf("unknown issue type: %s", t), nil)
		}
	}
	return statuses, nil
}
