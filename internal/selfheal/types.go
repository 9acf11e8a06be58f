// Package selfheal implements the startup orphan scan and maintenance
// operations the teacher's internal/index.Coordinator.ReconcileOnStartup
// and internal/index.ConsistencyChecker do separately: this module
// merges both shapes into the orphan taxonomy described for a single
// index, covering file-level orphans (progress/document mismatches) and
// entry-level orphans (chunk/vector/FTS mismatches) behind one
// dry-run-capable Scanner.
package selfheal

import (
	"context"
	"time"

	"github.com/minara-dev/minara/internal/pqueue"
)

// Class names one row of the orphan-detection table.
type Class string

const (
	ClassOrphanedFile      Class = "orphaned_file"       // progress completed, no document row
	ClassIncompleteFile    Class = "incomplete_file"     // progress pending/in_progress/failed
	ClassPhantomFile       Class = "phantom_file"        // document row, file absent from disk
	ClassEmptyDocument     Class = "empty_document"      // document row, chunk_count = 0
	ClassOrphanChunk       Class = "orphan_chunk"        // chunk row, no parent document
	ClassOrphanVector      Class = "orphan_vector"       // vector entry, no chunk
	ClassOrphanFTSEntry    Class = "orphan_fts_entry"    // FTS/BM25 entry, no chunk
	ClassIndexCountMismatch Class = "index_count_mismatch" // count(vector_index) != count(vector_table)
	ClassZeroChunkMissing  Class = "zero_chunk_missing_document" // completed, zero chunks, no document row
)

// RepairKind names what Apply does for a RepairAction.
type RepairKind string

const (
	RepairEnqueue       RepairKind = "enqueue"        // re-submit path at HIGH priority
	RepairDeleteFile    RepairKind = "delete_file"    // delete document row (cascades to chunks)
	RepairDeleteChunks  RepairKind = "delete_chunks"  // delete chunk rows by ID
	RepairDeleteVectors RepairKind = "delete_vectors" // delete vector entries by ID
	RepairDeleteFTS     RepairKind = "delete_fts"     // delete BM25/FTS entries by ID
	RepairRebuildVector RepairKind = "rebuild_vector" // rebuild vector index from vector table
	RepairRebuildFile   RepairKind = "rebuild_file"   // synthesize a zero-chunk document row
)

// RepairAction is one unit of detected-and-queued repair work. Scan
// returns these without applying them; Apply executes one.
type RepairAction struct {
	Class  Class
	Kind   RepairKind
	Path   string   // set for file-level classes
	IDs    []string // set for chunk/vector/FTS classes
	Detail string
}

// Report summarizes a completed Scan, counted per class.
type Report struct {
	Actions    []RepairAction
	Counts     map[Class]int
	ScannedAt  time.Time
	DryRun     bool
}

func newReport(dryRun bool) *Report {
	return &Report{
		Counts:    make(map[Class]int),
		ScannedAt: time.Now(),
		DryRun:    dryRun,
	}
}

func (r *Report) add(a RepairAction) {
	r.Actions = append(r.Actions, a)
	r.Counts[a.Class]++
}

// enqueuer is the narrow slice of internal/pipeline.Pipeline self-heal
// needs: re-submitting a path at a given priority without depending on
// the full pipeline package (avoids an import cycle, since pipeline may
// one day want to trigger a scan itself).
type enqueuer interface {
	Submit(ctx context.Context, path string, priority pqueue.Priority, force bool) error
}
