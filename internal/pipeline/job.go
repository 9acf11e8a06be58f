package pipeline

import (
	"os"
	"time"

	"github.com/minara-dev/minara/internal/graph"
	"github.com/minara-dev/minara/internal/store"
)

// rawJob is dequeued straight from the priority queue: a path waiting
// for its chunk stage turn.
type rawJob struct {
	path     string
	priority int
	force    bool
	queuedAt time.Time
}

// chunkedDoc is the chunk stage's output: content has been validated,
// extracted, and split into chunks with no embeddings yet.
type chunkedDoc struct {
	path             string
	fileID           string
	info             os.FileInfo
	contentHash      string
	language         string
	contentType      string
	extractionMethod string
	chunks           []*store.Chunk
	graphEdges       []*graph.Edge
	rawContent       string
	startedAt        time.Time
}

// embeddedDoc adds embeddings for every chunk in a chunkedDoc, aligned
// by index.
type embeddedDoc struct {
	chunkedDoc
	embeddings [][]float32
}
