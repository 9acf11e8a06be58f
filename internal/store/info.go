package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmbedderInfoInput carries the current embedder's identity for the
// compatibility comparison in IndexInfo.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles a full IndexInfo snapshot for the `index info`
// command: embedding configuration as stored in the index, current chunk/
// document counts, on-disk sizes, and compatibility against the embedder
// currently configured.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	info := &IndexInfo{
		Location: dataDir,
	}

	indexModel, err := metadata.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to read index model: %w", err)
	}
	info.IndexModel = indexModel
	info.IndexBackend = inferBackendFromModel(indexModel)

	dimStr, err := metadata.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to read index dimension: %w", err)
	}
	if dimStr != "" {
		fmt.Sscanf(dimStr, "%d", &info.IndexDimensions)
	}

	withEmb, _, err := metadata.GetEmbeddingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding stats: %w", err)
	}
	info.ChunkCount = withEmb

	info.BM25SizeBytes = getDirSize(GetBM25IndexPath(dataDir, string(DetectBM25Backend(filepath.Join(dataDir, "bm25")))))
	info.VectorSizeBytes = getDirSize(filepath.Join(dataDir, "vectors.hnsw"))
	info.IndexSizeBytes = getDirSize(dataDir)

	if info.Location != "" {
		info.ProjectRoot = filepath.Dir(info.Location)
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.CurrentDimensions == info.IndexDimensions
	}

	return info, nil
}

// inferBackendFromModel guesses the embedder backend from a model name
// or path, using the same conventions the teacher's embed config parser
// recognizes (static fallback, MLX local paths, Ollama model tags).
func inferBackendFromModel(model string) string {
	switch {
	case model == "":
		return ""
	case strings.HasPrefix(model, "static"):
		return "static"
	case filepath.IsAbs(model):
		return "mlx"
	case containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub == "" {
			continue
		}
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// getDirSize returns the total size in bytes of path. For a regular file
// it returns that file's size; for a directory it sums all files beneath
// it; a missing path returns 0.
func getDirSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}

	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// FormatBytes renders a byte count as a human-readable size string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for human display, or "unknown" for the
// zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}
