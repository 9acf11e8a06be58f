package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minara-dev/minara/internal/config"
	"github.com/minara-dev/minara/internal/store"
	"github.com/minara-dev/minara/internal/ui"
)

// DebugInfo is the full diagnostic snapshot `minara debug` prints, covering
// everything `status` shows plus the breakdown needed to triage a bad index
// without reaching for sqlite3 directly.
type DebugInfo struct {
	ProjectRoot string    `json:"project_root"`
	IndexPath   string    `json:"index_path"`
	LastIndexed time.Time `json:"last_indexed"`

	FileCount  int                `json:"file_count"`
	ChunkCount int                `json:"chunk_count"`
	Languages  map[string]float64 `json:"languages"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`

	BM25Backend string `json:"bm25_backend"`

	VectorCount      int `json:"vector_count"`
	EmbeddedChunks   int `json:"embedded_chunks"`
	UnembeddedChunks int `json:"unembedded_chunks"`

	MetadataSize int64 `json:"metadata_size"`
	BM25Size     int64 `json:"bm25_size"`
	VectorSize   int64 `json:"vector_size"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print detailed index diagnostics",
		Long: `Print a detailed diagnostic snapshot of the current project's index:
file and chunk counts, language breakdown, embedder configuration, BM25
and vector store sizes, and embedding coverage. Useful for triaging a
stale or partially-built index without opening the SQLite file directly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}
			dataDir := filepath.Join(root, ".minara")

			info, err := collectDebugInfo(cmd.Context(), root, dataDir)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			renderDebugInfo(cmd, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
		Languages:   map[string]float64{},
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return info, fmt.Errorf("no index found in %s\nRun 'minara index' to create one", root)
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	project, err := metadata.GetProject(ctx, projectID)
	if err == nil && project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.LastIndexed = project.IndexedAt
	}

	info.Languages = collectLanguages(ctx, metadata, projectID)

	withEmbedding, withoutEmbedding, err := metadata.GetEmbeddingStats(ctx)
	if err == nil {
		info.EmbeddedChunks = withEmbedding
		info.UnembeddedChunks = withoutEmbedding
		info.VectorCount = withEmbedding
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "embeddinggemma"
	}

	info.BM25Backend = cfg.Search.BM25Backend
	if info.BM25Backend == "" {
		info.BM25Backend = "sqlite"
	}

	info.MetadataSize = getFileSize(metadataPath)

	bm25SQLitePath := filepath.Join(dataDir, "bm25.db")
	bm25BlevePath := filepath.Join(dataDir, "bm25.bleve")
	if size := getFileSize(bm25SQLitePath); size > 0 {
		info.BM25Size = size
	} else {
		info.BM25Size = getDirSize(bm25BlevePath)
	}

	info.VectorSize = getFileSize(filepath.Join(dataDir, "vectors.hnsw"))

	return info, nil
}

// collectLanguages walks every tracked file and returns the fraction of
// files per language, keyed by the file's detected language.
func collectLanguages(ctx context.Context, metadata store.MetadataStore, projectID string) map[string]float64 {
	counts := map[string]int{}
	total := 0

	cursor := ""
	for {
		files, next, err := metadata.ListFiles(ctx, projectID, cursor, 500)
		if err != nil {
			break
		}
		for _, f := range files {
			lang := f.Language
			if lang == "" {
				lang = "unknown"
			}
			counts[lang]++
			total++
		}
		if next == "" || len(files) == 0 {
			break
		}
		cursor = next
	}

	if total == 0 {
		return map[string]float64{}
	}

	langs := make(map[string]float64, len(counts))
	for lang, count := range counts {
		langs[lang] = float64(count) / float64(total)
	}
	return langs
}

func renderDebugInfo(cmd *cobra.Command, info DebugInfo) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Minara Debug Info\n")
	fmt.Fprintf(out, "==================\n\n")
	fmt.Fprintf(out, "Project:  %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index:    %s\n\n", info.IndexPath)

	fmt.Fprintf(out, "FILES & CHUNKS\n")
	fmt.Fprintf(out, "  Files:         %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:        %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Last indexed:  %s\n", formatAge(info.LastIndexed))
	fmt.Fprintf(out, "  Languages:     %s\n\n", formatLanguages(info.Languages))

	fmt.Fprintf(out, "EMBEDDER\n")
	fmt.Fprintf(out, "  Provider:      %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:         %s\n", info.EmbedderModel)
	fmt.Fprintf(out, "  Embedded:      %s / %s chunks\n\n",
		formatNumber(info.EmbeddedChunks), formatNumber(info.EmbeddedChunks+info.UnembeddedChunks))

	fmt.Fprintf(out, "BM25 INDEX\n")
	fmt.Fprintf(out, "  Backend:       %s\n", info.BM25Backend)
	fmt.Fprintf(out, "  Size:          %s\n\n", ui.FormatBytes(info.BM25Size))

	fmt.Fprintf(out, "VECTOR STORE\n")
	fmt.Fprintf(out, "  Vectors:       %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(out, "  Size:          %s\n\n", ui.FormatBytes(info.VectorSize))

	fmt.Fprintf(out, "STORAGE\n")
	fmt.Fprintf(out, "  Metadata:      %s\n", ui.FormatBytes(info.MetadataSize))
	fmt.Fprintf(out, "  BM25:          %s\n", ui.FormatBytes(info.BM25Size))
	fmt.Fprintf(out, "  Vectors:       %s\n", ui.FormatBytes(info.VectorSize))
	fmt.Fprintf(out, "  Total:         %s\n", ui.FormatBytes(info.MetadataSize+info.BM25Size+info.VectorSize))
}

// formatAge renders a timestamp as a short relative duration, the way
// `git log --relative-date` does.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var groups []string
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)

	result := strings.Join(groups, ",")
	if neg {
		result = "-" + result
	}
	return result
}

// formatLanguages renders a language->fraction map sorted by descending
// share, e.g. "go (50%), ts (30%), md (20%)".
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}

	type entry struct {
		lang string
		frac float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, frac := range langs {
		entries = append(entries, entry{lang, frac})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].frac != entries[j].frac {
			return entries[i].frac > entries[j].frac
		}
		return entries[i].lang < entries[j].lang
	})

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", e.lang, e.frac*100))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension maps file extension aliases to a single canonical
// language label (tsx/ts, jsx/js/mjs, yml/yaml, htm/html).
func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}
