// Package extract implements the pluggable per-format Extractor contract
// that turns raw file bytes into plain-text pages ahead of chunking. The
// teacher's chunk.Chunker already parses code and Markdown directly;
// extract sits one layer below it, so formats the teacher never saw
// (PDF, DOCX, EPUB, Jupyter) can still be reduced to text the existing
// chunkers understand.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minara-dev/minara/internal/chunk"
)

// Page is one unit of extracted text. PageNo is nil when the source
// format has no native page concept (code, plain text, Markdown).
type Page struct {
	Text   string
	PageNo *int
	// ContentType hints which chunker should process this page when a
	// single document mixes kinds, e.g. a Jupyter notebook's code and
	// markdown cells.
	ContentType chunk.ContentType
}

// Extractor turns a file's raw bytes into a method tag and a sequence
// of pages. The method tag is persisted on the Document/File row
// (store.File.ExtractionMethod) for diagnostics and reconciliation.
type Extractor interface {
	Supports(ext string) bool
	Extract(ctx context.Context, path string, content []byte) (method string, pages []Page, err error)
}

// Registry dispatches to the first registered Extractor whose Supports
// matches the file's extension, falling back to PlainTextExtractor.
type Registry struct {
	extractors []Extractor
	fallback   Extractor
}

// NewRegistry builds the default extractor set covering every format
// named in spec §4.4.
func NewRegistry() *Registry {
	return &Registry{
		extractors: []Extractor{
			CodeExtractor{},
			MarkdownExtractor{},
			&PDFExtractor{},
			DocxExtractor{},
			EpubExtractor{},
			JupyterExtractor{},
		},
		fallback: PlainTextExtractor{},
	}
}

// For returns the extractor registered for ext, or the plain-text
// fallback if none matches.
func (r *Registry) For(ext string) Extractor {
	ext = strings.ToLower(ext)
	for _, e := range r.extractors {
		if e.Supports(ext) {
			return e
		}
	}
	return r.fallback
}

// Extract selects an extractor by path's extension and runs it.
func (r *Registry) Extract(ctx context.Context, path string, content []byte) (method string, pages []Page, err error) {
	ext := filepath.Ext(path)
	return r.For(ext).Extract(ctx, path, content)
}

func hasExt(ext string, candidates ...string) bool {
	for _, c := range candidates {
		if ext == c {
			return true
		}
	}
	return false
}

// CodeExtractor reads source files verbatim as a single page; no page
// concept applies to code.
type CodeExtractor struct{}

func (CodeExtractor) Supports(ext string) bool {
	_, ok := chunk.DefaultRegistry().GetByExtension(ext)
	return ok
}

func (CodeExtractor) Extract(_ context.Context, _ string, content []byte) (string, []Page, error) {
	return "code", []Page{{Text: string(content), ContentType: chunk.ContentTypeCode}}, nil
}

// MarkdownExtractor reads Markdown/Obsidian notes verbatim; the
// teacher's MarkdownChunker does its own header/frontmatter parsing
// downstream, so extraction here is a pass-through.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Supports(ext string) bool {
	return hasExt(ext, ".md", ".markdown", ".mdx")
}

func (MarkdownExtractor) Extract(_ context.Context, _ string, content []byte) (string, []Page, error) {
	return "markdown", []Page{{Text: string(content), ContentType: chunk.ContentTypeMarkdown}}, nil
}

// PlainTextExtractor is the fallback for any extension none of the
// format-specific extractors claim.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Supports(string) bool { return true }

func (PlainTextExtractor) Extract(_ context.Context, _ string, content []byte) (string, []Page, error) {
	return "plaintext", []Page{{Text: string(content), ContentType: chunk.ContentTypeText}}, nil
}

// ErrExtraction wraps a format-specific decode failure so the pipeline
// can distinguish it from other stage errors and drive the retryable-
// once repair path described in spec §4.4.
type ErrExtraction struct {
	Format string
	Path   string
	Err    error
}

func (e *ErrExtraction) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ErrExtraction) Unwrap() error { return e.Err }
