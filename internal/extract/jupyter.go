package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/minara-dev/minara/internal/chunk"
)

// JupyterExtractor decodes a .ipynb notebook's cell array, emitting one
// page per cell so each cell becomes its own chunk downstream: code
// cells tagged ContentTypeCode (fed to the teacher's CodeChunker),
// markdown cells tagged ContentTypeMarkdown (fed to MarkdownChunker).
// Cell index stands in for a page number, since notebooks have no
// native pagination.
type JupyterExtractor struct{}

func (JupyterExtractor) Supports(ext string) bool {
	return ext == ".ipynb"
}

type jupyterNotebook struct {
	Cells []jupyterCell `json:"cells"`
}

type jupyterCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// cellSource unmarshals a cell's "source" field, which Jupyter encodes
// either as a single string or a list of lines to be joined.
func cellSource(raw json.RawMessage) string {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}

func (JupyterExtractor) Extract(_ context.Context, path string, content []byte) (string, []Page, error) {
	var nb jupyterNotebook
	if err := json.Unmarshal(content, &nb); err != nil {
		return "", nil, &ErrExtraction{Format: "jupyter", Path: path, Err: err}
	}

	var pages []Page
	for i, cell := range nb.Cells {
		text := strings.TrimSpace(cellSource(cell.Source))
		if text == "" {
			continue
		}

		contentType := chunk.ContentTypeText
		switch cell.CellType {
		case "code":
			contentType = chunk.ContentTypeCode
		case "markdown":
			contentType = chunk.ContentTypeMarkdown
		}

		n := i + 1
		pages = append(pages, Page{Text: text, PageNo: &n, ContentType: contentType})
	}

	return "jupyter", pages, nil
}
