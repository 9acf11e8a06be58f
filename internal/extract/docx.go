package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/minara-dev/minara/internal/chunk"
)

// DocxExtractor reads the single flat text stream out of a .docx's
// word/document.xml. DOCX has no first-class page concept (page breaks
// are a rendering detail, not a document structure one), so the whole
// body is returned as one page; explicit <w:br w:type="page"/> breaks
// are used only to split paragraphs into approximate page groups.
//
// No example repo ships a DOCX parser, so this uses archive/zip and
// encoding/xml directly rather than a third-party OOXML library.
type DocxExtractor struct{}

func (DocxExtractor) Supports(ext string) bool {
	return ext == ".docx"
}

type docxBody struct {
	XMLName xml.Name  `xml:"document"`
	Body    docxBodyE `xml:"body"`
}

type docxBodyE struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs    []docxRun `xml:"r"`
	PageEnd bool
}

type docxRun struct {
	Text  []string `xml:"t"`
	Break []struct {
		Type string `xml:"type,attr"`
	} `xml:"br"`
}

func (DocxExtractor) Extract(_ context.Context, path string, content []byte) (string, []Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", nil, &ErrExtraction{Format: "docx", Path: path, Err: err}
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", nil, &ErrExtraction{Format: "docx", Path: path, Err: err}
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", nil, &ErrExtraction{Format: "docx", Path: path, Err: err}
			}
			break
		}
	}
	if docXML == nil {
		return "", nil, &ErrExtraction{Format: "docx", Path: path, Err: fmt.Errorf("word/document.xml not found")}
	}

	var body docxBody
	if err := xml.Unmarshal(docXML, &body); err != nil {
		return "", nil, &ErrExtraction{Format: "docx", Path: path, Err: err}
	}

	var pages []Page
	var current strings.Builder
	pageNo := 1

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			n := pageNo
			pages = append(pages, Page{Text: text, PageNo: &n, ContentType: chunk.ContentTypeText})
		}
		current.Reset()
	}

	for _, p := range body.Body.Paragraphs {
		brokePage := false
		for _, r := range p.Runs {
			for _, t := range r.Text {
				current.WriteString(t)
			}
			for _, br := range r.Break {
				if br.Type == "page" {
					brokePage = true
				}
			}
		}
		current.WriteString("\n")
		if brokePage {
			flush()
			pageNo++
		}
	}
	flush()

	if len(pages) == 0 {
		return "docx", nil, nil
	}
	return "docx", pages, nil
}
