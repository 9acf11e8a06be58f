package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minara-dev/minara/internal/chunk"
)

func TestRegistry_DispatchesByExtension(t *testing.T) {
	r := NewRegistry()

	assert.IsType(t, MarkdownExtractor{}, r.For(".md"))
	assert.IsType(t, CodeExtractor{}, r.For(".go"))
	assert.IsType(t, &PDFExtractor{}, r.For(".pdf"))
	assert.IsType(t, DocxExtractor{}, r.For(".docx"))
	assert.IsType(t, EpubExtractor{}, r.For(".epub"))
	assert.IsType(t, JupyterExtractor{}, r.For(".ipynb"))
	assert.IsType(t, PlainTextExtractor{}, r.For(".xyz"))
}

func TestPlainTextExtractor(t *testing.T) {
	method, pages, err := PlainTextExtractor{}.Extract(context.Background(), "notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "plaintext", method)
	require.Len(t, pages, 1)
	assert.Equal(t, "hello", pages[0].Text)
	assert.Nil(t, pages[0].PageNo)
}

func TestJupyterExtractor_OnePagePerCell(t *testing.T) {
	notebook := []byte(`{
		"cells": [
			{"cell_type": "markdown", "source": ["# Title\n", "intro"]},
			{"cell_type": "code", "source": "print('hi')"},
			{"cell_type": "code", "source": [""]}
		]
	}`)

	method, pages, err := JupyterExtractor{}.Extract(context.Background(), "nb.ipynb", notebook)
	require.NoError(t, err)
	assert.Equal(t, "jupyter", method)
	require.Len(t, pages, 2)
	assert.Equal(t, chunk.ContentTypeMarkdown, pages[0].ContentType)
	assert.Equal(t, chunk.ContentTypeCode, pages[1].ContentType)
	assert.Equal(t, 1, *pages[0].PageNo)
	assert.Equal(t, 2, *pages[1].PageNo)
}

func TestEpubExtractor_ReadsSpineInOrder(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("META-INF/container.xml", `<?xml version="1.0"?>
<container><rootfiles><rootfile full-path="OEBPS/content.opf"/></rootfiles></container>`)
	write("OEBPS/content.opf", `<?xml version="1.0"?>
<package><manifest>
<item id="c1" href="ch1.xhtml"/>
<item id="c2" href="ch2.xhtml"/>
</manifest><spine>
<itemref idref="c1"/><itemref idref="c2"/>
</spine></package>`)
	write("OEBPS/ch1.xhtml", `<html><body><p>Chapter one text.</p></body></html>`)
	write("OEBPS/ch2.xhtml", `<html><body><p>Chapter two text.</p></body></html>`)
	require.NoError(t, zw.Close())

	method, pages, err := EpubExtractor{}.Extract(context.Background(), "book.epub", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "epub", method)
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0].Text, "Chapter one")
	assert.Contains(t, pages[1].Text, "Chapter two")
}

func TestDocxExtractor_ExtractsParagraphText(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<document><body>
<p><r><t>Hello </t></r><r><t>world.</t></r></p>
</body></document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	method, pages, err := DocxExtractor{}.Extract(context.Background(), "doc.docx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "docx", method)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, "Hello")
	assert.Contains(t, pages[0].Text, "world.")
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello world.", stripHTML("<p>Hello <b>world</b>.</p>"))
}
