package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/minara-dev/minara/internal/chunk"
)

// EpubExtractor reads an EPUB's OPF manifest/spine to find chapter
// documents in reading order, then strips HTML tags from each chapter
// to produce one page per chapter. EPUB is a zip container like DOCX,
// so this also uses archive/zip + encoding/xml rather than a
// third-party EPUB library.
type EpubExtractor struct{}

func (EpubExtractor) Supports(ext string) bool {
	return ext == ".epub"
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest struct {
		Items []struct {
			ID   string `xml:"id,attr"`
			Href string `xml:"href,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(s string) string {
	text := htmlTagPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func (EpubExtractor) Extract(_ context.Context, filePath string, content []byte) (string, []Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: err}
	}

	containerXML, err := readZipFile(zr, "META-INF/container.xml")
	if err != nil {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: err}
	}
	var container epubContainer
	if err := xml.Unmarshal(containerXML, &container); err != nil || len(container.Rootfiles) == 0 {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: fmt.Errorf("no rootfile in container.xml")}
	}
	opfPath := container.Rootfiles[0].FullPath

	opfXML, err := readZipFile(zr, opfPath)
	if err != nil {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: err}
	}
	var pkg epubPackage
	if err := xml.Unmarshal(opfXML, &pkg); err != nil {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: err}
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
	}

	opfDir := path.Dir(opfPath)
	var pages []Page
	pageNo := 1
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		chapterPath := path.Join(opfDir, href)
		raw, err := readZipFile(zr, chapterPath)
		if err != nil {
			continue // missing chapter file: skip, don't fail the whole book
		}
		text := stripHTML(string(raw))
		if text == "" {
			continue
		}
		n := pageNo
		pages = append(pages, Page{Text: text, PageNo: &n, ContentType: chunk.ContentTypeText})
		pageNo++
	}

	if len(pages) == 0 {
		return "", nil, &ErrExtraction{Format: "epub", Path: filePath, Err: fmt.Errorf("no readable chapters in spine")}
	}
	return "epub", pages, nil
}
