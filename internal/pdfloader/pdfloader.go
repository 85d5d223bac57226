// Package pdfloader extracts plain text from PDF files, one entry per page.
package pdfloader

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	ErrNoText    = errors.New("no text content found in PDF")
	ErrMalformed = errors.New("malformed PDF")
)

// Document is the extracted text of one PDF. Pages[i] holds page i+1 and is
// empty when the page had no extractable text.
type Document struct {
	Name  string
	Path  string
	Pages []string
}

// Extractor turns a file on disk into a Document.
type Extractor interface {
	Extract(path string) (*Document, error)
}

// PDFExtractor extracts text with ledongthuc/pdf.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads every page of path. The pdf package panics on some damaged
// files; such a panic is returned as ErrMalformed.
func (e *PDFExtractor) Extract(path string) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%s: %w: %v", filepath.Base(path), ErrMalformed, r)
		}
	}()
	return e.extract(path)
}

func (e *PDFExtractor) extract(path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF %s has no pages", path)
	}

	doc := &Document{
		Name:  filepath.Base(path),
		Path:  path,
		Pages: make([]string, numPages),
	}
	hasText := false
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(func() (string, error) { return page.GetPlainText(nil) })
		if err != nil {
			log.Printf("Skipping page %d of %s: %v", i, doc.Name, err)
			continue
		}
		text = strings.TrimSpace(text)
		doc.Pages[i-1] = text
		if text != "" {
			hasText = true
		}
	}

	if !hasText {
		return nil, fmt.Errorf("%s: %w", doc.Name, ErrNoText)
	}
	return doc, nil
}

// IsPDF reports whether name carries a .pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// ListPDFs returns the PDF files directly inside dir, sorted by name. Hidden
// files are skipped. A missing directory yields an empty list.
func ListPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read PDF directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !IsPDF(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// pageText runs get and converts a panic into an error so that one damaged
// page does not lose the rest of the document.
func pageText(get func() (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	return get()
}
