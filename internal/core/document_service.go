package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/pdfloader"
	"lte.dev/doc-chatbot/internal/store"
)

// Indexer stores chunks for retrieval.
type Indexer interface {
	IndexChunks(ctx context.Context, chunks []chunker.Chunk) (int, error)
}

// DocumentRegistry remembers which documents were indexed.
type DocumentRegistry interface {
	RecordDocument(name string, chunks int) error
	ListDocuments() ([]store.DocumentRecord, error)
}

// DocumentService turns PDFs into indexed chunks.
type DocumentService struct {
	indexer      Indexer
	extractor    pdfloader.Extractor
	splitter     *chunker.Splitter
	registry     DocumentRegistry
	pdfDir       string
	preferredPDF string
}

// NewDocumentService wires the indexing pipeline. A nil indexer means the
// service is not configured and every indexing call fails with
// ErrNotConfigured.
func NewDocumentService(indexer Indexer, extractor pdfloader.Extractor, splitter *chunker.Splitter, registry DocumentRegistry, pdfDir, preferredPDF string) *DocumentService {
	return &DocumentService{
		indexer:      indexer,
		extractor:    extractor,
		splitter:     splitter,
		registry:     registry,
		pdfDir:       pdfDir,
		preferredPDF: preferredPDF,
	}
}

func (s *DocumentService) PreferredPDF() string {
	return s.preferredPDF
}

// IndexDocument indexes an uploaded PDF and keeps a copy of it in the PDF
// directory. It returns the number of chunks indexed.
func (s *DocumentService) IndexDocument(ctx context.Context, name string, r io.Reader) (int, error) {
	if s.indexer == nil {
		return 0, ErrNotConfigured
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || !pdfloader.IsPDF(name) {
		return 0, fmt.Errorf("%w: file must be a PDF", ErrInput)
	}

	if err := os.MkdirAll(s.pdfDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create PDF directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.pdfDir, ".upload-*.pdf")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	_, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save upload %s: %w", name, err)
	}

	chunks, err := s.loadChunks(tmpPath, name)
	if err != nil {
		return 0, err
	}
	n, err := s.indexer.IndexChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	dest := filepath.Join(s.pdfDir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		log.Printf("Indexed %s but failed to keep a copy at %s: %v", name, dest, err)
	}
	s.record(name, n)
	return n, nil
}

// IndexPreferred indexes the preferred PDF from the PDF directory.
func (s *DocumentService) IndexPreferred(ctx context.Context) (int, error) {
	if s.indexer == nil {
		return 0, ErrNotConfigured
	}
	path := filepath.Join(s.pdfDir, s.preferredPDF)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", s.preferredPDF, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	chunks, err := s.loadChunks(path, s.preferredPDF)
	if err != nil {
		return 0, err
	}
	n, err := s.indexer.IndexChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}
	s.record(s.preferredPDF, n)
	return n, nil
}

// IndexAllConfigured indexes the preferred PDF when it is present, otherwise
// every PDF in the PDF directory. Unreadable files are skipped.
func (s *DocumentService) IndexAllConfigured(ctx context.Context) (int, error) {
	if s.indexer == nil {
		return 0, ErrNotConfigured
	}

	preferred := filepath.Join(s.pdfDir, s.preferredPDF)
	var files []string
	if _, err := os.Stat(preferred); err == nil {
		log.Printf("Found %s, processing for training...", s.preferredPDF)
		files = []string{preferred}
	} else {
		log.Printf("%s not found in %s, processing other available PDF files", s.preferredPDF, s.pdfDir)
		listed, err := pdfloader.ListPDFs(s.pdfDir)
		if err != nil {
			return 0, err
		}
		files = listed
	}

	var all []chunker.Chunk
	perDoc := make(map[string]int, len(files))
	var order []string
	for _, path := range files {
		name := filepath.Base(path)
		chunks, err := s.loadChunks(path, name)
		if err != nil {
			log.Printf("Error processing %s: %v", name, err)
			continue
		}
		log.Printf("Processed %s: %d chunks extracted", name, len(chunks))
		all = append(all, chunks...)
		perDoc[name] = len(chunks)
		order = append(order, name)
	}

	n, err := s.indexer.IndexChunks(ctx, all)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		for _, name := range order {
			s.record(name, perDoc[name])
		}
	}
	return n, nil
}

func (s *DocumentService) ListDocuments() ([]store.DocumentRecord, error) {
	if s.registry == nil {
		return []store.DocumentRecord{}, nil
	}
	return s.registry.ListDocuments()
}

// loadChunks extracts path and splits it into chunks tagged with name.
func (s *DocumentService) loadChunks(path, name string) ([]chunker.Chunk, error) {
	doc, err := s.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %w", ErrInput, name, err)
	}
	chunks := s.splitter.SplitPages(name, doc.Pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s produced no chunks", ErrInput, name)
	}
	return chunks, nil
}

func (s *DocumentService) record(name string, chunks int) {
	if s.registry == nil || chunks == 0 {
		return
	}
	if err := s.registry.RecordDocument(name, chunks); err != nil {
		log.Printf("Failed to record indexed document %s: %v", name, err)
	}
}
