package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lte.dev/doc-chatbot/internal/chunker"
)

func newTestDocs(t *testing.T, indexer Indexer) (*DocumentService, string) {
	t.Helper()
	dir := t.TempDir()
	reg := newTestStore(t)
	return NewDocumentService(indexer, fakeExtractor{}, chunker.NewSplitter(1000, 200), reg, dir, "LTE.pdf"), dir
}

func writePDF(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIndexDocument_SavesUploadAndRecordsIt(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)

	n, err := docs.IndexDocument(context.Background(), "uploads/A.pdf", strings.NewReader("page one\fpage two"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, indexer.calls, 1)
	assert.Equal(t, "A.pdf", indexer.calls[0][0].Source())
	assert.Equal(t, "2", indexer.calls[0][1].Metadata[chunker.MetaPage])
	assert.Equal(t, []string{"A.pdf"}, dirEntries(t, dir), "upload kept, temporary file gone")

	records, err := docs.ListDocuments()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A.pdf", records[0].Name)
	assert.Equal(t, 2, records[0].ChunkCount)
}

func TestIndexDocument_RejectsNonPDFName(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)

	_, err := docs.IndexDocument(context.Background(), "notes.txt", strings.NewReader("text"))
	assert.ErrorIs(t, err, ErrInput)
	assert.Empty(t, indexer.calls)
	assert.Empty(t, dirEntries(t, dir))
}

func TestIndexDocument_RejectsUnreadablePDF(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)

	_, err := docs.IndexDocument(context.Background(), "fake.pdf", strings.NewReader("%NOTPDF garbage"))
	assert.ErrorIs(t, err, ErrInput)
	assert.Empty(t, indexer.calls)
	assert.Empty(t, dirEntries(t, dir))
}

func TestIndexDocument_RejectsEmptyDocument(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, _ := newTestDocs(t, indexer)

	_, err := docs.IndexDocument(context.Background(), "blank.pdf", strings.NewReader("  \f \n "))
	assert.ErrorIs(t, err, ErrInput)
	assert.Empty(t, indexer.calls)
}

func TestIndexDocument_IndexerFailureDiscardsUpload(t *testing.T) {
	indexer := &recordingIndexer{err: ErrStorage}
	docs, dir := newTestDocs(t, indexer)

	_, err := docs.IndexDocument(context.Background(), "A.pdf", strings.NewReader("content"))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Empty(t, dirEntries(t, dir))

	records, err := docs.ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDocumentService_NotConfigured(t *testing.T) {
	docs := NewDocumentService(nil, fakeExtractor{}, chunker.NewSplitter(0, 0), nil, t.TempDir(), "LTE.pdf")
	ctx := context.Background()

	_, err := docs.IndexDocument(ctx, "A.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = docs.IndexAllConfigured(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = docs.IndexPreferred(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	records, err := docs.ListDocuments()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIndexAllConfigured_PrefersPreferredPDF(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)
	writePDF(t, dir, "LTE.pdf", "LTE overview")
	writePDF(t, dir, "other.pdf", "something else")

	n, err := docs.IndexAllConfigured(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"LTE.pdf"}, indexer.sources())
}

func TestIndexAllConfigured_FallsBackToAllPDFs(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)
	writePDF(t, dir, "b.pdf", "bravo")
	writePDF(t, dir, "a.pdf", "alpha")
	writePDF(t, dir, "broken.pdf", "%NOTPDF")
	writePDF(t, dir, "readme.txt", "ignored")

	n, err := docs.IndexAllConfigured(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, indexer.calls, 1, "all documents are indexed in one call")
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, indexer.sources())

	records, err := docs.ListDocuments()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIndexAllConfigured_EmptyDirectory(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, _ := newTestDocs(t, indexer)

	n, err := docs.IndexAllConfigured(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIndexPreferred(t *testing.T) {
	indexer := &recordingIndexer{}
	docs, dir := newTestDocs(t, indexer)

	_, err := docs.IndexPreferred(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	writePDF(t, dir, "LTE.pdf", "page one\fpage two\fpage three")
	n, err := docs.IndexPreferred(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "3", indexer.calls[0][0].Metadata[chunker.MetaTotalPages])
}

func TestIndexPreferred_PropagatesIndexerError(t *testing.T) {
	indexer := &recordingIndexer{err: errors.New("disk full")}
	docs, dir := newTestDocs(t, indexer)
	writePDF(t, dir, "LTE.pdf", "content")

	_, err := docs.IndexPreferred(context.Background())
	assert.EqualError(t, err, "disk full")
}
