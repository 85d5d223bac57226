// Package vectorindex stores (vector, chunk) entries in a chromem-go
// collection and snapshots them to a single gob file.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/philippgille/chromem-go"

	"lte.dev/doc-chatbot/internal/chunker"
)

const collectionName = "documents"

var (
	ErrEmpty      = errors.New("vector index: no entries to index")
	ErrNotCreated = errors.New("vector index: index has not been created")
	ErrNotFound   = errors.New("vector index: no persisted index found")
)

// Entry is one indexed chunk with its embedding.
type Entry struct {
	ID        string
	Embedding []float32
	Chunk     chunker.Chunk
}

// Match is a search hit. Embedding is the stored, normalised vector.
type Match struct {
	ID         string
	Chunk      chunker.Chunk
	Embedding  []float32
	Similarity float32
}

// Index wraps one chromem collection. Methods are safe for concurrent use,
// but callers serialise writers.
type Index struct {
	db            *chromem.DB
	collection    *chromem.Collection
	encryptionKey string
}

// Option configures an Index.
type Option func(*Index)

// WithEncryptionKey encrypts persisted snapshots with AES-GCM. The key must be
// 32 bytes long.
func WithEncryptionKey(key string) Option {
	return func(ix *Index) {
		ix.encryptionKey = key
	}
}

// Create builds a new index from entries.
func Create(ctx context.Context, entries []Entry, opts ...Option) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	ix, err := newIndex(opts...)
	if err != nil {
		return nil, err
	}
	if err := ix.Add(ctx, entries); err != nil {
		return nil, err
	}
	return ix, nil
}

// Load reads a snapshot written by Persist.
func Load(path string, opts ...Option) (*Index, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat index snapshot %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("index snapshot path %s is a directory", path)
	}

	ix := &Index{db: chromem.NewDB()}
	for _, opt := range opts {
		opt(ix)
	}
	if err := ix.db.ImportFromFile(path, ix.encryptionKey, collectionName); err != nil {
		return nil, fmt.Errorf("failed to import index snapshot %s: %w", path, err)
	}
	ix.collection = ix.db.GetCollection(collectionName, embeddingRequired)
	if ix.collection == nil {
		return nil, ErrNotFound
	}
	return ix, nil
}

func newIndex(opts ...Option) (*Index, error) {
	ix := &Index{db: chromem.NewDB()}
	for _, opt := range opts {
		opt(ix)
	}
	collection, err := ix.db.CreateCollection(collectionName, nil, embeddingRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	ix.collection = collection
	return ix, nil
}

// embeddingRequired is installed as the collection's embedding function so
// that an entry without a vector fails instead of reaching a remote default.
func embeddingRequired(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("entries must be embedded before they are indexed")
}

// Add appends entries to the index.
func (ix *Index) Add(ctx context.Context, entries []Entry) error {
	if ix == nil || ix.collection == nil {
		return ErrNotCreated
	}
	if len(entries) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry %d has no ID", i)
		}
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %s has no embedding", e.ID)
		}
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Chunk.Text,
			Metadata:  e.Chunk.Metadata,
			Embedding: e.Embedding,
		}
	}

	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to collection: %w", err)
	}
	return nil
}

// Remove deletes entries by ID.
func (ix *Index) Remove(ctx context.Context, ids ...string) error {
	if ix == nil || ix.collection == nil {
		return ErrNotCreated
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ix.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to remove documents from collection: %w", err)
	}
	return nil
}

// Search returns up to k entries nearest to vector by cosine similarity,
// most similar first. Equal similarities are ordered by entry ID, including
// ties that straddle the k-th place.
func (ix *Index) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if ix == nil || ix.collection == nil {
		return nil, ErrNotCreated
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be > 0, got %d", k)
	}
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	// chromem picks among tied entries arbitrarily, so widen the query until
	// every entry tied with the k-th one has been returned.
	n := k
	for {
		matches, err := ix.query(ctx, vector, n)
		if err != nil {
			return nil, err
		}
		if len(matches) < k {
			return matches, nil
		}
		if n >= count || matches[len(matches)-1].Similarity < matches[k-1].Similarity {
			return matches[:k], nil
		}
		n = min(n*2, count)
	}
}

// query returns the n nearest entries sorted by similarity, then ID.
func (ix *Index) query(ctx context.Context, vector []float32, n int) ([]Match, error) {
	res, err := ix.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	matches := make([]Match, len(res))
	for i, r := range res {
		matches[i] = Match{
			ID:         r.ID,
			Chunk:      chunker.Chunk{Text: r.Content, Metadata: r.Metadata},
			Embedding:  r.Embedding,
			Similarity: r.Similarity,
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

// Has reports whether an entry with id exists.
func (ix *Index) Has(ctx context.Context, id string) bool {
	if ix == nil || ix.collection == nil {
		return false
	}
	_, err := ix.collection.GetByID(ctx, id)
	return err == nil
}

func (ix *Index) Count() int {
	if ix == nil || ix.collection == nil {
		return 0
	}
	return ix.collection.Count()
}

// Persist writes a compressed snapshot next to path and renames it into
// place, so a reader never observes a half-written file.
func (ix *Index) Persist(path string) error {
	if ix == nil || ix.collection == nil {
		return ErrNotCreated
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := ix.db.ExportToFile(tmp, true, ix.encryptionKey, collectionName); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to export index snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace index snapshot %s: %w", path, err)
	}
	return nil
}
