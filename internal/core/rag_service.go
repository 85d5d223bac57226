package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/vectorindex"
)

const (
	// PlaceholderSource tags the bootstrap entry of a fresh index. It never
	// reaches a caller.
	PlaceholderSource = "initialization"

	placeholderID   = "initialization"
	placeholderText = "placeholder"

	// EmbedBatchSize is the most texts sent in one embedding request.
	EmbedBatchSize = 100

	DefaultTopK = 5
)

// IndexState tells whether the index holds real documents yet.
type IndexState int

const (
	// StateUninitialized: only the placeholder entry is indexed.
	StateUninitialized IndexState = iota
	// StatePopulated: at least one real chunk and no placeholder.
	StatePopulated
)

func (s IndexState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePopulated:
		return "populated"
	default:
		return fmt.Sprintf("IndexState(%d)", int(s))
	}
}

// RAGService owns the vector index: it indexes chunks and retrieves the ones
// relevant to a question. Writers are serialised by mu.
type RAGService struct {
	oracle    Oracle
	filter    CandidateFilter
	indexPath string
	topK      int
	indexOpts []vectorindex.Option
	debug     bool

	mu    sync.RWMutex
	index *vectorindex.Index
	state IndexState
}

// NewRAGService loads the index persisted at indexPath. When there is none,
// or it cannot be read, the service starts from a placeholder-only index.
func NewRAGService(ctx context.Context, oracle Oracle, filter CandidateFilter, indexPath string, topK int, opts ...vectorindex.Option) (*RAGService, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if filter == nil {
		filter = NoopFilter{}
	}
	s := &RAGService{
		oracle:    oracle,
		filter:    filter,
		indexPath: indexPath,
		topK:      topK,
		indexOpts: opts,
	}

	ix, err := vectorindex.Load(indexPath, opts...)
	switch {
	case err == nil && ix.Count() > 0:
		s.index = ix
		if ix.Count() == 1 && ix.Has(ctx, placeholderID) {
			s.state = StateUninitialized
		} else {
			s.state = StatePopulated
		}
		log.Printf("Loaded existing vector index from %s (%d entries, %s)", indexPath, ix.Count(), s.state)
		return s, nil
	case err == nil, errors.Is(err, vectorindex.ErrNotFound):
	default:
		log.Printf("Error loading vector index from %s, starting fresh: %v", indexPath, err)
	}

	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	log.Println("Created new vector index with placeholder document")
	return s, nil
}

func (s *RAGService) bootstrap(ctx context.Context) error {
	vectors, err := s.oracle.EmbedDocuments(ctx, []string{placeholderText})
	if err != nil {
		return fmt.Errorf("failed to embed placeholder: %w: %w", ErrOracle, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("failed to embed placeholder: %w: got %d vectors", ErrOracle, len(vectors))
	}
	ix, err := vectorindex.Create(ctx, []vectorindex.Entry{{
		ID:        placeholderID,
		Embedding: vectors[0],
		Chunk:     chunker.NewChunk(placeholderText, PlaceholderSource, nil),
	}}, s.indexOpts...)
	if err != nil {
		return fmt.Errorf("failed to create placeholder index: %w: %w", ErrStorage, err)
	}
	s.index = ix
	s.state = StateUninitialized
	return nil
}

// SetDebug turns on per-query retrieval logging. Call it before serving.
func (s *RAGService) SetDebug(on bool) {
	s.debug = on
}

func (s *RAGService) State() IndexState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Count is the number of entries in the index, placeholder included.
func (s *RAGService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Count()
}

// IndexChunks embeds and indexes chunks, then persists the index. The first
// call on an uninitialized index replaces the placeholder instead of adding
// to it. The in-memory index only changes when the snapshot was written.
// Indexing nothing is a no-op.
func (s *RAGService) IndexChunks(ctx context.Context, chunks []chunker.Chunk) (int, error) {
	if len(chunks) == 0 {
		log.Println("No document chunks to index.")
		return 0, nil
	}

	entries, err := s.embedChunks(ctx, chunks)
	if err != nil {
		log.Printf("Error embedding %d chunks: %v", len(chunks), err)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		err = s.replacePlaceholder(ctx, entries)
	} else {
		err = s.appendEntries(ctx, entries)
	}
	if err != nil {
		log.Printf("Error indexing documents: %v", err)
		return 0, err
	}

	log.Printf("Indexed %d document chunks", len(entries))
	return len(entries), nil
}

func (s *RAGService) replacePlaceholder(ctx context.Context, entries []vectorindex.Entry) error {
	fresh, err := vectorindex.Create(ctx, entries, s.indexOpts...)
	if err != nil {
		return fmt.Errorf("failed to create index: %w: %w", ErrStorage, err)
	}
	if err := fresh.Persist(s.indexPath); err != nil {
		return fmt.Errorf("failed to persist index: %w: %w", ErrStorage, err)
	}
	log.Println("Replaced placeholder with actual documents")
	s.index = fresh
	s.state = StatePopulated
	return nil
}

func (s *RAGService) appendEntries(ctx context.Context, entries []vectorindex.Entry) error {
	if err := s.index.Add(ctx, entries); err != nil {
		return fmt.Errorf("failed to add to index: %w: %w", ErrStorage, err)
	}
	if err := s.index.Persist(s.indexPath); err != nil {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if rmErr := s.index.Remove(ctx, ids...); rmErr != nil {
			log.Printf("Failed to roll back %d unpersisted entries: %v", len(ids), rmErr)
		}
		return fmt.Errorf("failed to persist index: %w: %w", ErrStorage, err)
	}
	return nil
}

func (s *RAGService) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]vectorindex.Entry, error) {
	entries := make([]vectorindex.Entry, 0, len(chunks))
	for start := 0; start < len(chunks); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(chunks))
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}

		vectors, err := s.oracle.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w: %w", ErrOracle, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("failed to embed chunks: %w: got %d vectors for %d texts", ErrOracle, len(vectors), len(texts))
		}
		for i, c := range chunks[start:end] {
			entries = append(entries, vectorindex.Entry{
				ID:        uuid.NewString(),
				Embedding: vectors[i],
				Chunk:     c,
			})
		}
	}
	return entries, nil
}

// Retrieve returns the chunks most relevant to query, best first. It returns
// nothing while the index is uninitialized. On failure it returns no chunks
// and an error the caller may log and otherwise ignore.
func (s *RAGService) Retrieve(ctx context.Context, query string) ([]chunker.Chunk, error) {
	s.mu.RLock()
	ix, state := s.index, s.state
	s.mu.RUnlock()
	if state == StateUninitialized {
		return nil, nil
	}

	vector, err := s.oracle.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w: %w", ErrOracle, err)
	}

	s.mu.RLock()
	matches, err := ix.Search(ctx, vector, s.topK)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w: %w", ErrStorage, err)
	}

	candidates := matches[:0]
	for _, m := range matches {
		if m.Chunk.Source() == PlaceholderSource {
			continue
		}
		candidates = append(candidates, m)
	}

	kept := len(candidates)
	filtered, err := s.filter.Filter(ctx, query, vector, candidates)
	if err != nil {
		log.Printf("Retrieval filter failed, using unfiltered candidates: %v", err)
		filtered = candidates
	}
	if s.debug {
		log.Printf("DEBUG retrieve: %d matches, %d after placeholder, %d after filter (top_k=%d)",
			len(matches), kept, len(filtered), s.topK)
	}

	chunks := make([]chunker.Chunk, 0, len(filtered))
	for _, m := range filtered {
		if m.Chunk.Source() == PlaceholderSource {
			continue
		}
		chunks = append(chunks, m.Chunk)
	}
	return chunks, nil
}
