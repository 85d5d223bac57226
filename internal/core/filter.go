package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/utils"
	"lte.dev/doc-chatbot/internal/vectorindex"
)

const (
	FilterLLM        = "llm"
	FilterSimilarity = "similarity"
	FilterNone       = "none"
)

// CandidateFilter narrows search hits before they reach the prompt. It may
// drop, shorten or reorder candidates. An error leaves the candidates
// unfiltered.
type CandidateFilter interface {
	Filter(ctx context.Context, query string, queryVector []float32, candidates []vectorindex.Match) ([]vectorindex.Match, error)
}

// NewCandidateFilter returns the filter registered under name. Unknown names
// fall back to the LLM extractor.
func NewCandidateFilter(name string, oracle Oracle, threshold float32) CandidateFilter {
	switch name {
	case FilterNone:
		return NoopFilter{}
	case FilterSimilarity:
		return &SimilarityFilter{Threshold: threshold}
	case FilterLLM:
		return &LLMExtractor{oracle: oracle}
	default:
		log.Printf("Unknown retrieval filter %q, using %q", name, FilterLLM)
		return &LLMExtractor{oracle: oracle}
	}
}

type NoopFilter struct{}

func (NoopFilter) Filter(_ context.Context, _ string, _ []float32, candidates []vectorindex.Match) ([]vectorindex.Match, error) {
	return candidates, nil
}

// SimilarityFilter keeps candidates whose cosine similarity to the query
// reaches Threshold.
type SimilarityFilter struct {
	Threshold float32
}

func (f *SimilarityFilter) Filter(_ context.Context, _ string, queryVector []float32, candidates []vectorindex.Match) ([]vectorindex.Match, error) {
	kept := make([]vectorindex.Match, 0, len(candidates))
	for _, c := range candidates {
		similarity, err := utils.CosineSimilarity(queryVector, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("similarity for candidate %s: %w", c.ID, err)
		}
		if similarity >= f.Threshold {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// LLMExtractor asks the oracle to cut each candidate down to the parts that
// answer the query. Candidates with nothing relevant are dropped.
type LLMExtractor struct {
	oracle Oracle
}

func NewLLMExtractor(oracle Oracle) *LLMExtractor {
	return &LLMExtractor{oracle: oracle}
}

func (f *LLMExtractor) Filter(ctx context.Context, query string, _ []float32, candidates []vectorindex.Match) ([]vectorindex.Match, error) {
	kept := make([]vectorindex.Match, 0, len(candidates))
	for _, c := range candidates {
		reply, err := f.oracle.Generate(ctx, extractInstruction, []Turn{
			{Role: RoleUser, Content: extractPrompt(query, c.Chunk.Text)},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: extracting from candidate %s: %w", ErrOracle, c.ID, err)
		}
		reply = strings.TrimSpace(reply)
		if reply == "" || reply == noOutputMarker {
			continue
		}
		c.Chunk = chunker.Chunk{Text: reply, Metadata: c.Chunk.Metadata}
		kept = append(kept, c)
	}
	return kept, nil
}
