package core

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/pdfloader"
)

const fakeDims = 64

// fakeEmbed hashes words into a bag-of-words vector. Dimension 0 is a constant
// bias so no vector is ever zero.
func fakeEmbed(text string) []float32 {
	v := make([]float32, fakeDims)
	v[0] = 0.1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[1+int(h.Sum32()%(fakeDims-1))]++
	}
	return v
}

type generateCall struct {
	system string
	turns  []Turn
}

// fakeOracle embeds deterministically and, unless generate is set, answers by
// echoing the last turn.
type fakeOracle struct {
	mu          sync.Mutex
	embedErr    error
	queryErr    error
	generateErr error
	generate    func(system string, turns []Turn) (string, error)

	embedBatches  []int
	queryCount    int
	generateCalls []generateCall
}

func (f *fakeOracle) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedBatches = append(f.embedBatches, len(texts))
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeEmbed(t)
	}
	return out, nil
}

func (f *fakeOracle) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCount++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return fakeEmbed(text), nil
}

func (f *fakeOracle) Generate(_ context.Context, system string, turns []Turn) (string, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, generateCall{system: system, turns: append([]Turn(nil), turns...)})
	gen, genErr := f.generate, f.generateErr
	f.mu.Unlock()

	if genErr != nil {
		return "", genErr
	}
	if gen != nil {
		return gen(system, turns)
	}
	return "ANSWER: " + turns[len(turns)-1].Content, nil
}

func (f *fakeOracle) lastGenerate() generateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls[len(f.generateCalls)-1]
}

func (f *fakeOracle) batches() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.embedBatches...)
}

// fakeExtractor treats a file's bytes as its text, with pages separated by
// form feeds. Files starting with "%NOTPDF" fail to extract.
type fakeExtractor struct{}

func (fakeExtractor) Extract(path string) (*pdfloader.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data), "%NOTPDF") {
		return nil, errors.New("not a PDF file: invalid header")
	}
	return &pdfloader.Document{
		Name:  filepath.Base(path),
		Path:  path,
		Pages: strings.Split(string(data), "\f"),
	}, nil
}

type recordingIndexer struct {
	calls [][]chunker.Chunk
	err   error
}

func (r *recordingIndexer) IndexChunks(_ context.Context, chunks []chunker.Chunk) (int, error) {
	r.calls = append(r.calls, chunks)
	if r.err != nil {
		return 0, r.err
	}
	return len(chunks), nil
}

func (r *recordingIndexer) sources() []string {
	var out []string
	for _, call := range r.calls {
		out = append(out, SourcesOf(call)...)
	}
	return out
}

func chunksFrom(source string, texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunker.NewChunk(t, source, nil)
	}
	return out
}
