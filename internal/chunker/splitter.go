// Package chunker splits extracted document text into overlapping,
// source-tagged windows suitable for embedding.
package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	MetaSource     = "source"
	MetaPage       = "page"
	MetaTotalPages = "total_pages"
)

// defaultSeparators are tried in order; the empty separator splits into runes.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is a bounded span of document text plus its metadata. Chunks are
// treated as immutable once produced.
type Chunk struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Source returns the originating document name.
func (c Chunk) Source() string {
	return c.Metadata[MetaSource]
}

// NewChunk builds a chunk tagged with source. Extra metadata is copied.
func NewChunk(text, source string, extra map[string]string) Chunk {
	meta := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		meta[k] = v
	}
	meta[MetaSource] = source
	return Chunk{Text: text, Metadata: meta}
}

// Splitter is a recursive character splitter. Length is measured in runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{size: size, overlap: overlap, separators: defaultSeparators}
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks one document's text, tagging every chunk with source.
func (s *Splitter) Split(text, source string) []Chunk {
	var chunks []Chunk
	for _, piece := range s.SplitText(text) {
		chunks = append(chunks, NewChunk(piece, source, nil))
	}
	return chunks
}

// SplitPages chunks a paged document page by page. pages[i] holds the text of
// page i+1; blank pages produce no chunks.
func (s *Splitter) SplitPages(source string, pages []string) []Chunk {
	total := strconv.Itoa(len(pages))
	var chunks []Chunk
	for i, page := range pages {
		extra := map[string]string{
			MetaPage:       strconv.Itoa(i + 1),
			MetaTotalPages: total,
		}
		for _, piece := range s.SplitText(page) {
			chunks = append(chunks, NewChunk(piece, source, extra))
		}
	}
	return chunks
}

// SplitText returns the trimmed, non-empty windows of text.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRecursive(text, s.separators)
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeepSeparator(text, sep) {
		if runeLen(piece) < s.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, strings.TrimSpace(piece))
		} else {
			out = append(out, s.splitRecursive(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge packs pieces into windows of at most size runes, carrying a tail of
// at most overlap runes from one window into the next.
func (s *Splitter) merge(pieces []string) []string {
	var (
		windows []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.size && len(current) > 0 {
			if w := strings.TrimSpace(strings.Join(current, "")); w != "" {
				windows = append(windows, w)
			}
			for len(current) > 0 && (total > s.overlap || total+n > s.size) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if w := strings.TrimSpace(strings.Join(current, "")); w != "" {
		windows = append(windows, w)
	}
	return windows
}

// splitKeepSeparator splits text on sep and keeps sep at the start of every
// piece but the first.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
