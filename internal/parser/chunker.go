package parser

import (
	"strings"
	"unicode"

	"pdf-rag/internal/models"
)

const (
	defaultChunkSize    = 750 // characters
	defaultChunkOverlap = 150 // characters
)

// separators are tried in order when looking for a place to end a chunk. A separator
// may end a chunk once the chunk holds minFill quarters of the window.
var separators = []struct {
	sep     []rune
	minFill int
}{
	{sep: []rune("\n\n"), minFill: 1},
	{sep: []rune("\n"), minFill: 2},
	{sep: []rune(" "), minFill: 2},
}

// Chunker splits page text into overlapping pieces of at most size characters.
type Chunker struct {
	size    int
	overlap int
}

// span is a half-open rune range [start, end) of the page text.
type span struct {
	start, end int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split subdivides every page into chunks, keeping page and source. Whitespace-only
// pieces are dropped.
func (c *Chunker) Split(pages []models.DocumentChunk) []models.DocumentChunk {
	var chunks []models.DocumentChunk
	for _, page := range pages {
		text := []rune(page.Content)
		for _, s := range c.spans(text) {
			piece := string(text[s.start:s.end])
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, models.DocumentChunk{
				Page:    page.Page,
				Content: piece,
				Source:  page.Source,
			})
		}
	}
	return chunks
}

// spans covers text with windows of at most c.size runes. Each window starts no later
// than the previous one ends and overlaps it by at most c.overlap runes.
func (c *Chunker) spans(text []rune) []span {
	n := len(text)
	if n == 0 {
		return nil
	}

	var out []span
	start := 0
	for n-start > c.size {
		end := c.cut(text, start)
		out = append(out, span{start: start, end: end})
		start = c.nextStart(text, start, end)
	}
	return append(out, span{start: start, end: n})
}

// cut returns the end of the window beginning at start. A boundary is only accepted
// past its separator's floor, which is never below the overlap so end-overlap > start.
func (c *Chunker) cut(text []rune, start int) int {
	limit := start + c.size
	for _, s := range separators {
		floor := start + max(c.overlap, c.size*s.minFill/4)
		if end := lastBoundary(text, s.sep, floor, limit); end > 0 {
			return end
		}
	}
	return limit
}

// lastBoundary returns the largest e in (floor, limit] where text[:e] ends with sep, or -1.
func lastBoundary(text []rune, sep []rune, floor, limit int) int {
	for e := limit; e > floor && e >= len(sep); e-- {
		if hasSuffixAt(text, sep, e) {
			return e
		}
	}
	return -1
}

func hasSuffixAt(text []rune, sep []rune, e int) bool {
	for i := range sep {
		if text[e-len(sep)+i] != sep[i] {
			return false
		}
	}
	return true
}

// nextStart places the next window overlap runes before end, moved forward to the first
// word start inside the overlap when there is one.
func (c *Chunker) nextStart(text []rune, start, end int) int {
	from := end - c.overlap
	if from <= start {
		from = start + 1
	}
	for p := from; p < end; p++ {
		if p > 0 && unicode.IsSpace(text[p-1]) && !unicode.IsSpace(text[p]) {
			return p
		}
	}
	return from
}
