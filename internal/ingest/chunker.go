package ingest

import (
	"strings"

	"github.com/docchat/docchat/internal/loader"
)

// Piece is one chunk of page text before it gets an id and embedding.
type Piece struct {
	Page    int
	Content string
}

// Chunker splits page text into rune-bounded spans with overlap between
// adjacent spans, so context at a chunk boundary appears in both
// neighbors. Chunks never cross page boundaries, which keeps page
// citations exact.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Split(pages []loader.Page) []Piece {
	pieces := make([]Piece, 0, len(pages))
	for _, page := range pages {
		pieces = append(pieces, c.splitPage(page)...)
	}
	return pieces
}

func (c *Chunker) splitPage(page loader.Page) []Piece {
	text := strings.TrimSpace(page.Text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := c.size - c.overlap
	pieces := make([]Piece, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			pieces = append(pieces, Piece{Page: page.Number, Content: content})
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}
