package chunk

import (
	"fmt"
	"strings"

	"github.com/compozy/knowledgebase/engine/core"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Chunker splits text into overlapping fixed-size character windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters once.
func NewChunker(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the trimmed, non-empty windows of text in order.
func (c *Chunker) Split(text string) []string {
	return split(text, c.size, c.overlap)
}

// Split chunks text with the given window size and overlap measured in characters.
func Split(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split(text, size, overlap), nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunk: %w: size must be greater than zero", core.ErrInvalidInput)
	}
	if overlap < 0 {
		return fmt.Errorf("chunk: %w: overlap cannot be negative", core.ErrInvalidInput)
	}
	if overlap >= size {
		return fmt.Errorf("chunk: %w: overlap %d must be smaller than size %d", core.ErrInvalidInput, overlap, size)
	}
	return nil
}

func split(text string, size, overlap int) []string {
	chunks := make([]string, 0)
	if text == "" {
		return chunks
	}
	runes := []rune(text)
	step := size - overlap
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
