package documents

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dream-ai/docchat/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping windows of at most Size characters.
// Characters are counted as runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker, validating its parameters
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrValidation, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrValidation, size, overlap)
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// Normalize unifies line endings, drops NUL bytes and trims outer whitespace.
// Inner whitespace runs collapse to a single space, a single newline, or one
// blank line when the run spans several line breaks.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.TrimSpace(text)

	var b strings.Builder
	b.Grow(len(text))
	inRun, newlines := false, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			inRun = true
			if r == '\n' {
				newlines++
			}
			continue
		}
		if inRun {
			switch {
			case newlines >= 2:
				b.WriteString("\n\n")
			case newlines == 1:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
			inRun, newlines = false, 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Split normalizes text and cuts it into chunks. Consecutive chunks share
// exactly Overlap runes. A window that does not reach the end of the text may
// end early at a whitespace boundary within its last tenth.
func (c *Chunker) Split(text string) ([]string, error) {
	text = Normalize(text)
	if text == "" {
		return nil, domain.ErrEmptyInput
	}

	runes := []rune(text)
	n := len(runes)
	lookback := c.Size / 10

	var chunks []string
	start := 0
	for {
		end := start + c.Size
		if end >= n {
			chunks = append(chunks, string(runes[start:n]))
			break
		}
		end = c.boundary(runes, start, end, lookback)
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.Overlap
	}

	if len(chunks) == 0 {
		return nil, domain.ErrNoChunksProduced
	}
	return chunks, nil
}

// boundary moves end back to just after the nearest whitespace, keeping the
// window longer than the overlap so the next start always advances.
func (c *Chunker) boundary(runes []rune, start, end, lookback int) int {
	floor := end - lookback
	if lo := start + c.Overlap + 1; floor < lo {
		floor = lo
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// Join reassembles chunks produced with the given overlap.
func Join(chunks []string, overlap int) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			b.WriteString(chunk)
			continue
		}
		r := []rune(chunk)
		if overlap < len(r) {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}
