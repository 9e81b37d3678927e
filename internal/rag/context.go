package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dream-ai/docchat/internal/domain"
)

const defaultMaxContextChars = 8000

// ContextBuilder turns retrieved chunks into a grounded prompt
type ContextBuilder struct {
	maxChars      int
	allowFreeForm bool
}

// NewContextBuilder creates a context builder. maxChars bounds the rendered
// context block; allowFreeForm lets the model answer beyond the excerpts.
func NewContextBuilder(maxChars int, allowFreeForm bool) *ContextBuilder {
	if maxChars <= 0 {
		maxChars = defaultMaxContextChars
	}
	return &ContextBuilder{maxChars: maxChars, allowFreeForm: allowFreeForm}
}

// BuildContext renders chunks as numbered excerpts in rank order and returns
// the chunks that fit the budget. The first chunk is always kept, truncated
// if needed.
func (cb *ContextBuilder) BuildContext(chunks []domain.ScoredChunk) (string, []domain.ScoredChunk) {
	var (
		parts []string
		used  []domain.ScoredChunk
		size  int
	)
	for i, chunk := range chunks {
		block := fmt.Sprintf("[%d] (source: %s)\n%s\n", i+1, sourceOf(chunk.Chunk), chunk.Content)
		n := utf8.RuneCountInString(block)
		if size+n > cb.maxChars {
			if len(used) == 0 {
				r := []rune(block)
				parts = append(parts, string(r[:cb.maxChars]))
				used = append(used, chunk)
			}
			break
		}
		parts = append(parts, block)
		used = append(used, chunk)
		size += n
	}
	return strings.Join(parts, "\n"), used
}

// BuildPrompt creates a complete prompt with context and user query
func (cb *ContextBuilder) BuildPrompt(context, query string) string {
	var parts []string

	parts = append(parts, "You are an assistant that answers questions about the user's documents.")
	parts = append(parts, "")

	if context != "" {
		parts = append(parts, "## Document Excerpts:")
		parts = append(parts, context)
	} else {
		parts = append(parts, "## Document Excerpts:")
		parts = append(parts, "No relevant excerpts were found.")
	}
	parts = append(parts, "")

	parts = append(parts, "## Question:")
	parts = append(parts, query)
	parts = append(parts, "")

	if cb.allowFreeForm {
		parts = append(parts, "Answer from the excerpts where possible. When you draw on general knowledge, say so.")
	} else {
		parts = append(parts, "Answer using only the excerpts above and cite them by number, e.g. [1].")
		parts = append(parts, "If the excerpts do not contain the answer, say that you don't know.")
	}

	return strings.Join(parts, "\n")
}

func sourceOf(c domain.Chunk) string {
	name, _ := c.Metadata["source"].(string)
	if name == "" {
		name = c.DocumentID.String()
	}
	return fmt.Sprintf("%s#%d", name, c.ChunkIndex)
}
