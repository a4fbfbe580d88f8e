package search

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/deeprat/portfolio/pkg/models"
)

const (
	// NoContext is the context block used when retrieval found nothing.
	NoContext = "No relevant context found in the knowledge base."

	// ExcerptLength is the number of characters kept in a citation excerpt.
	ExcerptLength = 200

	contextSeparator = "\n\n---\n\n"
)

// FormatContext renders results as numbered source blocks for the prompt.
// Numbering is 1-based and follows the order of results.
func FormatContext(results []models.RetrievalResult) string {
	if len(results) == 0 {
		return NoContext
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, r.Chunk.Filename, r.Chunk.Content)
	}
	return strings.Join(blocks, contextSeparator)
}

// FormatSources returns the citation view of results in the same order.
func FormatSources(results []models.RetrievalResult) []models.Source {
	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			Filename:  r.Chunk.Filename,
			Excerpt:   excerpt(r.Chunk.Content),
			Relevance: math.Round(r.Similarity*100) / 100,
		}
	}
	return sources
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= ExcerptLength {
		return s
	}
	return string([]rune(s)[:ExcerptLength]) + "..."
}
