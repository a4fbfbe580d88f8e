package search

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/deeprat/portfolio/pkg/models"
)

func result(filename, content string, sim float64) models.RetrievalResult {
	return models.RetrievalResult{
		Chunk:      models.Chunk{ID: filename + "_chunk_0", Filename: filename, Content: content},
		Similarity: sim,
	}
}

func TestFormatContext(t *testing.T) {
	tests := []struct {
		name    string
		results []models.RetrievalResult
		want    string
	}{
		{
			name:    "no results",
			results: nil,
			want:    "No relevant context found in the knowledge base.",
		},
		{
			name:    "single result",
			results: []models.RetrievalResult{result("about.md", "Engineer in Lisbon.", 0.9)},
			want:    "[Source 1: about.md]\nEngineer in Lisbon.",
		},
		{
			name: "numbered in order",
			results: []models.RetrievalResult{
				result("about.md", "Engineer in Lisbon.", 0.9),
				result("projects.md", "Built a vector search service.", 0.7),
			},
			want: "[Source 1: about.md]\nEngineer in Lisbon.\n\n---\n\n[Source 2: projects.md]\nBuilt a vector search service.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatContext(tt.results); got != tt.want {
				t.Errorf("FormatContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatSources(t *testing.T) {
	long := strings.Repeat("ü", 250)
	exact := strings.Repeat("x", 200)

	got := FormatSources([]models.RetrievalResult{
		result("about.md", "Short content.", 0.98765),
		result("long.md", long, 0.5049),
		result("exact.md", exact, -0.333),
	})

	want := []models.Source{
		{Filename: "about.md", Excerpt: "Short content.", Relevance: 0.99},
		{Filename: "long.md", Excerpt: strings.Repeat("ü", 200) + "...", Relevance: 0.5},
		{Filename: "exact.md", Excerpt: exact, Relevance: -0.33},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FormatSources() = %+v, want %+v", got, want)
	}
	if n := utf8.RuneCountInString(got[1].Excerpt); n != 203 {
		t.Errorf("Expected 200 characters plus ellipsis, got %d", n)
	}
}

func TestFormatSources_Empty(t *testing.T) {
	got := FormatSources(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}
