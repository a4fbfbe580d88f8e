package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/deeprat/portfolio/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultTopK is the number of results returned when k is not positive.
const DefaultTopK = 5

// ErrEmptyQuery is returned for a query that is blank after trimming.
var ErrEmptyQuery = errors.New("empty query")

// RetrievalError reports that the query embedding could not be produced.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return "retrieval failed: " + e.Err.Error()
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Service ranks the chunks of a loaded index against free-text queries.
// The index is read-only once the service holds it, so Retrieve is safe
// for concurrent use.
type Service struct {
	Client ai.Client
	Index  *models.Index
}

// NewService creates a new search service with the provided AI client and index
func NewService(client ai.Client, index *models.Index) *Service {
	return &Service{
		Client: client,
		Index:  index,
	}
}

// Retrieve embeds the query and returns the k chunks most similar to it,
// highest similarity first. Ties keep index order.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]models.RetrievalResult, error) {
	if s.Index.Len() == 0 {
		return []models.RetrievalResult{}, nil
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultTopK
	}

	head, err := s.Client.Embed(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("model", s.Client.Model()).Msg("query embedding failed")
		return nil, &RetrievalError{Err: err}
	}
	if len(head) == 0 {
		return nil, &RetrievalError{Err: errors.New("empty query embedding")}
	}

	results := make([]models.RetrievalResult, 0, len(s.Index.Chunks))
	for _, c := range s.Index.Chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		results = append(results, models.RetrievalResult{
			Chunk:      c,
			Similarity: CosineSimilarity(head, c.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Vectors of different length, empty vectors and zero vectors
// score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case math.IsNaN(sim) || math.IsInf(sim, 0):
		return 0
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

// CheckCompatibility returns a warning when the index was embedded with a
// different model than the one that will embed queries.
func CheckCompatibility(index *models.Index, model string) string {
	if index == nil || index.Metadata.EmbeddingModel == "" || index.Metadata.EmbeddingModel == model {
		return ""
	}
	return fmt.Sprintf("index was built with embedding model %q but queries use %q; similarity scores will be meaningless until the index is rebuilt",
		index.Metadata.EmbeddingModel, model)
}
