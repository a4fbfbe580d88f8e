package ai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Vector is a provider embedding response. Feature-extraction endpoints
// return either one flat vector or one vector per token; both decode into
// a single flat vector with nested rows concatenated in order.
type Vector []float32

func (v *Vector) UnmarshalJSON(b []byte) error {
	var flat []float32
	if err := json.Unmarshal(b, &flat); err == nil {
		*v = flat
		return nil
	}
	var nested [][]float32
	if err := json.Unmarshal(b, &nested); err != nil {
		return fmt.Errorf("embedding is neither a flat nor a nested numeric array: %w", err)
	}
	*v = Flatten(nested)
	return nil
}

// Flatten concatenates nested rows into one vector.
func Flatten(rows [][]float32) []float32 {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]float32, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

var errEmptyEmbedding = errors.New("no embedding returned")
