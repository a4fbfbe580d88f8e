package ai

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestVector_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expected    []float32
		expectError bool
	}{
		{
			name:     "flat vector",
			body:     `[0.1, 0.2, 0.3]`,
			expected: []float32{0.1, 0.2, 0.3},
		},
		{
			name:     "nested vectors are concatenated",
			body:     `[[1, 2], [3], [4, 5]]`,
			expected: []float32{1, 2, 3, 4, 5},
		},
		{
			name:     "empty array",
			body:     `[]`,
			expected: []float32{},
		},
		{
			name:        "object",
			body:        `{"error": "model loading"}`,
			expectError: true,
		},
		{
			name:        "three levels deep",
			body:        `[[[1]]]`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Vector
			err := json.Unmarshal([]byte(tt.body), &v)
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error, got vector %v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !reflect.DeepEqual([]float32(v), tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, v)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten([][]float32{{1}, nil, {2, 3}})
	if !reflect.DeepEqual(got, []float32{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", got)
	}
	if got := Flatten(nil); len(got) != 0 {
		t.Errorf("Expected empty vector, got %v", got)
	}
}
