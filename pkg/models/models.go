package models

import "time"

// IndexVersion is the format version written by the ingestion pipeline.
const IndexVersion = "1.0.0"

type Chunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Filename  string    `json:"filename"`
	Embedding []float32 `json:"embedding"`
}

type IndexMetadata struct {
	TotalChunks    int    `json:"totalChunks"`
	EmbeddingModel string `json:"embeddingModel"`
	ChunkSize      int    `json:"chunkSize"`
	ChunkOverlap   int    `json:"chunkOverlap"`
}

// Index is the persisted corpus. It is built wholesale by one ingestion run
// and treated as a read-only snapshot once loaded.
type Index struct {
	Version  string        `json:"version"`
	Created  time.Time     `json:"created"`
	Chunks   []Chunk       `json:"chunks"`
	Metadata IndexMetadata `json:"metadata"`
}

// NewIndex assembles an Index for the given chunks and build parameters.
func NewIndex(chunks []Chunk, model string, chunkSize, chunkOverlap int, created time.Time) *Index {
	if chunks == nil {
		chunks = []Chunk{}
	}
	return &Index{
		Version: IndexVersion,
		Created: created.UTC(),
		Chunks:  chunks,
		Metadata: IndexMetadata{
			TotalChunks:    len(chunks),
			EmbeddingModel: model,
			ChunkSize:      chunkSize,
			ChunkOverlap:   chunkOverlap,
		},
	}
}

// Len returns the number of chunks in the index; a nil index is empty.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Chunks)
}

type RetrievalResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Source is the citation view of a RetrievalResult.
type Source struct {
	Filename  string  `json:"filename"`
	Excerpt   string  `json:"excerpt"`
	Relevance float64 `json:"relevance"`
}
