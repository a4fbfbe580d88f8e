package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
)

// Client turns text into an embedding vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderHuggingFace Provider = "huggingface"
	ProviderOpenAI      Provider = "openai"
	ProviderVertexAI    Provider = "vertexai"
	ProviderStub        Provider = "stub"
)

// ErrMissingCredential is returned when a provider that needs an API key is
// configured without one.
var ErrMissingCredential = errors.New("provider API key is required")

// ClientConfig holds configuration for embedding clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	BaseURL    string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// ParseProvider maps a configured provider name to a Provider.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "huggingface", "hf":
		return ProviderHuggingFace, nil
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "google":
		return ProviderVertexAI, nil
	case "stub":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + name)
	}
}

// NewClient creates a new embedding client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderHuggingFace:
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, ErrMissingCredential
		}
		return NewHuggingFaceClient(config), nil
	case ProviderOpenAI:
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, ErrMissingCredential
		}
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(context.Background(), config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient produces deterministic vectors without calling a provider.
// Texts sharing words get similar vectors, which is enough for local runs.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 384
	}
	return &StubClient{dim: dim}
}

// Embed hashes each lowercased word into a bucket and L2-normalises the result.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, s.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(s.dim))]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (s *StubClient) Model() string { return "stub" }

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
