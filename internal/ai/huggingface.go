package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultHuggingFaceURL   = "https://router.huggingface.co/hf-inference"
	defaultHuggingFaceModel = "sentence-transformers/all-MiniLM-L6-v2"
)

// HuggingFaceClient calls the Inference feature-extraction pipeline.
type HuggingFaceClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewHuggingFaceClient(config *ClientConfig) *HuggingFaceClient {
	if config.EmbedModel == "" {
		config.EmbedModel = defaultHuggingFaceModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultHuggingFaceURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Dim == 0 && config.EmbedModel == defaultHuggingFaceModel {
		config.Dim = 384
	}

	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("PORTFOLIO_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &HuggingFaceClient{
		config: config,
		http: &http.Client{
			Timeout:   20 * time.Second,
			Transport: transport,
		},
	}
}

type featureExtractionRequest struct {
	Model  string `json:"model"`
	Inputs string `json:"inputs"`
}

// Embed implements the embedding functionality
func (c *HuggingFaceClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.config.APIKey == "" {
		return nil, ErrMissingCredential
	}

	b, err := json.Marshal(featureExtractionRequest{Model: c.config.EmbedModel, Inputs: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("huggingface: %s: %s", resp.Status, e.Error)
		}
		return nil, errors.New("huggingface: " + resp.Status)
	}

	var out Vector
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("huggingface: decode embedding: %w", err)
	}
	if len(out) == 0 {
		return nil, errEmptyEmbedding
	}
	return out, nil
}

func (c *HuggingFaceClient) endpoint() string {
	return c.config.BaseURL + "/models/" + c.config.EmbedModel + "/pipeline/feature-extraction"
}

func (c *HuggingFaceClient) Model() string { return c.config.EmbedModel }

func (c *HuggingFaceClient) Dim() int { return c.config.Dim }
