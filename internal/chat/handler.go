// Package chat serves the streaming question-answering endpoint.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/deeprat/portfolio/internal/search"
	"github.com/deeprat/portfolio/pkg/models"
	"github.com/rs/zerolog/hlog"
)

const (
	// ChatTopK is the number of chunks retrieved per question.
	ChatTopK = 4
	// MaxQueryLength is the number of characters kept from a question.
	MaxQueryLength = 1000

	apology = "Sorry, I encountered an error. Please try again."
	done    = "[DONE]"
)

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.RetrievalResult, error)
}

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	Allow(key string) bool
}

// Request is the body of POST /chat.
type Request struct {
	Messages []ai.Message `json:"messages"`
}

// Handler answers the latest user message of a conversation over
// server-sent events, grounding the answer in retrieved chunks.
type Handler struct {
	Retriever      Retriever
	Generator      ai.Generator
	Limiter        RateLimiter
	TopK           int
	MaxQueryLength int
}

// NewHandler creates a chat handler with the default retrieval depth and
// query length. A nil limiter disables rate limiting.
func NewHandler(retriever Retriever, generator ai.Generator, limiter RateLimiter) *Handler {
	return &Handler{
		Retriever:      retriever,
		Generator:      generator,
		Limiter:        limiter,
		TopK:           ChatTopK,
		MaxQueryLength: MaxQueryLength,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.Limiter != nil && !h.Limiter.Allow(ClientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait a moment.")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Messages array is required")
		return
	}
	last, ok := lastUserMessage(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "No user message found")
		return
	}

	query := Sanitize(last.Content, h.MaxQueryLength)
	logger.Info().Str("query", truncate(query, 50)).Msg("processing chat query")

	results, err := h.Retriever.Retrieve(r.Context(), query, h.TopK)
	if err != nil {
		logger.Error().Err(err).Msg("retrieval failed, answering without context")
		results = nil
	} else {
		logger.Info().Int("chunks", len(results)).Msg("retrieved context")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ev := &eventWriter{w: w}
	if len(results) > 0 {
		if err := ev.send(map[string]any{"sources": search.FormatSources(results)}); err != nil {
			logger.Warn().Err(err).Msg("client went away")
			return
		}
	}

	history := req.Messages[:len(req.Messages)-1]
	err = h.Generator.Stream(r.Context(), history, Prompt(results, query), func(piece string) error {
		return ev.send(map[string]string{"content": piece})
	})
	if err != nil {
		logger.Error().Err(err).Msg("generation failed")
		_ = ev.send(map[string]string{"content": apology})
	}
	_ = ev.raw(done)
}

// Prompt wraps the question with the retrieved context. Without context
// the question is sent as is.
func Prompt(results []models.RetrievalResult, query string) string {
	if len(results) == 0 {
		return query
	}
	return "Context from knowledge base:\n" + search.FormatContext(results) + "\n\n---\n\nUser question: " + query
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize keeps the first limit characters of s and strips angle brackets.
func Sanitize(s string, limit int) string {
	return angleBrackets.Replace(truncate(s, limit))
}

// ClientKey identifies the caller for rate limiting.
func ClientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		return v
	}
	return "anonymous"
}

func lastUserMessage(msgs []ai.Message) (ai.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i], true
		}
	}
	return ai.Message{}, false
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type eventWriter struct {
	w http.ResponseWriter
}

func (e *eventWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.raw(string(b))
}

func (e *eventWriter) raw(payload string) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
