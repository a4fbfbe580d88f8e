package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/deeprat/portfolio/internal/chat"
	"github.com/deeprat/portfolio/internal/config"
	"github.com/deeprat/portfolio/internal/ratelimit"
	"github.com/deeprat/portfolio/internal/search"
	"github.com/deeprat/portfolio/internal/store"
	"github.com/deeprat/portfolio/pkg/models"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// retriever is the part of search.Service the HTTP handlers need.
type retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.RetrievalResult, error)
}

func searchHandler(svc retriever, defaultK int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		start := time.Now()
		q := r.URL.Query().Get("q")
		k := defaultK
		if v := r.URL.Query().Get("k"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				k = n
			}
		}
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := svc.Retrieve(ctx, q, k)
		if err != nil {
			var rerr *search.RetrievalError
			switch {
			case errors.Is(err, search.ErrEmptyQuery):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.As(err, &rerr):
				http.Error(w, err.Error(), http.StatusBadGateway)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		// never an empty or null body
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(search.FormatSources(res)); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
		}

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("k", k).Int("results", len(res)).Dur("dur", time.Since(start)).Msg("served")
	}
}

func newMux(svc retriever, chatHandler http.Handler, defaultK int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.Handle("/chat", chatHandler)
	mux.HandleFunc("/search", searchHandler(svc, defaultK))
	return mux
}

// loadIndex reads the index once at startup. A store with no index yet
// yields an empty corpus so the server can still answer without context.
func loadIndex(ctx context.Context, st store.IndexStore, logger zerolog.Logger) (*models.Index, error) {
	index, err := st.Load(ctx)
	if errors.Is(err, store.ErrIndexNotFound) {
		logger.Warn().Msg("no index found, run the indexer first; serving an empty knowledge base")
		return models.NewIndex(nil, "", 0, 0, time.Now()), nil
	}
	return index, err
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	// Create flagset for configuration
	fs := pflag.NewFlagSet("portfolio-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("chat_provider", cfg.ChatProvider).Str("log_level", cfg.LogLevel).Msg("starting portfolio api")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatalf("Invalid embedding provider: %v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.IndexPath)
	if err != nil {
		log.Fatalf("Failed to open index store: %v", err)
	}
	index, err := loadIndex(ctx, st, logger)
	st.Close()
	if err != nil {
		log.Fatalf("Failed to load index: %v", err)
	}

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("chunks", index.Len()).Str("index_model", index.Metadata.EmbeddingModel).Str("embed_model", c.Model()).Msg("index loaded")
	if warning := search.CheckCompatibility(index, c.Model()); warning != "" {
		logger.Warn().Msg(warning)
	}

	svc := search.NewService(c, index)

	gen, err := ai.NewGenerator(ctx, cfg.GeneratorConfig())
	if err != nil {
		log.Fatalf("Failed to create chat generator: %v", err)
	}

	chatHandler := chat.NewHandler(svc, gen, ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow))
	chatHandler.TopK = cfg.ChatTopK
	chatHandler.MaxQueryLength = cfg.MaxQueryLength

	mux := newMux(svc, chatHandler, cfg.TopK)

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
