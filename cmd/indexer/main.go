package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deeprat/portfolio/internal/config"
	"github.com/deeprat/portfolio/internal/indexer"
	"github.com/deeprat/portfolio/internal/store"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	// Create flagset for configuration
	fs := pflag.NewFlagSet("portfolio-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger := zlog.Logger

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid embedding provider")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.IndexPath)
	if err != nil {
		logger.Fatal().Err(err).Str("index", cfg.IndexPath).Msg("failed to open index store")
	}
	defer st.Close()

	ix, err := indexer.New(st, cfg.SourcesDir, clientConfig, cfg.EmbedDelay)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create indexer")
	}

	logger.Info().
		Str("provider", cfg.Provider).
		Str("sources", cfg.SourcesDir).
		Str("index", cfg.IndexPath).
		Dur("embed_delay", cfg.EmbedDelay).
		Msg("starting ingestion")

	start := time.Now()
	index, err := ix.Run(ctx)
	if err != nil {
		st.Close()
		logger.Fatal().Err(err).Msg("ingestion failed")
	}

	logger.Info().
		Int("chunks", index.Len()).
		Str("model", index.Metadata.EmbeddingModel).
		Dur("dur", time.Since(start)).
		Msg("ingestion complete")
}
