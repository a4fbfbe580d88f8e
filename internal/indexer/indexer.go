package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/deeprat/portfolio/internal/store"
	"github.com/deeprat/portfolio/pkg/models"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrSourcesNotFound is returned when the source directory is missing.
var ErrSourcesNotFound = errors.New("sources directory not found")

// DefaultEmbedDelay is the pause between consecutive embedding calls.
const DefaultEmbedDelay = 100 * time.Millisecond

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// Pacer blocks until the next provider call may start.
type Pacer interface {
	Wait(ctx context.Context) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// NewPacer allows one call per delay. A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Indexer builds the knowledge-base index from a directory of documents.
type Indexer struct {
	Store      store.IndexStore
	SourcesDir string
	Client     ai.Client
	Chunker    Chunker
	Walker     FileSystemWalker
	FileReader FileReader
	Pacer      Pacer

	now func() time.Time
}

// New creates a new Indexer instance. A missing source directory or provider
// credential is reported before any work starts.
func New(s store.IndexStore, sourcesDir string, clientConfig *ai.ClientConfig, embedDelay time.Duration) (*Indexer, error) {
	fi, err := os.Stat(sourcesDir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourcesNotFound, sourcesDir)
	}

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return NewWithDependencies(s, sourcesDir, client, &DefaultFileSystemWalker{}, &DefaultFileReader{}, NewPacer(embedDelay)), nil
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s store.IndexStore, sourcesDir string, client ai.Client, walker FileSystemWalker, fileReader FileReader, pacer Pacer) *Indexer {
	return &Indexer{
		Store:      s,
		SourcesDir: sourcesDir,
		Client:     client,
		Chunker:    NewChunker(),
		Walker:     walker,
		FileReader: fileReader,
		Pacer:      pacer,
		now:        time.Now,
	}
}

// document is a source file read into memory
type document struct {
	name string
	text string
}

// Run chunks every source document, embeds the chunks one at a time and
// saves the resulting index, replacing any previous one.
func (ix *Indexer) Run(ctx context.Context) (*models.Index, error) {
	docs, err := ix.documents(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Int("files", len(docs)).Str("dir", ix.SourcesDir).Msg("found source files")

	var all []models.Chunk
	for _, d := range docs {
		chunks := ix.Chunker.Chunk(d.text, d.name)
		log.Info().Str("file", d.name).Int("chunks", len(chunks)).Msg("chunked document")
		all = append(all, chunks...)
	}
	log.Info().Int("chunks", len(all)).Str("model", ix.Client.Model()).Msg("generating embeddings")

	embedded, err := ix.embed(ctx, all)
	if err != nil {
		return nil, err
	}

	index := models.NewIndex(embedded, ix.Client.Model(), ix.Chunker.Size, ix.Chunker.Overlap, ix.now())
	if err := ix.Store.Save(ctx, index); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}

	log.Info().
		Int("total_chunks", index.Metadata.TotalChunks).
		Int("dropped", len(all)-len(embedded)).
		Str("embedding_model", index.Metadata.EmbeddingModel).
		Msg("index saved")
	return index, nil
}

// embed requests an embedding for each chunk in order. Chunks whose call
// fails are dropped; only cancellation aborts the batch.
func (ix *Indexer) embed(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	out := make([]models.Chunk, 0, len(chunks))
	dim := 0
	for i, ch := range chunks {
		if err := ix.Pacer.Wait(ctx); err != nil {
			return nil, err
		}

		vec, err := ix.Client.Embed(ctx, ch.Content)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Error().Err(err).Str("chunk", ch.ID).Msg("embedding failed, skipping chunk")
			continue
		}
		if len(vec) == 0 {
			log.Error().Str("chunk", ch.ID).Msg("empty embedding, skipping chunk")
			continue
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			log.Warn().Str("chunk", ch.ID).Int("dim", len(vec)).Int("expected", dim).Msg("embedding dimension differs")
		}

		ch.Embedding = vec
		out = append(out, ch)
		log.Info().Msgf("processed %d/%d: %s", i+1, len(chunks), ch.ID)
	}
	return out, nil
}

// documents reads the supported files directly under SourcesDir in
// directory-listing order.
func (ix *Indexer) documents(ctx context.Context) ([]document, error) {
	root := filepath.Clean(ix.SourcesDir)
	var docs []document

	err := ix.Walker.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// de is nil when walking with a test walker
			if de != nil && de.IsDir() {
				if filepath.Clean(path) == root {
					return nil
				}
				return filepath.SkipDir
			}
			if filepath.Dir(path) != root || !Supported(path) {
				return nil
			}

			text, err := ix.read(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			docs = append(docs, document{name: filepath.Base(path), text: text})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (ix *Indexer) read(path string) (string, error) {
	b, err := ix.FileReader.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pdfText(b)
	}
	return string(b), nil
}

// Supported reports whether the file extension is one the indexer reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".pdf":
		return true
	}
	return false
}
