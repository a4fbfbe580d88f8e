package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deeprat/portfolio/pkg/models"
	"github.com/rs/zerolog/log"
)

// FileStore keeps the index as one JSON document on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Save writes the index next to the destination and renames it into place,
// so readers never observe a partially written file.
func (s *FileStore) Save(ctx context.Context, index *models.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index == nil {
		return errors.New("nil index")
	}

	b, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", tmp.Name()).Msg("failed to remove temp file")
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the whole index into memory.
func (s *FileStore) Load(ctx context.Context) (*models.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, s.path)
		}
		return nil, err
	}

	var index models.Index
	if err := json.Unmarshal(b, &index); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", s.path, err)
	}
	if err := checkVersion(index.Version); err != nil {
		return nil, err
	}
	if index.Chunks == nil {
		index.Chunks = []models.Chunk{}
	}
	return &index, nil
}

func (s *FileStore) Close() {}
