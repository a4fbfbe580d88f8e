package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deeprat/portfolio/pkg/models"
)

var (
	// ErrIndexNotFound is returned by Load when no index has been saved.
	ErrIndexNotFound = errors.New("index not found")
	// ErrUnsupportedVersion is returned by Load for an index written in an
	// incompatible format.
	ErrUnsupportedVersion = errors.New("unsupported index version")
)

// IndexStore persists whole index snapshots. Save replaces whatever was
// stored before; there is no partial update.
type IndexStore interface {
	Save(ctx context.Context, index *models.Index) error
	Load(ctx context.Context) (*models.Index, error)
	Close()
}

// New opens the store for location: a postgres:// or postgresql:// DSN
// selects the Postgres snapshot table, anything else is a JSON file path.
func New(ctx context.Context, location string) (IndexStore, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("index location is required")
	}
	if IsPostgres(location) {
		return NewPostgres(ctx, location)
	}
	return NewFileStore(location), nil
}

// IsPostgres reports whether location is a Postgres DSN.
func IsPostgres(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}

// checkVersion accepts any index whose major version matches ours.
func checkVersion(v string) error {
	major, _, _ := strings.Cut(models.IndexVersion, ".")
	got, _, _ := strings.Cut(v, ".")
	if got != major {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	return nil
}
