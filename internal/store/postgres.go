package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deeprat/portfolio/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresStore keeps one index snapshot in two tables. Similarity search
// still happens in memory; the database only holds the snapshot.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at url.
func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: p}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate creates the snapshot tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const q = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS kb_index (
  id              INT PRIMARY KEY CHECK (id = 1),
  version         TEXT NOT NULL,
  created         TIMESTAMP WITH TIME ZONE NOT NULL,
  embedding_model TEXT NOT NULL,
  chunk_size      INT NOT NULL,
  chunk_overlap   INT NOT NULL
);

CREATE TABLE IF NOT EXISTS kb_chunks (
  seq       INT PRIMARY KEY,
  id        TEXT NOT NULL,
  filename  TEXT NOT NULL,
  content   TEXT NOT NULL,
  embedding vector
);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

// Save replaces the stored snapshot in a single transaction.
func (s *PostgresStore) Save(ctx context.Context, index *models.Index) error {
	if index == nil {
		return errors.New("nil index")
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM kb_chunks`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kb_index`); err != nil {
		return err
	}

	m := index.Metadata
	if _, err := tx.Exec(ctx, `
		INSERT INTO kb_index (id, version, created, embedding_model, chunk_size, chunk_overlap)
		VALUES (1, $1, $2, $3, $4, $5)`,
		index.Version, index.Created, m.EmbeddingModel, m.ChunkSize, m.ChunkOverlap,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, c := range index.Chunks {
		var ev any
		if len(c.Embedding) > 0 {
			ev = pgvector.NewVector(c.Embedding)
		} else {
			ev = (*pgvector.Vector)(nil)
		}
		batch.Queue(`INSERT INTO kb_chunks (seq, id, filename, content, embedding) VALUES ($1, $2, $3, $4, $5)`,
			i, c.ID, c.Filename, c.Content, ev)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Load reads the stored snapshot wholesale, in the order it was saved.
func (s *PostgresStore) Load(ctx context.Context) (*models.Index, error) {
	var (
		index   models.Index
		created time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT version, created, embedding_model, chunk_size, chunk_overlap
		FROM kb_index WHERE id = 1`).
		Scan(&index.Version, &created, &index.Metadata.EmbeddingModel, &index.Metadata.ChunkSize, &index.Metadata.ChunkOverlap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIndexNotFound
		}
		return nil, err
	}
	if err := checkVersion(index.Version); err != nil {
		return nil, err
	}
	index.Created = created.UTC()

	rows, err := s.pool.Query(ctx, `SELECT id, filename, content, embedding::text FROM kb_chunks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index.Chunks = []models.Chunk{}
	for rows.Next() {
		var (
			c   models.Chunk
			emb *string
		)
		if err := rows.Scan(&c.ID, &c.Filename, &c.Content, &emb); err != nil {
			return nil, err
		}
		if emb != nil {
			var v pgvector.Vector
			if err := v.Scan(*emb); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			c.Embedding = v.Slice()
		}
		index.Chunks = append(index.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	index.Metadata.TotalChunks = len(index.Chunks)
	return &index, nil
}

// Ping checks the database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
