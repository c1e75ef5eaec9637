package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// RegisterTypes is installed as pgxpool AfterConnect so vector columns scan and bind.
func RegisterTypes(ctx context.Context, conn *pgx.Conn) error {
	return pgxvec.RegisterTypes(ctx, conn)
}

// PGVectorStore stores passages in the passages table (see migrations).
type PGVectorStore struct {
	pool *pgxpool.Pool
}

func NewPGVectorStore(pool *pgxpool.Pool) *PGVectorStore {
	return &PGVectorStore{pool: pool}
}

func (s *PGVectorStore) Insert(ctx context.Context, collection, fileID string, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("mismatched batch sizes: docs=%d vectors=%d", len(docs), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO passages (collection, file_id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, collection, fileID, d.Text, meta, pgvector.NewVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("insert passage %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Passage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content, metadata, embedding <=> $2 AS distance
		FROM passages
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, collection, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var (
			p        Passage
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&p.Text, &meta, &distance); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode passage metadata: %w", err)
			}
		}
		p.Similarity = similarityFromDistance(distance)
		out = append(out, p)
	}
	return out, rows.Err()
}

// similarityFromDistance converts pgvector cosine distance (0..2) to a similarity in [0,1].
func similarityFromDistance(d float64) float64 {
	s := 1 - d
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (s *PGVectorStore) DeleteFile(ctx context.Context, collection, fileID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE collection = $1 AND file_id = $2`, collection, fileID); err != nil {
		return fmt.Errorf("delete passages for file %s: %w", fileID, err)
	}
	return nil
}

func (s *PGVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}
