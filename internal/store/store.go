// Package store persists datasets, their files, Chorus models, bots and chat history in PostgreSQL.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/chorus/internal/types"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

const uniqueViolation = "23505"

type Dataset struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CollectionID string    `json:"collection_name"`
	FileCount    int       `json:"file_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type DatasetFile struct {
	ID         int64     `json:"id"`
	DatasetID  int64     `json:"dataset_id"`
	Filename   string    `json:"filename"`
	StoredName string    `json:"-"`
	FileType   string    `json:"file_type"`
	SizeBytes  int64     `json:"file_size"`
	ChunkCount int       `json:"chunks_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type ChorusModel struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Config      types.ChorusConfig `json:"config"`
	CreatedAt   time.Time          `json:"created_at"`
}

type Bot struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Instructions  string    `json:"instructions"`
	DatasetID     *int64    `json:"dataset_id"`
	ChorusModelID int64     `json:"chorus_model_id"`
	RAGCount      int       `json:"rag_results_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryEntry struct {
	ID          int64        `json:"id"`
	BotID       int64        `json:"bot_id"`
	UserMessage string       `json:"user_message"`
	BotResponse string       `json:"bot_response"`
	Intent      types.Intent `json:"intent"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Store is the pgx-backed repository.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// mapError converts pgx errors into the package sentinels.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
