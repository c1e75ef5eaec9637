package store

import (
	"context"
	"fmt"

	"github.com/af-corp/chorus/internal/types"
)

const DefaultRAGCount = 5

func (s *Store) CreateBot(ctx context.Context, b *Bot) error {
	if b.RAGCount <= 0 {
		b.RAGCount = DefaultRAGCount
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO bots (name, instructions, dataset_id, chorus_model_id, rag_results_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, b.Name, b.Instructions, b.DatasetID, b.ChorusModelID, b.RAGCount).Scan(&b.ID, &b.CreatedAt)
	return mapError(err, "insert bot "+b.Name)
}

const botColumns = `id, name, instructions, dataset_id, chorus_model_id, rag_results_count, created_at`

func scanBot(row rowScanner) (Bot, error) {
	var b Bot
	err := row.Scan(&b.ID, &b.Name, &b.Instructions, &b.DatasetID, &b.ChorusModelID, &b.RAGCount, &b.CreatedAt)
	return b, err
}

func (s *Store) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := s.db.Query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	out := []Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBot(ctx context.Context, id int64) (*Bot, error) {
	b, err := scanBot(s.db.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get bot %d", id))
	}
	return &b, nil
}

// DeleteBot removes the bot together with its chat history.
func (s *Store) DeleteBot(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete bot: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_history WHERE bot_id = $1`, id); err != nil {
		return fmt.Errorf("delete history of bot %d: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bot %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete bot %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// AppendHistory stores one chat turn.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_history (bot_id, user_message, bot_response, intent)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.BotID, e.UserMessage, e.BotResponse, string(e.Intent)).Scan(&e.ID, &e.CreatedAt)
	return mapError(err, fmt.Sprintf("append history for bot %d", e.BotID))
}

// History returns a bot's turns oldest first.
func (s *Store) History(ctx context.Context, botID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, bot_id, user_message, bot_response, intent, created_at
		FROM (
			SELECT * FROM chat_history WHERE bot_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		) recent
		ORDER BY created_at, id
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history of bot %d: %w", botID, err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var intent string
		if err := rows.Scan(&e.ID, &e.BotID, &e.UserMessage, &e.BotResponse, &intent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Intent = types.Intent(intent)
		out = append(out, e)
	}
	return out, rows.Err()
}
