package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/af-corp/chorus/internal/types"
)

func (s *Store) CreateChorusModel(ctx context.Context, name, description string, cfg types.ChorusConfig) (*ChorusModel, error) {
	responders, err := json.Marshal(cfg.Responders)
	if err != nil {
		return nil, fmt.Errorf("encode responders: %w", err)
	}
	evaluators, err := json.Marshal(cfg.Evaluators)
	if err != nil {
		return nil, fmt.Errorf("encode evaluators: %w", err)
	}

	m := ChorusModel{Name: name, Description: description, Config: cfg}
	err = s.db.QueryRow(ctx, `
		INSERT INTO chorus_models (name, description, responder_llms, evaluator_llms)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, name, description, responders, evaluators).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err, "insert chorus model "+name)
	}
	return &m, nil
}

type rowScanner interface{ Scan(...any) error }

func scanChorusModel(row rowScanner) (ChorusModel, error) {
	var m ChorusModel
	var responders, evaluators []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &responders, &evaluators, &m.CreatedAt); err != nil {
		return m, err
	}
	if err := json.Unmarshal(responders, &m.Config.Responders); err != nil {
		return m, fmt.Errorf("decode responders of chorus model %d: %w", m.ID, err)
	}
	if len(evaluators) > 0 {
		if err := json.Unmarshal(evaluators, &m.Config.Evaluators); err != nil {
			return m, fmt.Errorf("decode evaluators of chorus model %d: %w", m.ID, err)
		}
	}
	return m, nil
}

const chorusModelColumns = `id, name, description, responder_llms, evaluator_llms, created_at`

func (s *Store) ListChorusModels(ctx context.Context) ([]ChorusModel, error) {
	rows, err := s.db.Query(ctx, `SELECT `+chorusModelColumns+` FROM chorus_models ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query chorus models: %w", err)
	}
	defer rows.Close()

	out := []ChorusModel{}
	for rows.Next() {
		m, err := scanChorusModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chorus model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetChorusModel(ctx context.Context, id int64) (*ChorusModel, error) {
	m, err := scanChorusModel(s.db.QueryRow(ctx, `SELECT `+chorusModelColumns+` FROM chorus_models WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get chorus model %d", id))
	}
	return &m, nil
}

// DeleteChorusModel fails with ErrConflict while a bot still uses the model.
func (s *Store) DeleteChorusModel(ctx context.Context, id int64) error {
	var inUse bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bots WHERE chorus_model_id = $1)`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("check chorus model %d usage: %w", id, err)
	}
	if inUse {
		return fmt.Errorf("delete chorus model %d: used by a bot: %w", id, ErrConflict)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM chorus_models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chorus model %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete chorus model %d: %w", id, ErrNotFound)
	}
	return nil
}
