package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewCollectionID returns a fresh vector collection name of the form dataset_<8 hex>.
func NewCollectionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate collection id: %w", err)
	}
	return "dataset_" + hex.EncodeToString(b), nil
}

func (s *Store) CreateDataset(ctx context.Context, name, description string) (*Dataset, error) {
	collection, err := NewCollectionID()
	if err != nil {
		return nil, err
	}
	d := Dataset{Name: name, Description: description, CollectionID: collection}
	err = s.db.QueryRow(ctx, `
		INSERT INTO datasets (name, description, collection_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, name, description, collection).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, mapError(err, "insert dataset "+name)
	}
	return &d, nil
}

const datasetColumns = `d.id, d.name, d.description, d.collection_name, d.created_at,
	(SELECT COUNT(*) FROM dataset_files f WHERE f.dataset_id = d.id)`

func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.Query(ctx, `SELECT `+datasetColumns+` FROM datasets d ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	out := []Dataset{}
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CollectionID, &d.CreatedAt, &d.FileCount); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	var d Dataset
	err := s.db.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Description, &d.CollectionID, &d.CreatedAt, &d.FileCount)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get dataset %d", id))
	}
	return &d, nil
}

// DeleteDataset removes the dataset row and its file rows. Bots pointing at it are detached.
func (s *Store) DeleteDataset(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete dataset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE bots SET dataset_id = NULL WHERE dataset_id = $1`, id); err != nil {
		return fmt.Errorf("detach bots from dataset %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM dataset_files WHERE dataset_id = $1`, id); err != nil {
		return fmt.Errorf("delete files of dataset %d: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete dataset %d: %w", id, ErrNotFound)
	}
	return tx.Commit(ctx)
}

func (s *Store) AddFile(ctx context.Context, f *DatasetFile) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO dataset_files (dataset_id, filename, stored_name, file_type, file_size, chunks_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, f.DatasetID, f.Filename, f.StoredName, f.FileType, f.SizeBytes, f.ChunkCount).Scan(&f.ID, &f.CreatedAt)
	return mapError(err, "insert file "+f.Filename)
}

// SetChunkCount records how many passages were indexed for a file.
func (s *Store) SetChunkCount(ctx context.Context, fileID int64, n int) error {
	_, err := s.db.Exec(ctx, `UPDATE dataset_files SET chunks_count = $2 WHERE id = $1`, fileID, n)
	return mapError(err, fmt.Sprintf("update file %d", fileID))
}

const fileColumns = `id, dataset_id, filename, stored_name, file_type, file_size, chunks_count, created_at`

func scanFile(row rowScanner) (DatasetFile, error) {
	var f DatasetFile
	err := row.Scan(&f.ID, &f.DatasetID, &f.Filename, &f.StoredName, &f.FileType, &f.SizeBytes, &f.ChunkCount, &f.CreatedAt)
	return f, err
}

func (s *Store) ListFiles(ctx context.Context, datasetID int64) ([]DatasetFile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+fileColumns+` FROM dataset_files WHERE dataset_id = $1 ORDER BY created_at`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query files of dataset %d: %w", datasetID, err)
	}
	defer rows.Close()

	out := []DatasetFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetFile(ctx context.Context, datasetID, fileID int64) (*DatasetFile, error) {
	f, err := scanFile(s.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM dataset_files WHERE dataset_id = $1 AND id = $2`, datasetID, fileID))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get file %d", fileID))
	}
	return &f, nil
}

func (s *Store) DeleteFile(ctx context.Context, datasetID, fileID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM dataset_files WHERE dataset_id = $1 AND id = $2`, datasetID, fileID)
	if err != nil {
		return fmt.Errorf("delete file %d: %w", fileID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete file %d: %w", fileID, ErrNotFound)
	}
	return nil
}
