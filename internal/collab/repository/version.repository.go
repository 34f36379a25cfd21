package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/logger"
)

// Record is an archived version together with the document it belongs to.
type Record struct {
	DocumentID string `json:"documentId"`
	model.Version
}

type VersionRepository struct {
	DB *sql.DB
}

func NewVersionRepository(db *sql.DB) *VersionRepository {
	return &VersionRepository{DB: db}
}

// Save archives v. Saving the same version id twice is a no-op.
func (r *VersionRepository) Save(ctx context.Context, documentID string, v model.Version) error {
	changes := v.Changes
	if changes == nil {
		changes = []model.Change{}
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes of version %s: %w", v.ID, err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO collab_versions
		(id, document_id, user_id, parent_version, content, checksum, description, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		v.ID, documentID, v.UserID, v.ParentVersion, v.Content, v.Checksum, v.Description, raw, v.Timestamp)
	if err != nil {
		logger.Sugar.Errorf("Failed to archive version %s of doc %s: %v", v.ID, documentID, err)
	}
	return err
}

// ListByDocument returns the archived versions of documentID, oldest first.
func (r *VersionRepository) ListByDocument(ctx context.Context, documentID string) ([]Record, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, document_id, user_id, parent_version, content, checksum, description, changes, created_at
		FROM collab_versions WHERE document_id = $1 ORDER BY created_at ASC`, documentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list versions for doc %s: %v", documentID, err)
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *VersionRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, document_id, user_id, parent_version, content, checksum, description, changes, created_at
		FROM collab_versions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("archived version %s: %w", id, model.ErrVersionNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get version %s: %v", id, err)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var raw []byte
	err := s.Scan(&rec.ID, &rec.DocumentID, &rec.UserID, &rec.ParentVersion, &rec.Content,
		&rec.Checksum, &rec.Description, &raw, &rec.Timestamp)
	if err != nil {
		return Record{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Changes); err != nil {
			return Record{}, fmt.Errorf("decode changes of version %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}
