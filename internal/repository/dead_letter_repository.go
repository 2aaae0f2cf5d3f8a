package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailstream/mailstream/internal/database"
	"github.com/mailstream/mailstream/internal/model"
)

// DeadLetterRepository persists payloads that exhausted their retries
type DeadLetterRepository struct {
	db *database.Postgres
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Postgres) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// NewDeadLetter snapshots p into a DeadLetter ready for Create
func NewDeadLetter(p *model.EmailPayload, lastError string) (*model.DeadLetter, error) {
	if p == nil {
		return nil, ErrInvalidInput
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return &model.DeadLetter{
		ID:             uuid.New().String(),
		PayloadID:      p.ID,
		IdempotencyKey: p.IdempotencyKey,
		Recipients:     append([]string(nil), p.To...),
		Subject:        p.Subject,
		Retries:        p.Retries,
		LastError:      lastError,
		Payload:        raw,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Create inserts a dead letter
func (r *DeadLetterRepository) Create(ctx context.Context, dl *model.DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, payload_id, idempotency_key, recipients, subject,
		    retries, last_error, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		dl.ID,
		dl.PayloadID,
		dl.IdempotencyKey,
		pq.Array(dl.Recipients),
		dl.Subject,
		dl.Retries,
		dl.LastError,
		[]byte(dl.Payload),
		dl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

// Record snapshots p and stores it
func (r *DeadLetterRepository) Record(ctx context.Context, p *model.EmailPayload, lastError string) error {
	dl, err := NewDeadLetter(p, lastError)
	if err != nil {
		return err
	}
	return r.Create(ctx, dl)
}

// GetByID returns one dead letter
func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*model.DeadLetter, error) {
	query := `
		SELECT id, payload_id, idempotency_key, recipients, subject, retries,
		    last_error, payload, created_at
		FROM dead_letters WHERE id = $1
	`
	dl, err := scanDeadLetter(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return dl, nil
}

// List returns the most recent dead letters, newest first
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]*model.DeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, payload_id, idempotency_key, recipients, subject, retries,
		    last_error, payload, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*model.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(s scanner) (*model.DeadLetter, error) {
	var (
		dl        model.DeadLetter
		payload   []byte
		lastError sql.NullString
	)
	err := s.Scan(
		&dl.ID,
		&dl.PayloadID,
		&dl.IdempotencyKey,
		pq.Array(&dl.Recipients),
		&dl.Subject,
		&dl.Retries,
		&lastError,
		&payload,
		&dl.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	dl.LastError = lastError.String
	dl.Payload = payload
	return &dl, nil
}
