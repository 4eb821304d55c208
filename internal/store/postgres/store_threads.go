package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Thread Methods ---

const createThread = `-- name: CreateThread :one
INSERT INTO threads (id, session_id, name, metadata)
VALUES ($1, $2, $3, $4)
RETURNING id, session_id, name, metadata, created_at, updated_at;
`

// CreateThread inserts a new thread inside an existing session.
func (s *PostgresStore) CreateThread(ctx context.Context, arg store.CreateThreadParams) (*models.Thread, error) {
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if arg.Name == "" {
		arg.Name = models.DefaultThreadName
	}
	metaBytes, err := json.Marshal(arg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thread metadata: %w", err)
	}

	thread, err := scanThread(s.db.QueryRow(ctx, createThread, arg.ID, arg.SessionID, arg.Name, metaBytes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation (session_id)
			s.log.Warn("CreateThread: unknown session", "session", arg.SessionID)
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error creating thread: %w", err)
	}
	return thread, nil
}

const getThreadByID = `-- name: GetThreadByID :one
SELECT id, session_id, name, metadata, created_at, updated_at
FROM threads
WHERE id = $1;
`

func (s *PostgresStore) GetThreadByID(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	thread, err := scanThread(s.db.QueryRow(ctx, getThreadByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching thread: %w", err)
	}
	return thread, nil
}

const listThreadsBySession = `-- name: ListThreadsBySession :many
SELECT id, session_id, name, metadata, created_at, updated_at
FROM threads
WHERE session_id = $1
ORDER BY updated_at DESC;
`

func (s *PostgresStore) ListThreadsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Thread, error) {
	rows, err := s.db.Query(ctx, listThreadsBySession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying threads: %w", err)
	}
	defer rows.Close()

	items := []models.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning thread row: %w", err)
		}
		items = append(items, *thread)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread rows: %w", err)
	}
	return items, nil
}

const updateThread = `-- name: UpdateThread :one
UPDATE threads
SET name = COALESCE($2, name),
    metadata = COALESCE($3, metadata),
    updated_at = NOW()
WHERE id = $1
RETURNING id, session_id, name, metadata, created_at, updated_at;
`

// UpdateThread applies the non-nil fields and bumps updated_at.
func (s *PostgresStore) UpdateThread(ctx context.Context, arg store.UpdateThreadParams) (*models.Thread, error) {
	var metaBytes []byte // nil -> SQL NULL -> keep existing
	if arg.Metadata != nil {
		b, err := json.Marshal(arg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal thread metadata: %w", err)
		}
		metaBytes = b
	}

	thread, err := scanThread(s.db.QueryRow(ctx, updateThread, arg.ID, arg.Name, metaBytes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error updating thread: %w", err)
	}
	return thread, nil
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var (
		i        models.Thread
		metaJSON []byte
	)
	if err := row.Scan(&i.ID, &i.SessionID, &i.Name, &metaJSON, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &i.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode thread metadata: %w", err)
		}
	}
	return &i, nil
}
