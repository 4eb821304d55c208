package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Message Methods ---

const createMessage = `-- name: CreateMessage :one
INSERT INTO messages (id, thread_id, role, content, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, clock_timestamp()))
RETURNING id, seq, thread_id, role, content, metadata, created_at;
`

// CreateMessage appends an immutable message to a thread.
func (s *PostgresStore) CreateMessage(ctx context.Context, arg store.CreateMessageParams) (*models.Message, error) {
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	metaBytes, err := json.Marshal(arg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	var createdAt any // nil lets the database assign clock_timestamp()
	if !arg.CreatedAt.IsZero() {
		createdAt = arg.CreatedAt
	}

	msg, err := scanMessage(s.db.QueryRow(ctx, createMessage, arg.ID, arg.ThreadID, arg.Role, arg.Content, metaBytes, createdAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error creating message: %w", err)
	}
	return msg, nil
}

const listRecentMessages = `-- name: ListRecentMessages :many
SELECT id, seq, thread_id, role, content, metadata, created_at
FROM messages
WHERE thread_id = $1
ORDER BY created_at DESC, seq DESC
LIMIT $2;
`

// ListRecentMessages returns the limit most recent messages, oldest first.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	items, err := s.queryMessages(ctx, listRecentMessages, threadID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(items)
	return items, nil
}

const listMessages = `-- name: ListMessages :many
SELECT id, seq, thread_id, role, content, metadata, created_at
FROM messages
WHERE thread_id = $1
ORDER BY created_at ASC, seq ASC;
`

func (s *PostgresStore) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error) {
	return s.queryMessages(ctx, listMessages, threadID)
}

const countMessages = `-- name: CountMessages :one
SELECT COUNT(*) FROM messages WHERE thread_id = $1;
`

func (s *PostgresStore) CountMessages(ctx context.Context, threadID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countMessages, threadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("database error counting messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	items := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		items = append(items, *msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		i        models.Message
		metaJSON []byte
	)
	if err := row.Scan(&i.ID, &i.Seq, &i.ThreadID, &i.Role, &i.Content, &metaJSON, &i.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &i.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}
	return &i, nil
}
