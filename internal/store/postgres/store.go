package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func NewPostgresStore(db *pgxpool.Pool, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log.With("store", "PostgresStore")}
}

// EnsureSchema creates the tables this service owns if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("database error applying schema: %w", err)
	}
	s.log.Info("Schema ensured")
	return nil
}

// --- Session Methods ---

const createSession = `-- name: CreateSession :one
INSERT INTO sessions (id, name, description, metadata)
VALUES ($1, $2, $3, $4)
RETURNING id, name, description, metadata, created_at, updated_at;
`

// CreateSession inserts a new session record.
func (s *PostgresStore) CreateSession(ctx context.Context, arg store.CreateSessionParams) (*models.Session, error) {
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	metaBytes, err := marshalMap(arg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	session, err := scanSession(s.db.QueryRow(ctx, createSession, arg.ID, arg.Name, arg.Description, metaBytes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			s.log.Error("CreateSession failed", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		}
		return nil, fmt.Errorf("database error creating session: %w", err)
	}
	s.log.Debug("CreateSession: inserted", "session", session.ID)
	return session, nil
}

const getSessionByID = `-- name: GetSessionByID :one
SELECT id, name, description, metadata, created_at, updated_at
FROM sessions
WHERE id = $1;
`

// GetSessionByID returns store.ErrNotFound if the session does not exist.
func (s *PostgresStore) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := scanSession(s.db.QueryRow(ctx, getSessionByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching session: %w", err)
	}
	return session, nil
}

const listSessions = `-- name: ListSessions :many
SELECT id, name, description, metadata, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2;
`

func (s *PostgresStore) ListSessions(ctx context.Context, limit, offset int) ([]models.Session, error) {
	rows, err := s.db.Query(ctx, listSessions, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}
	defer rows.Close()

	items := []models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning session row: %w", err)
		}
		items = append(items, *session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return items, nil
}

const touchSession = `-- name: TouchSession :exec
UPDATE sessions SET updated_at = NOW() WHERE id = $1;
`

func (s *PostgresStore) TouchSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, touchSession, id)
	if err != nil {
		return fmt.Errorf("database error touching session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- helpers ---

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		i        models.Session
		metaJSON []byte
	)
	if err := row.Scan(&i.ID, &i.Name, &i.Description, &metaJSON, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &i.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &i, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
