package store

import (
	"context"
	"errors"
	"time"

	"manualqa-backend/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// CreateSessionParams contains parameters for creating a session.
type CreateSessionParams struct {
	ID          uuid.UUID
	Name        string
	Description string
	Metadata    map[string]any
}

// CreateThreadParams contains parameters for creating a thread.
type CreateThreadParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Name      string
	Metadata  models.ThreadMetadata
}

// UpdateThreadParams contains parameters for updating a thread.
// Nil fields are left unchanged; updated_at is always bumped.
type UpdateThreadParams struct {
	ID       uuid.UUID
	Name     *string
	Metadata *models.ThreadMetadata
}

// CreateMessageParams contains parameters for appending a message.
type CreateMessageParams struct {
	ID        uuid.UUID
	ThreadID  uuid.UUID
	Role      string
	Content   string
	Metadata  models.MessageMetadata
	CreatedAt time.Time // Zero means "now"
}

// ConversationStore persists sessions, threads and messages.
type ConversationStore interface {
	CreateSession(ctx context.Context, arg CreateSessionParams) (*models.Session, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]models.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID) error

	CreateThread(ctx context.Context, arg CreateThreadParams) (*models.Thread, error)
	GetThreadByID(ctx context.Context, id uuid.UUID) (*models.Thread, error)
	ListThreadsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Thread, error)
	UpdateThread(ctx context.Context, arg UpdateThreadParams) (*models.Thread, error)

	CreateMessage(ctx context.Context, arg CreateMessageParams) (*models.Message, error)
	// ListRecentMessages returns the limit most recent messages, oldest first.
	ListRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Message, error)
	ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error)
	CountMessages(ctx context.Context, threadID uuid.UUID) (int, error)
}

// FactStore looks up curated facts.
type FactStore interface {
	// FindFact returns the best fact of factType whose field contains, or is
	// contained in, text (case-insensitive). Returns ErrNotFound on a miss.
	FindFact(ctx context.Context, factType models.FactType, field models.FactField, text string) (*models.Fact, error)
}

// SystemStore searches equipment records.
type SystemStore interface {
	// SearchSystems returns equipment ranked by relevance to text, best first.
	SearchSystems(ctx context.Context, text string, limit int) ([]models.SystemRef, error)
}

// Store defines the interface for database operations.
// This allows for mocking in tests and potential DB backend switching.
type Store interface {
	ConversationStore
	FactStore
	SystemStore
}
