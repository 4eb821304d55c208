package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single immutable turn in a thread.
// Messages are ordered by (CreatedAt, Seq).
type Message struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	ThreadID  uuid.UUID       `db:"thread_id" json:"thread_id"`
	Role      string          `db:"role" json:"role"`
	Content   string          `db:"content" json:"content"`
	Metadata  MessageMetadata `db:"metadata" json:"metadata"` // Stored as JSONB
	Seq       int64           `db:"seq" json:"-"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// MessageMetadata records how a turn was produced.
type MessageMetadata struct {
	EnhancedQuery   string      `json:"enhancedQuery,omitempty"`
	SystemsContext  []SystemRef `json:"systemsContext,omitempty"`
	FactMatch       bool        `json:"factMatch,omitempty"`
	FactType        FactType    `json:"factType,omitempty"`
	RetrievalMethod string      `json:"retrievalMethod,omitempty"`
	Sources         []Source    `json:"sources,omitempty"`
	Style           string      `json:"style,omitempty"`
	Intent          string      `json:"intent,omitempty"`
}

// Source points at the manual location an answer drew from.
type Source struct {
	DocID        string  `json:"doc_id,omitempty"`
	Page         int     `json:"page,omitempty"`
	ChunkIndex   int     `json:"chunk_index,omitempty"`
	ChunkType    string  `json:"chunk_type,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
}
