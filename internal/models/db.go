package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultThreadName is the sentinel name a thread keeps until it is auto-renamed.
const DefaultThreadName = "New Thread"

// Session is a top-level conversation container.
type Session struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description,omitempty"`
	Metadata    map[string]any `db:"metadata" json:"metadata,omitempty"` // Stored as JSONB
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Thread is a sub-conversation within a session.
type Thread struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	SessionID uuid.UUID      `db:"session_id" json:"session_id"`
	Name      string         `db:"name" json:"name"`
	Metadata  ThreadMetadata `db:"metadata" json:"metadata"` // Stored as JSONB
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// ThreadMetadata is the JSONB payload kept on a thread.
type ThreadMetadata struct {
	// SystemsContext is the equipment currently in focus for follow-up resolution.
	SystemsContext         []SystemRef `json:"systemsContext,omitempty"`
	Summary                string      `json:"summary,omitempty"`
	LastSummarizedAt       *time.Time  `json:"lastSummarizedAt,omitempty"`
	SummarizedMessageCount int         `json:"summarizedMessageCount,omitempty"`
}

// SystemRef identifies a piece of equipment used to scope retrieval.
type SystemRef struct {
	ID           string  `json:"id,omitempty" yaml:"id"`
	Manufacturer string  `json:"manufacturer,omitempty" yaml:"manufacturer"`
	Model        string  `json:"model,omitempty" yaml:"model"`
	System       string  `json:"system,omitempty" yaml:"system"`
	Subsystem    string  `json:"subsystem,omitempty" yaml:"subsystem"`
	Rank         float64 `json:"rank,omitempty" yaml:"-"`
}

// Label returns "Manufacturer Model", falling back to the system name, then "this system".
func (s SystemRef) Label() string {
	label := strings.TrimSpace(strings.TrimSpace(s.Manufacturer) + " " + strings.TrimSpace(s.Model))
	if label != "" {
		return label
	}
	if sys := strings.TrimSpace(s.System); sys != "" {
		return sys
	}
	return "this system"
}

// FactType enumerates the curated fact kinds.
type FactType string

const (
	FactTypeSpec   FactType = "spec"
	FactTypeIntent FactType = "intent"
	FactTypeGolden FactType = "golden"
)

// Fact is a curated, pre-approved fact record. Read-only to the chat pipeline.
type Fact struct {
	ID         uuid.UUID `db:"id" json:"id" yaml:"-"`
	FactType   FactType  `db:"fact_type" json:"fact_type" yaml:"fact_type"`
	Key        string    `db:"key" json:"key,omitempty" yaml:"key"`
	Value      string    `db:"value" json:"value,omitempty" yaml:"value"`
	Unit       string    `db:"unit" json:"unit,omitempty" yaml:"unit"`
	Intent     string    `db:"intent" json:"intent,omitempty" yaml:"intent"`
	Query      string    `db:"query" json:"query,omitempty" yaml:"query"`
	Expected   string    `db:"expected" json:"expected,omitempty" yaml:"expected"`
	Confidence *float64  `db:"confidence" json:"confidence,omitempty" yaml:"confidence"`
	DocID      string    `db:"doc_id" json:"doc_id,omitempty" yaml:"doc_id"`
	Page       *int      `db:"page" json:"page,omitempty" yaml:"page"`
	Context    string    `db:"context" json:"context,omitempty" yaml:"context"`
}

// FactField names the column a fact lookup matches against.
type FactField string

const (
	FactFieldKey    FactField = "key"
	FactFieldIntent FactField = "intent"
	FactFieldQuery  FactField = "query"
)

// Chunk is a retrieved unit of manual text.
type Chunk struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	Page         int     `json:"page,omitempty"`
	Section      string  `json:"section,omitempty"`
	ChunkIndex   int     `json:"chunk_index,omitempty"`
	ChunkType    string  `json:"chunk_type,omitempty"` // text, table, ...
	DocID        string  `json:"doc_id,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
}
