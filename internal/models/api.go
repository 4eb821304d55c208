package models

import (
	"github.com/google/uuid"
)

// --- Request Structs ---

// ChatRequest defines the body for POST /v1/chat.
type ChatRequest struct {
	Query       string     `json:"query"`
	SessionID   *uuid.UUID `json:"sessionId,omitempty"`
	ThreadID    *uuid.UUID `json:"threadId,omitempty"`
	ContextSize int        `json:"contextSize,omitempty"` // Number of recent messages used as context
	Style       string     `json:"style,omitempty"`       // brief | technical | conversational | detailed | auto
}

// CreateSessionRequest defines the body for creating a session explicitly.
type CreateSessionRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateThreadRequest defines the body for creating a thread inside a session.
type CreateThreadRequest struct {
	Name string `json:"name,omitempty"`
}

// --- Response Structs ---

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatResponse is the result of processing one user message.
type ChatResponse struct {
	SessionID        uuid.UUID   `json:"sessionId"`
	ThreadID         uuid.UUID   `json:"threadId"`
	UserMessage      Message     `json:"userMessage"`
	AssistantMessage Message     `json:"assistantMessage"`
	SystemsContext   []SystemRef `json:"systemsContext"`
	RetrievalMeta    TurnMeta    `json:"retrievalMeta"`
}

// Retrieval methods reported in TurnMeta.RetrievalMethod.
const (
	RetrievalFactFirst     = "fact-first"
	RetrievalVector        = "pinecone-fallback"
	RetrievalVectorError   = "pinecone-error"
	RetrievalSummarization = "summarization"
	RetrievalAssetSummary  = "asset-summary"
)

// TurnMeta reports how an answer was produced.
type TurnMeta struct {
	FactMatch       bool            `json:"factMatch"`
	FactType        FactType        `json:"factType,omitempty"`
	RetrievalMethod string          `json:"retrievalMethod"`
	Intent          string          `json:"intent"`
	Pipeline        string          `json:"pipeline"`
	ContextSource   string          `json:"contextSource,omitempty"`
	StyleDetected   string          `json:"styleDetected,omitempty"`
	Retrieval       *RetrievalStats `json:"retrieval,omitempty"`
}

// RetrievalStats describes what each vector retrieval stage did.
type RetrievalStats struct {
	TopK              int     `json:"topK"`
	ScoreFloor        float64 `json:"scoreFloor"`
	RawCount          int     `json:"rawCount"`
	FloorPassedCount  int     `json:"floorPassedCount"`
	SpecFilteredCount int     `json:"specFilteredCount"`
	FallbackUsed      bool    `json:"fallbackUsed"`
	FilterRelaxed     bool    `json:"filterRelaxed,omitempty"`
	Reranker          string  `json:"reranker,omitempty"`
	FinalCount        int     `json:"finalCount"`
	Error             string  `json:"error,omitempty"`
}

// ListSessionsResponse wraps a page of sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// ListThreadsResponse wraps the threads of a session.
type ListThreadsResponse struct {
	Threads []Thread `json:"threads"`
}

// ListMessagesResponse wraps the messages of a thread, oldest first.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// TokenResponse is returned by tooling that mints API tokens.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}
