package handlers

import (
	"context"
	"net/http"

	"manualqa-backend/internal/clients/pinecone"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/services"
	"manualqa-backend/pkg/httputil"
)

// maxContextSize bounds how many recent messages a caller may ask for.
const maxContextSize = 50

// IndexStatser reports vector index statistics.
type IndexStatser interface {
	Stats(ctx context.Context) (*pinecone.IndexStats, error)
}

// ChatHandlers handles HTTP requests for chat turns, sessions and threads.
type ChatHandlers struct {
	chat          *services.ChatService
	conversations *services.ConversationManager
	index         IndexStatser
	log           *logger.Logger
}

// NewChatHandlers creates a new ChatHandlers instance. index may be nil.
func NewChatHandlers(chat *services.ChatService, conversations *services.ConversationManager, index IndexStatser, log *logger.Logger) *ChatHandlers {
	return &ChatHandlers{
		chat:          chat,
		conversations: conversations,
		index:         index,
		log:           log.With("handler", "ChatHandlers"),
	}
}

// HandleChat processes one user query and returns both recorded messages.
func (h *ChatHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ContextSize < 0 || req.ContextSize > maxContextSize {
		httputil.RespondError(w, http.StatusBadRequest, "contextSize must be between 0 and 50")
		return
	}

	resp, err := h.chat.ProcessUserMessage(r.Context(), req.Query, services.ProcessOptions{
		SessionID:   req.SessionID,
		ThreadID:    req.ThreadID,
		ContextSize: req.ContextSize,
		Style:       req.Style,
	})
	if err != nil {
		respondServiceError(w, r, h.log, "process message", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleCreateSession creates an empty session.
func (h *ChatHandlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.conversations.CreateSession(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, h.log, "create session", err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, sess)
}

// HandleListSessions lists sessions, most recently active first.
func (h *ChatHandlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.conversations.ListSessions(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, h.log, "list sessions", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListSessionsResponse{Sessions: sessions})
}

func (h *ChatHandlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "sessionID")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := h.conversations.GetSession(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.log, "get session", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

// HandleCreateThread opens a new thread in a session. The body is optional.
func (h *ChatHandlers) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req models.CreateThreadRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	th, err := h.conversations.CreateThread(r.Context(), sessionID, req.Name)
	if err != nil {
		respondServiceError(w, r, h.log, "create thread", err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, th)
}

func (h *ChatHandlers) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threads, err := h.conversations.ListThreads(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, r, h.log, "list threads", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListThreadsResponse{Threads: threads})
}

func (h *ChatHandlers) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "threadID")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	th, err := h.conversations.GetThread(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.log, "get thread", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, th)
}

// HandleListMessages returns every message of a thread, oldest first.
func (h *ChatHandlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "threadID")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := h.conversations.ListMessages(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.log, "list messages", err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListMessagesResponse{Messages: msgs})
}

// HandleVectorStats passes the vector index statistics through.
func (h *ChatHandlers) HandleVectorStats(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "Vector index not configured")
		return
	}
	stats, err := h.index.Stats(r.Context())
	if err != nil {
		h.log.Warn("vector stats failed", "error", err)
		httputil.RespondError(w, http.StatusBadGateway, "Vector index unavailable")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, stats)
}
