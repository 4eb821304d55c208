package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/clients/pinecone"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/services"
	"manualqa-backend/internal/store/memory"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct{}

func (stubLLM) Complete(context.Context, openai.CompletionRequest) (string, error) {
	return "stub answer", nil
}

func (stubLLM) CompleteJSON(context.Context, openai.CompletionRequest, string, map[string]any) (map[string]any, error) {
	return map[string]any{"intent": "chat", "confidence": 0.9, "reasoning": "question"}, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, string, map[string]any, int) ([]models.Chunk, error) {
	return nil, errors.New("index offline")
}

type stubStats struct {
	stats *pinecone.IndexStats
	err   error
}

func (s stubStats) Stats(context.Context) (*pinecone.IndexStats, error) { return s.stats, s.err }

func newTestRouter(t *testing.T, index IndexStatser) (http.Handler, *services.ChatService) {
	t.Helper()
	log := logger.Nop()
	mem := memory.New()
	mem.AddFacts(models.Fact{FactType: models.FactTypeSpec, Key: "operating pressure", Value: "15", Unit: "psi"})

	conv := services.NewConversationManager(mem, stubLLM{}, services.ConversationConfig{RenameAfterMessages: 2}, log)
	chat := services.NewChatService(services.ChatServiceDeps{
		Conversations: conv,
		Router:        services.NewQueryRouter(services.NewIntentClassifier(stubLLM{}, log), log),
		Resolver:      services.NewContextResolver(mem, log),
		Facts:         services.NewFactMatcher(mem, log),
		Retriever:     services.NewVectorRetriever(stubSearcher{}, nil, services.RetrieverConfig{ScoreFloor: 0.5}, log),
		Synthesizer:   services.NewAnswerSynthesizer(stubLLM{}, services.DefaultStyleProfiles(), log),
	}, log)
	t.Cleanup(chat.Wait)

	h := NewChatHandlers(chat, conv, index, log)
	r := chi.NewRouter()
	r.Post("/v1/chat", h.HandleChat)
	r.Post("/v1/sessions", h.HandleCreateSession)
	r.Get("/v1/sessions", h.HandleListSessions)
	r.Get("/v1/sessions/{sessionID}", h.HandleGetSession)
	r.Post("/v1/sessions/{sessionID}/threads", h.HandleCreateThread)
	r.Get("/v1/sessions/{sessionID}/threads", h.HandleListThreads)
	r.Get("/v1/threads/{threadID}", h.HandleGetThread)
	r.Get("/v1/threads/{threadID}/messages", h.HandleListMessages)
	r.Get("/v1/vector/stats", h.HandleVectorStats)
	return r, chat
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleChatFactAnswer(t *testing.T) {
	h, chat := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/chat", models.ChatRequest{Query: "operating pressure"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.ChatResponse](t, rec)
	chat.Wait()

	assert.Equal(t, "operating pressure: 15 psi", resp.AssistantMessage.Content)
	assert.Equal(t, models.RetrievalFactFirst, resp.RetrievalMeta.RetrievalMethod)
	assert.True(t, resp.RetrievalMeta.FactMatch)
	assert.NotEqual(t, uuid.Nil, resp.ThreadID)

	rec = do(t, h, http.MethodGet, "/v1/threads/"+resp.ThreadID.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[models.ListMessagesResponse](t, rec)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, models.RoleUser, msgs.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs.Messages[1].Role)
}

func TestHandleChatDegradedRetrieval(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/chat", models.ChatRequest{Query: "how do I clean the burner"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.ChatResponse](t, rec)

	assert.Equal(t, models.RetrievalVectorError, resp.RetrievalMeta.RetrievalMethod)
	require.NotNil(t, resp.RetrievalMeta.Retrieval)
	assert.Equal(t, "index offline", resp.RetrievalMeta.Retrieval.Error)
	assert.Equal(t, "stub answer", resp.AssistantMessage.Content)
}

func TestHandleChatErrors(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	missing := uuid.New()

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty query", models.ChatRequest{Query: "  "}, http.StatusBadRequest},
		{"unknown style", models.ChatRequest{Query: "operating pressure", Style: "pirate"}, http.StatusBadRequest},
		{"context too large", models.ChatRequest{Query: "operating pressure", ContextSize: 500}, http.StatusBadRequest},
		{"unknown field", map[string]any{"query": "x", "prompt": "y"}, http.StatusBadRequest},
		{"unknown thread", models.ChatRequest{Query: "operating pressure", ThreadID: &missing}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/chat", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[models.ErrorResponse](t, rec).Error)
		})
	}
}

func TestHandleChatNotConfigured(t *testing.T) {
	log := logger.Nop()
	h := NewChatHandlers(services.NewChatService(services.ChatServiceDeps{}, log), nil, nil, log)

	rec := do(t, http.HandlerFunc(h.HandleChat), http.MethodPost, "/v1/chat", models.ChatRequest{Query: "operating pressure"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionAndThreadRoutes(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/sessions", models.CreateSessionRequest{Name: "Acme X1 install"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[models.Session](t, rec)

	rec = do(t, h, http.MethodPost, "/v1/sessions/"+sess.ID.String()+"/threads", models.CreateThreadRequest{Name: "Wiring"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	named := decode[models.Thread](t, rec)
	assert.Equal(t, "Wiring", named.Name)

	rec = do(t, h, http.MethodPost, "/v1/sessions/"+sess.ID.String()+"/threads", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.DefaultThreadName, decode[models.Thread](t, rec).Name)

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+sess.ID.String()+"/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ListThreadsResponse](t, rec).Threads, 2)

	rec = do(t, h, http.MethodGet, "/v1/threads/"+named.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sess.ID, decode[models.Thread](t, rec).SessionID)

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+sess.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/sessions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ListSessionsResponse](t, rec).Sessions, 1)
}

func TestRouteParameterErrors(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	tests := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodGet, "/v1/sessions/not-a-uuid", nil, http.StatusBadRequest},
		{http.MethodGet, "/v1/sessions/" + uuid.NewString(), nil, http.StatusNotFound},
		{http.MethodGet, "/v1/sessions/" + uuid.NewString() + "/threads", nil, http.StatusNotFound},
		{http.MethodPost, "/v1/sessions/" + uuid.NewString() + "/threads", nil, http.StatusNotFound},
		{http.MethodGet, "/v1/threads/" + uuid.NewString(), nil, http.StatusNotFound},
		{http.MethodGet, "/v1/threads/" + uuid.NewString() + "/messages", nil, http.StatusNotFound},
		{http.MethodGet, "/v1/sessions?limit=-1", nil, http.StatusBadRequest},
		{http.MethodPost, "/v1/sessions", models.CreateSessionRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleVectorStats(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h, _ := newTestRouter(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/v1/vector/stats", nil).Code)
	})
	t.Run("upstream error", func(t *testing.T) {
		h, _ := newTestRouter(t, stubStats{err: errors.New("boom")})
		assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodGet, "/v1/vector/stats", nil).Code)
	})
	t.Run("ok", func(t *testing.T) {
		h, _ := newTestRouter(t, stubStats{stats: &pinecone.IndexStats{
			Dimension:        3072,
			TotalVectorCount: 1200,
			Namespaces:       map[string]pinecone.NamespaceStats{"REIMAGINEDDOCS": {VectorCount: 1200}},
		}})
		rec := do(t, h, http.MethodGet, "/v1/vector/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[pinecone.IndexStats](t, rec)
		assert.Equal(t, 3072, got.Dimension)
		assert.Equal(t, int64(1200), got.Namespaces["REIMAGINEDDOCS"].VectorCount)
	})
}
