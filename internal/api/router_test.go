package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"manualqa-backend/internal/auth"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/handlers"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/services"
	"manualqa-backend/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

func newTestRouter() http.Handler {
	log := logger.Nop()
	conv := services.NewConversationManager(memory.New(), nil, services.ConversationConfig{}, log)
	chat := services.NewChatService(services.ChatServiceDeps{Conversations: conv}, log)
	return NewRouter(RouterDependencies{
		ChatHandler: handlers.NewChatHandlers(chat, conv, nil, log),
		Config:      &config.Config{JWTSecret: testSecret},
		Logger:      log,
	})
}

func get(h http.Handler, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	rec := get(newTestRouter(), "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestV1RequiresBearerToken(t *testing.T) {
	h := newTestRouter()
	valid, err := auth.NewAccessToken("field-tech", testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := auth.NewAccessToken("field-tech", testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.NewAccessToken("field-tech", "another-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		authz string
		want  int
		body  string
	}{
		{"missing", "", http.StatusUnauthorized, "Authorization header required"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "Malformed Authorization header"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Token has expired"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "Invalid token"},
		{"malformed", "Bearer abc", http.StatusUnauthorized, "Malformed token"},
		{"valid", "Bearer " + valid, http.StatusOK, "sessions"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, "/v1/sessions", tt.authz)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestChatRouteReportsMissingPipeline(t *testing.T) {
	h := newTestRouter()
	tok, err := auth.NewAccessToken("svc", testSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"query":"operating pressure"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJwtMiddlewareSetsSubject(t *testing.T) {
	tok, err := auth.NewAccessToken("field-tech", testSecret, time.Hour)
	require.NoError(t, err)

	var got string
	h := JwtAuthMiddleware(testSecret, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.SubjectFromContext(r.Context())
	}))
	rec := get(h, "/", "Bearer "+tok)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "field-tech", got)
}
