package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"manualqa-backend/internal/auth"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
facts:
  - fact_type: spec
    key: operating pressure
    value: "15"
    unit: psi
systems:
  - manufacturer: Acme
    model: X1
    system: boiler
`

func testConfig(t *testing.T, indexHost string) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))
	return &config.Config{
		StoreDriver:     "memory",
		JWTSecret:       "app-test-secret",
		TokenExpiration: time.Hour,
		OpenAI:          config.OpenAIConfig{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"},
		Pinecone:        config.PineconeConfig{APIKey: "pc-test", IndexHost: indexHost, Namespace: "REIMAGINEDDOCS"},
		Retrieval:       config.RetrievalConfig{TopK: 40, ScoreFloor: 0.5, MaxFinalists: 5, RerankMode: "similarity"},
		Conversation:    config.ConversationConfig{ContextSize: 10, SummaryFrequency: 10, RenameAfterMessages: 2},
		FactsSeedPath:   seed,
	}
}

func TestNewWiresMemoryPipeline(t *testing.T) {
	pc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/describe_index_stats", r.URL.Path)
		assert.Equal(t, "pc-test", r.Header.Get("Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dimension":3072,"totalVectorCount":7,"namespaces":{"REIMAGINEDDOCS":{"vectorCount":7}}}`))
	}))
	defer pc.Close()

	a, err := New(context.Background(), testConfig(t, pc.URL), logger.Nop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	f, err := a.Store.FindFact(context.Background(), models.FactTypeSpec, models.FactFieldKey, "operating pressure")
	require.NoError(t, err)
	assert.Equal(t, "15", f.Value)

	tok, err := auth.NewAccessToken("tech", a.Cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/vector/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"totalVectorCount":7`)
}

func TestImportSeedIntoMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, "index.example"), logger.Nop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	extra := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(extra, []byte("systems:\n  - manufacturer: Beta\n    model: P200\n    system: pump\n"), 0o600))

	seed, err := a.ImportSeed(context.Background(), extra)
	require.NoError(t, err)
	assert.Len(t, seed.Systems, 1)

	got, err := a.Store.SearchSystems(context.Background(), "beta pump", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Beta", got[0].Manufacturer)
}

func TestNewFailures(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		cfg := testConfig(t, "index.example")
		cfg.StoreDriver = "sqlite"
		_, err := New(context.Background(), cfg, logger.Nop())
		assert.ErrorContains(t, err, "sqlite")
	})
	t.Run("missing seed", func(t *testing.T) {
		cfg := testConfig(t, "index.example")
		cfg.FactsSeedPath = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := New(context.Background(), cfg, logger.Nop())
		assert.Error(t, err)
	})
	t.Run("bad style profiles", func(t *testing.T) {
		cfg := testConfig(t, "index.example")
		cfg.StyleProfilesPath = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := New(context.Background(), cfg, logger.Nop())
		assert.ErrorContains(t, err, "style profiles")
	})
}
