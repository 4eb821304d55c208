package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"
	"manualqa-backend/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, false, errors.New("connection refused")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.data[key] = val
	return nil
}

type countingStore struct {
	*memory.Store
	factCalls   int
	systemCalls int
}

func (c *countingStore) FindFact(ctx context.Context, ft models.FactType, f models.FactField, text string) (*models.Fact, error) {
	c.factCalls++
	return c.Store.FindFact(ctx, ft, f, text)
}

func (c *countingStore) SearchSystems(ctx context.Context, text string, limit int) ([]models.SystemRef, error) {
	c.systemCalls++
	return c.Store.SearchSystems(ctx, text, limit)
}

func newFixture(kv *mapKV) (*Store, *countingStore) {
	mem := memory.New()
	mem.AddFacts(models.Fact{FactType: models.FactTypeSpec, Key: "operating pressure", Value: "15", Unit: "psi"})
	mem.AddSystems(models.SystemRef{Manufacturer: "Acme", Model: "X1"})
	inner := &countingStore{Store: mem}
	return New(inner, kv, time.Minute, logger.Nop()), inner
}

func TestFindFactCachesHitsOnly(t *testing.T) {
	ctx := context.Background()
	c, inner := newFixture(&mapKV{data: map[string][]byte{}})

	for i := 0; i < 2; i++ {
		f, err := c.FindFact(ctx, models.FactTypeSpec, models.FactFieldKey, "operating pressure")
		require.NoError(t, err)
		assert.Equal(t, "15", f.Value)
	}
	assert.Equal(t, 1, inner.factCalls)

	for i := 0; i < 2; i++ {
		_, err := c.FindFact(ctx, models.FactTypeGolden, models.FactFieldQuery, "operating pressure")
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Equal(t, 3, inner.factCalls)
}

func TestImportedRowsVisibleAfterMiss(t *testing.T) {
	ctx := context.Background()
	c, inner := newFixture(&mapKV{data: map[string][]byte{}})

	_, err := c.FindFact(ctx, models.FactTypeGolden, models.FactFieldQuery, "reset the controller")
	require.ErrorIs(t, err, store.ErrNotFound)
	refs, err := c.SearchSystems(ctx, "beta", 5)
	require.NoError(t, err)
	require.Empty(t, refs)

	inner.AddFacts(models.Fact{FactType: models.FactTypeGolden, Query: "how do I reset the controller", Expected: "Hold RESET."})
	inner.AddSystems(models.SystemRef{Manufacturer: "Beta", Model: "P200"})

	f, err := c.FindFact(ctx, models.FactTypeGolden, models.FactFieldQuery, "reset the controller")
	require.NoError(t, err)
	assert.Equal(t, "Hold RESET.", f.Expected)
	refs, err = c.SearchSystems(ctx, "beta", 5)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "P200", refs[0].Model)
}

func TestSearchSystemsCached(t *testing.T) {
	ctx := context.Background()
	c, inner := newFixture(&mapKV{data: map[string][]byte{}})

	for i := 0; i < 3; i++ {
		refs, err := c.SearchSystems(ctx, "acme", 5)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "X1", refs[0].Model)
	}
	assert.Equal(t, 1, inner.systemCalls)
}

func TestCacheFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	c, inner := newFixture(&mapKV{data: map[string][]byte{}, fail: true})

	for i := 0; i < 2; i++ {
		f, err := c.FindFact(ctx, models.FactTypeSpec, models.FactFieldKey, "operating pressure")
		require.NoError(t, err)
		assert.Equal(t, "psi", f.Unit)
	}
	assert.Equal(t, 2, inner.factCalls)
}

func TestCacheKeyNormalizes(t *testing.T) {
	assert.Equal(t, cacheKey("fact", "spec", "key", "Operating Pressure "), cacheKey("fact", "spec", "key", "operating pressure"))
	assert.NotEqual(t, cacheKey("fact", "spec", "key", "a"), cacheKey("fact", "spec", "query", "a"))
}
