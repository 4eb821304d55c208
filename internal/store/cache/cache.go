// Package cache wraps fact and systems lookups with a Redis read-through cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

// KV is the slice of Redis the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// NewRedisClient dials addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type redisKV struct {
	rdb *goredis.Client
}

// RedisKV adapts a go-redis client to KV.
func RedisKV(rdb *goredis.Client) KV { return &redisKV{rdb: rdb} }

func (r *redisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *redisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, val, ttl).Err()
}

// Store decorates a store.Store; only FindFact and SearchSystems are cached.
// Cache failures are logged and fall through to the wrapped store.
type Store struct {
	store.Store
	kv  KV
	ttl time.Duration
	log *logger.Logger
}

var _ store.Store = (*Store)(nil)

func New(inner store.Store, kv KV, ttl time.Duration, log *logger.Logger) *Store {
	return &Store{Store: inner, kv: kv, ttl: ttl, log: log.With("store", "CacheStore")}
}

// FindFact caches hits only, so rows imported while the server runs are
// visible on the next lookup.
func (s *Store) FindFact(ctx context.Context, factType models.FactType, field models.FactField, text string) (*models.Fact, error) {
	key := cacheKey("fact", string(factType), string(field), text)
	if raw, ok := s.get(ctx, key); ok {
		var f models.Fact
		if err := json.Unmarshal(raw, &f); err == nil {
			return &f, nil
		}
	}

	fact, err := s.Store.FindFact(ctx, factType, field, text)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, fact)
	return fact, nil
}

func (s *Store) SearchSystems(ctx context.Context, text string, limit int) ([]models.SystemRef, error) {
	key := cacheKey("systems", fmt.Sprint(limit), text)
	if raw, ok := s.get(ctx, key); ok {
		var refs []models.SystemRef
		if err := json.Unmarshal(raw, &refs); err == nil {
			return refs, nil
		}
	}

	refs, err := s.Store.SearchSystems(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		s.set(ctx, key, refs)
	}
	return refs, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return raw, ok
}

func (s *Store) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, key, raw, s.ttl); err != nil {
		s.log.Warn("cache set failed", "key", key, "error", err)
	}
}

func cacheKey(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		_, _ = h.Write([]byte{0})
	}
	return "manualqa:" + kind + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
