// Package app assembles the chat pipeline from configuration. Both the HTTP
// server and the askctl tool build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"manualqa-backend/internal/api"
	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/clients/pinecone"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/handlers"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/observability"
	"manualqa-backend/internal/services"
	"manualqa-backend/internal/store"
	"manualqa-backend/internal/store/cache"
	"manualqa-backend/internal/store/memory"
	"manualqa-backend/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// Version is stamped into traces.
var Version = "dev"

type App struct {
	Cfg    *config.Config
	Log    *logger.Logger
	Store  store.Store
	Router http.Handler

	Chat          *services.ChatService
	Conversations *services.ConversationManager
	Searcher      *pinecone.Searcher

	pool         *pgxpool.Pool
	pgStore      *postgres.PostgresStore
	memStore     *memory.Store
	redis        *goredis.Client
	otelShutdown func(context.Context) error
}

// New wires every collaborator. On error anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	a := &App{Cfg: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: "manualqa-backend",
		Environment: cfg.LogMode,
		Version:     Version,
	})

	if err = a.wireStore(ctx); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		a.redis, err = cache.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.Store = cache.New(a.Store, cache.RedisKV(a.redis), cfg.Redis.FactTTL, log)
		log.Info("Fact cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.FactTTL)
	}

	llm, err := openai.NewClient(log, openai.Options{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.Model,
		EmbedModel: cfg.OpenAI.EmbedModel,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai: %w", err)
	}

	pc, err := pinecone.New(log, pinecone.Config{APIKey: cfg.Pinecone.APIKey, MaxRetries: 2})
	if err != nil {
		return nil, fmt.Errorf("init pinecone: %w", err)
	}
	a.Searcher, err = pinecone.NewSearcher(ctx, log, pc, llm, cfg.Pinecone.IndexName, cfg.Pinecone.IndexHost)
	if err != nil {
		return nil, fmt.Errorf("init vector searcher: %w", err)
	}

	profiles := services.DefaultStyleProfiles()
	if cfg.StyleProfilesPath != "" {
		profiles, err = services.LoadStyleProfiles(cfg.StyleProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("load style profiles: %w", err)
		}
	}

	var reranker services.Reranker = services.SimilarityReranker{}
	if cfg.Retrieval.RerankMode == "llm" {
		reranker = services.NewLLMReranker(llm, log)
	}

	a.Conversations = services.NewConversationManager(a.Store, llm, services.ConversationConfig{
		SummaryFrequency:    cfg.Conversation.SummaryFrequency,
		RenameAfterMessages: cfg.Conversation.RenameAfterMessages,
	}, log)
	a.Chat = services.NewChatService(services.ChatServiceDeps{
		Conversations: a.Conversations,
		Router:        services.NewQueryRouter(services.NewIntentClassifier(llm, log), log),
		Resolver:      services.NewContextResolver(a.Store, log),
		Facts:         services.NewFactMatcher(a.Store, log),
		Retriever: services.NewVectorRetriever(a.Searcher, reranker, services.RetrieverConfig{
			TopK:         cfg.Retrieval.TopK,
			ScoreFloor:   cfg.Retrieval.ScoreFloor,
			MaxFinalists: cfg.Retrieval.MaxFinalists,
			Namespace:    cfg.Pinecone.Namespace,
		}, log),
		Synthesizer: services.NewAnswerSynthesizer(llm, profiles, log),
		Namespace:   cfg.Pinecone.Namespace,
		ContextSize: cfg.Conversation.ContextSize,
	}, log)

	a.Router = api.NewRouter(api.RouterDependencies{
		ChatHandler: handlers.NewChatHandlers(a.Chat, a.Conversations, a.Searcher, log),
		Config:      cfg,
		Logger:      log,
	})
	log.Info("Chat pipeline wired",
		"store", cfg.StoreDriver,
		"namespace", cfg.Pinecone.Namespace,
		"rerank", cfg.Retrieval.RerankMode,
	)
	return a, nil
}

func (a *App) wireStore(ctx context.Context) error {
	switch a.Cfg.StoreDriver {
	case "memory":
		mem := memory.New()
		if a.Cfg.FactsSeedPath != "" {
			if err := mem.LoadSeed(a.Cfg.FactsSeedPath); err != nil {
				return err
			}
			a.Log.Info("Loaded fact seed", "path", a.Cfg.FactsSeedPath)
		}
		a.memStore = mem
		a.Store = mem
		a.Log.Warn("Using in-memory store; conversations are lost on restart")
		return nil
	case "postgres":
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(dbCtx, a.Cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("create database pool: %w", err)
		}
		a.pool = pool
		if err := pool.Ping(dbCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		a.pgStore = postgres.NewPostgresStore(pool, a.Log)
		if a.Cfg.AutoMigrate {
			if err := a.pgStore.EnsureSchema(dbCtx); err != nil {
				return err
			}
		}
		a.Store = a.pgStore
		a.Log.Info("Database connection pool established")
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", a.Cfg.StoreDriver)
	}
}

// ImportSeed loads a seed file into the configured store.
func (a *App) ImportSeed(ctx context.Context, path string) (*store.Seed, error) {
	seed, err := store.ReadSeed(path)
	if err != nil {
		return nil, err
	}
	switch {
	case a.pgStore != nil:
		if err := a.pgStore.ImportSeed(ctx, seed); err != nil {
			return nil, err
		}
	case a.memStore != nil:
		a.memStore.AddFacts(seed.Facts...)
		a.memStore.AddSystems(seed.Systems...)
	default:
		return nil, errors.New("store does not accept seed imports")
	}
	return seed, nil
}

// Close waits for background conversation maintenance, then releases
// connections and flushes traces. Safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.Chat != nil {
		a.Chat.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Warn("redis close failed", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
}
