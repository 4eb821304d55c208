package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingSetting is returned when a required environment variable is not set.
var ErrMissingSetting = errors.New("required setting missing")

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort    string
	LogMode     string
	StoreDriver string // "postgres" or "memory"
	DatabaseURL string
	AutoMigrate bool

	JWTSecret       string
	TokenExpiration time.Duration

	OpenAI   OpenAIConfig
	Pinecone PineconeConfig
	Redis    RedisConfig

	Retrieval    RetrievalConfig
	Conversation ConversationConfig

	StyleProfilesPath string
	FactsSeedPath     string

	OtelEnabled bool
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	MaxRetries int
}

type PineconeConfig struct {
	APIKey    string
	IndexName string
	IndexHost string
	Namespace string
}

type RedisConfig struct {
	Addr    string
	FactTTL time.Duration
}

type RetrievalConfig struct {
	TopK         int
	ScoreFloor   float64
	MaxFinalists int
	RerankMode   string // "similarity" or "llm"
}

type ConversationConfig struct {
	ContextSize         int
	SummaryFrequency    int
	RenameAfterMessages int
}

// LoadConfig loads configuration from environment variables and validates it.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the environment without validating collaborators. Tools that
// only need a subset of settings (token minting) use it directly.
func Load() *Config {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	return &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogMode:     getEnv("LOG_MODE", "dev"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		AutoMigrate: getBool("DB_AUTO_MIGRATE", false),

		JWTSecret:       getEnv("JWT_SECRET", "default-super-secret-key"), // CHANGE THIS IN PRODUCTION!
		TokenExpiration: time.Hour * time.Duration(getInt("JWT_EXPIRATION_HOURS", 24)),

		OpenAI: OpenAIConfig{
			APIKey:     getEnv("OPENAI_API_KEY", ""),
			BaseURL:    strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
			Model:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			EmbedModel: getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-large"),
			Timeout:    time.Duration(getInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxRetries: getInt("OPENAI_MAX_RETRIES", 3),
		},
		Pinecone: PineconeConfig{
			APIKey:    getEnv("PINECONE_API_KEY", ""),
			IndexName: getEnv("PINECONE_INDEX_NAME", "reimaginedsv"),
			IndexHost: getEnv("PINECONE_INDEX_HOST", ""),
			Namespace: getEnv("PINECONE_NAMESPACE", "REIMAGINEDDOCS"),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", ""),
			FactTTL: time.Duration(getInt("FACT_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:         getInt("RETRIEVAL_TOP_K", 40),
			ScoreFloor:   getFloat("RETRIEVAL_SCORE_FLOOR", 0.50),
			MaxFinalists: getInt("RETRIEVAL_MAX_FINALISTS", 5),
			RerankMode:   strings.ToLower(getEnv("RERANK_MODE", "similarity")),
		},
		Conversation: ConversationConfig{
			ContextSize:         getInt("CONTEXT_SIZE", 10),
			SummaryFrequency:    getInt("SUMMARY_FREQUENCY", 10),
			RenameAfterMessages: getInt("RENAME_AFTER_MESSAGES", 2),
		},
		StyleProfilesPath: getEnv("STYLE_PROFILES_PATH", ""),
		FactsSeedPath:     getEnv("FACTS_SEED_PATH", ""),
		OtelEnabled:       getBool("OTEL_ENABLED", false),
	}
}

// Validate checks that every collaborator the chat pipeline needs is configured.
func (c *Config) Validate() error {
	var missing []string
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		return fmt.Errorf("invalid STORE_DRIVER %q (expected postgres or memory)", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Pinecone.APIKey == "" {
		missing = append(missing, "PINECONE_API_KEY")
	}
	if c.Pinecone.IndexHost == "" && c.Pinecone.IndexName == "" {
		missing = append(missing, "PINECONE_INDEX_HOST")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}
	if c.Retrieval.ScoreFloor < 0 || c.Retrieval.ScoreFloor > 1 {
		return fmt.Errorf("RETRIEVAL_SCORE_FLOOR must be within [0,1], got %v", c.Retrieval.ScoreFloor)
	}
	if c.Retrieval.RerankMode != "similarity" && c.Retrieval.RerankMode != "llm" {
		return fmt.Errorf("invalid RERANK_MODE %q (expected similarity or llm)", c.Retrieval.RerankMode)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
