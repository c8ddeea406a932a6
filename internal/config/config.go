package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	LogFormat   string

	JWTSecret string
	JWTTTL    time.Duration
	AuthUsers string

	GeminiAPIKey       string
	TavilyAPIKey       string
	OpenAIAPIKey       string
	GenerationProvider string
	GenerationModel    string
	EmbeddingModel     string

	SearchMaxResults    int
	RankThreshold       float64
	RankConcurrency     int
	EmbedRatePerSec     float64
	CollaboratorTimeout time.Duration
	GenerationTimeout   time.Duration
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Load reads the optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	cfg := Config{
		DatabaseURL: getEnv("DATABASE_URL", "answer_engine.db"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),
		AuthUsers: getEnv("AUTH_USERS", ""),

		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		TavilyAPIKey:       getEnv("TAVILY_API_KEY", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		GenerationProvider: strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderGemini)),
		GenerationModel:    getEnv("GENERATION_MODEL", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		SearchMaxResults:    getEnvAsInt("SEARCH_MAX_RESULTS", 10),
		RankThreshold:       getEnvAsFloat("RANK_THRESHOLD", 0.3),
		RankConcurrency:     getEnvAsInt("RANK_CONCURRENCY", 4),
		EmbedRatePerSec:     getEnvAsFloat("EMBED_RATE_PER_SEC", 25),
		CollaboratorTimeout: getEnvAsDuration("COLLABORATOR_TIMEOUT", 0),
		GenerationTimeout:   getEnvAsDuration("GENERATION_TIMEOUT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if c.TavilyAPIKey == "" {
		return fmt.Errorf("TAVILY_API_KEY environment variable is required")
	}
	switch c.GenerationProvider {
	case ProviderGemini:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATION_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider)
	}
	if c.RankConcurrency < 1 {
		return fmt.Errorf("RANK_CONCURRENCY must be at least 1, got %d", c.RankConcurrency)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", valueStr).Msg("Ignoring unparseable duration")
	return defaultValue
}
