package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderSimulated = "simulated"
)

type Config struct {
	AppName     string
	APIPrefix   string
	Environment string
	Debug       bool
	Port        string
	LogLevel    string

	DatabasePath string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	CORSAllowedOrigins []string

	LLMProvider         string
	PrimaryModel        string
	FallbackModel       string
	GroqAPIKey          string
	LLMBaseURL          string
	GeminiAPIKey        string
	DefaultSystemPrompt string

	ContextMaxMessages int
	ContextMaxTokens   int

	StandardRateLimit   int
	GenerationRateLimit int
	RateLimitWindow     time.Duration

	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string
	BucketName    string
	ExportWorkers int

	OtelStdout bool
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "Parley"),
		APIPrefix:   getEnv("API_PREFIX", "/api/v1"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Debug:       getEnvBool("DEBUG", false),
		Port:        getEnv("PORT", "8080"),

		DatabasePath: getEnv("DATABASE_PATH", "conversation.db"),

		JWTSecret:       getEnv("JWT_SECRET", "change-me"),
		AccessTokenTTL:  time.Duration(getEnvInt("ACCESS_TOKEN_EXP_MINUTES", 30)) * time.Minute,
		RefreshTokenTTL: time.Duration(getEnvInt("REFRESH_TOKEN_EXP_MINUTES", 60*24*7)) * time.Minute,

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		PrimaryModel:  getEnv("PRIMARY_MODEL", "llama-3.1-8b-instant"),
		FallbackModel: getEnv("FALLBACK_MODEL", "gemma2-9b-it"),
		GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
		LLMBaseURL:    getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		DefaultSystemPrompt: getEnv("DEFAULT_SYSTEM_PROMPT",
			"You are a helpful, concise AI assistant. Provide accurate answers and mention assumptions."),

		ContextMaxMessages: getEnvInt("CONTEXT_MAX_MESSAGES", 20),
		ContextMaxTokens:   getEnvInt("CONTEXT_MAX_TOKENS", 6000),

		StandardRateLimit:   getEnvInt("STANDARD_RATE_LIMIT", 60),
		GenerationRateLimit: getEnvInt("GENERATION_RATE_LIMIT", 10),
		RateLimitWindow:     time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		AwsAccessKey:  getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:  getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:     getEnv("AWS_REGION", "us-east-2"),
		BucketName:    getEnv("BUCKET_NAME", ""),
		ExportWorkers: getEnvInt("EXPORT_WORKERS", 2),

		OtelStdout: getEnvBool("OTEL_STDOUT", false),
	}

	cfg.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", ""))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderSimulated
		if cfg.GroqAPIKey != "" {
			cfg.LLMProvider = ProviderOpenAI
		}
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	if c.IsProduction() && c.JWTSecret == "change-me" {
		return fmt.Errorf("JWT_SECRET must be changed in production")
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=openai requires GROQ_API_KEY")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
	case ProviderSimulated:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.ContextMaxMessages < 1 || c.ContextMaxTokens < 1 {
		return fmt.Errorf("context window budget must be positive")
	}
	if c.StandardRateLimit < 1 || c.GenerationRateLimit < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ExportEnabled reports whether transcript archiving to S3 is configured.
func (c *Config) ExportEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("env value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// getEnvList accepts a JSON array, falling back to def when it does not parse.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		slog.Warn("env value is not a JSON list, using default", "key", key)
		return def
	}
	return out
}
