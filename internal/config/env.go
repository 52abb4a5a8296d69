package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	CanvasAPIURL   string
	CanvasAPIKey   string
	CanvasCourseID string

	AIAPIKey      string
	GenModel      string
	EmbedProvider string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	EmbedModel    string
	EmbedDim      int

	WindowTokens   int
	TokenEncoding  string
	StaleAfter     time.Duration
	SkipRestricted bool

	LLMTimeout    time.Duration
	LLMMaxRetries int
	LLMRatePerSec float64

	QuestionsPerResource int
	QuestionWorkers      int

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	Port           string
	AdminJWTSecret string
	CORSOrigins    []string
	LogLevel       slog.Level
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		CanvasAPIURL:   strings.TrimRight(getEnv("CANVAS_API_URL", "https://ufl.instructure.com"), "/"),
		CanvasAPIKey:   getEnv("CANVAS_API_KEY", ""),
		CanvasCourseID: getEnv("CANVAS_COURSE_ID", ""),

		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GenModel:      getEnv("GEN_MODEL", "gemini-2.0-flash"),
		EmbedProvider: getEnv("EMBED_PROVIDER", "openai"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-ada-002"),
		EmbedDim:      getEnvInt("EMBED_DIM", 1536),

		WindowTokens:  getEnvInt("WINDOW_TOKENS", 7300),
		TokenEncoding: getEnv("TOKEN_ENCODING", "cl100k_base"),
		StaleAfter:    getEnvDuration("STALE_AFTER", 24*time.Hour),

		SkipRestricted: getEnvBool("SKIP_RESTRICTED", false),

		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		LLMMaxRetries: getEnvInt("LLM_MAX_RETRIES", 4),
		LLMRatePerSec: getEnvFloat("LLM_RATE_PER_SEC", 2),

		QuestionsPerResource: getEnvInt("QUESTIONS_PER_RESOURCE", 3),
		QuestionWorkers:      getEnvInt("QUESTION_WORKERS", 4),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		Port:           getEnv("PORT", "8080"),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL not set")
	}

	return cfg, nil
}

// ArchiveEnabled reports whether raw course files should be mirrored to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.BucketName != ""
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
		slog.Warn("config: not an int, using default", "key", key, "value", v, "default", def)
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
		slog.Warn("config: not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("config: unknown log level, using default", "key", key, "value", v)
		return def
	}
	return lvl
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
