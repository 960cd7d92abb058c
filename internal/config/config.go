package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Env         string
	FrontendURL string

	// Storage
	StoreBackend  string // "postgres" | "mongo" | "memory"
	DatabaseURL   string
	MigrationsDir string
	MongoURL      string
	MongoDatabase string

	// Redis (queue, locks, progress)
	RedisURL    string
	WorkerCount int

	// JWT
	JWTSecret string

	// Speech recognition
	Recognizer           string // "gemini" | "whisper"
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	WhisperBin           string
	WhisperModel         string
	FFmpegBin            string

	// Extraction
	DefaultLanguage    string
	CaptionLanguages   []string
	CaptionFormat      string
	HTTPTimeoutSeconds int
	AudioChunkSeconds  int
	AudioWorkers       int
	AudioMaxMB         int
	TempDir            string
	TaxonomyPath       string

	// Maintenance
	RetentionDays              int
	MaintenanceIntervalMinutes int
}

// Load reads configuration for local tools. Nothing is required; the store
// falls back to memory and Redis features switch off when unset.
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),

		StoreBackend:  strings.ToLower(getEnvOrDefault("STORE_BACKEND", defaultBackend())),
		DatabaseURL:   getEnvOrDefault("DATABASE_URL", ""),
		MigrationsDir: getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		MongoURL:      getEnvOrDefault("MONGO_URL", ""),
		MongoDatabase: getEnvOrDefault("MONGO_DATABASE", "vidscribe"),

		RedisURL:    getEnvOrDefault("REDIS_URL", ""),
		WorkerCount: getEnvAsIntOrDefault("WORKER_COUNT", 2),

		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),

		Recognizer:           strings.ToLower(getEnvOrDefault("RECOGNIZER", "gemini")),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 3),
		WhisperBin:           getEnvOrDefault("WHISPER_BIN", "whisper-cli"),
		WhisperModel:         getEnvOrDefault("WHISPER_MODEL", ""),
		FFmpegBin:            getEnvOrDefault("FFMPEG_BIN", "ffmpeg"),

		DefaultLanguage:    getEnvOrDefault("DEFAULT_LANGUAGE", "en-US"),
		CaptionLanguages:   getEnvAsListOrDefault("CAPTION_LANGUAGES", []string{"en", "en-US", "en-GB"}),
		CaptionFormat:      getEnvOrDefault("CAPTION_FORMAT", "json3"),
		HTTPTimeoutSeconds: getEnvAsIntOrDefault("HTTP_TIMEOUT_SECONDS", 30),
		AudioChunkSeconds:  getEnvAsIntOrDefault("AUDIO_CHUNK_SECONDS", 60),
		AudioWorkers:       getEnvAsIntOrDefault("AUDIO_WORKERS", 3),
		AudioMaxMB:         getEnvAsIntOrDefault("AUDIO_MAX_MB", 100),
		TempDir:            getEnvOrDefault("TEMP_DIR", os.TempDir()),
		TaxonomyPath:       getEnvOrDefault("INSIGHTS_TAXONOMY_PATH", ""),

		RetentionDays:              getEnvAsIntOrDefault("RETENTION_DAYS", 0),
		MaintenanceIntervalMinutes: getEnvAsIntOrDefault("MAINTENANCE_INTERVAL_MINUTES", 60),
	}
}

// LoadServer is Load plus the settings the HTTP server cannot run without.
func LoadServer() *Config {
	cfg := Load()
	cfg.JWTSecret = mustGetEnv("JWT_SECRET")
	return cfg
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.AudioMaxMB) * 1024 * 1024
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalMinutes) * time.Minute
}

func defaultBackend() string {
	switch {
	case os.Getenv("DATABASE_URL") != "":
		return "postgres"
	case os.Getenv("MONGO_URL") != "":
		return "mongo"
	default:
		return "memory"
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
