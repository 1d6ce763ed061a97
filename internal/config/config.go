package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string

	// Collaborator services.
	BackendURL   string
	BackendToken string
	RenderURL    string
	RenderToken  string
	SigningURL   string
	SigningToken string

	// Local durable snapshots. RedisURL, when set, takes precedence over
	// the SQLite path.
	SnapshotDBPath string
	RedisURL       string

	// Autosave.
	DebounceMS int

	// Signing.
	ProvidersPath   string
	DefaultProvider string
	PollTimeout     time.Duration

	// Executed-document archive (optional).
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:       getenv("AGENT_ADDR", "127.0.0.1:8790"),
		CORSOrigin: getenv("AGENT_CORS_ORIGIN", "*"),

		BackendURL:   getenv("BACKEND_URL", "http://localhost:8000"),
		BackendToken: getenv("BACKEND_TOKEN", ""),
		RenderURL:    getenv("RENDER_URL", ""),
		RenderToken:  getenv("RENDER_TOKEN", ""),
		SigningURL:   getenv("SIGNING_URL", ""),
		SigningToken: getenv("SIGNING_TOKEN", ""),

		SnapshotDBPath: getenv("SNAPSHOT_DB", "./data/snapshots.db"),
		RedisURL:       getenv("REDIS_URL", ""),

		DebounceMS: getenvInt("AUTOSAVE_DEBOUNCE_MS", 900),

		ProvidersPath:   getenv("SIGNING_PROVIDERS_FILE", ""),
		DefaultProvider: getenv("SIGNING_DEFAULT_PROVIDER", "firma"),
		PollTimeout:     time.Duration(getenvInt("SIGNING_TIMEOUT_SECONDS", 600)) * time.Second,

		ArchiveEndpoint:  getenv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getenv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getenv("ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", "executed-documents"),
		ArchiveUseSSL:    getenv("ARCHIVE_USE_SSL", "false") == "true",
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
