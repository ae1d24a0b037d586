package app

import (
	"time"

	"hrchat/cmd/internal/chat"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" (default) or "pretty"
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	// Create tables on startup instead of relying on external migrations.
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	UploadDir      string
	UploadMaxBytes int64

	// Origins allowed to call /uploads and /files/ from a browser.
	// Entries may use path.Match wildcards, e.g. "http://127.0.0.1:*".
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables (and .env) with defaults.
func LoadConfig() Config {
	LoadDotEnv()

	return Config{
		HTTPAddr:  EnvString("HRCHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HRCHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("HRCHAT_LOG_FORMAT", "json"),
		LogColor:  EnvBool("HRCHAT_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("HRCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HRCHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HRCHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HRCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("HRCHAT_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("HRCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("HRCHAT_DATABASE_URL", ""),
		DBSchema:      EnvString("HRCHAT_DB_SCHEMA", "hrchat"),
		DBMaxConns:    EnvInt32("HRCHAT_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("HRCHAT_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("HRCHAT_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("HRCHAT_READINESS_REQUIRE_DB", false),

		UploadDir:      EnvString("HRCHAT_UPLOAD_DIR", "./data/uploads"),
		UploadMaxBytes: EnvBytes("HRCHAT_UPLOAD_MAX_BYTES", chat.MaxAttachmentBytes),

		CORSAllowedOrigins:   EnvCSV("HRCHAT_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("HRCHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("HRCHAT_CORS_MAX_AGE_SECONDS", 600),
	}
}
