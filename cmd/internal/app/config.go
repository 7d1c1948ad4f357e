package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	MaxUploadBytes    int64

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// ValkeyAddr enables the Valkey-backed session oracle and unread counters.
	// When empty, both fall back to in-process stores (single-node dev mode).
	ValkeyAddr string

	SessionTTL   time.Duration
	CookieSecure bool

	// MediaDir enables on-disk attachment storage; uploads are served back
	// under MediaBaseURL. When empty, attachments live in process memory.
	MediaDir     string
	MediaBaseURL string

	// Bot settings for automated conversations. Without an API key the bot
	// surface stays up but every exchange fails as unavailable.
	BotAPIKey  string
	BotBaseURL string
	BotModel   string
	BotTimeout time.Duration

	// DefaultConversationType overrides the conversation kind opened when a
	// match is accepted. Empty means the built-in default (human-to-human).
	DefaultConversationType string

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BAE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BAE_LOG_LEVEL", "info"),
		LogFormat: EnvString("BAE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BAE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BAE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BAE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BAE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BAE_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   EnvInt64("BAE_HTTP_MAX_BODY_BYTES", 1<<20),
		MaxUploadBytes: EnvInt64("BAE_UPLOAD_MAX_BYTES", 10<<20),

		DatabaseURL: EnvString("BAE_DATABASE_URL", ""),
		DBSchema:    EnvString("BAE_DB_SCHEMA", "betabae"),
		DBMaxConns:  EnvInt32("BAE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BAE_DB_MIN_CONNS", 0),

		ValkeyAddr: EnvString("BAE_VALKEY_ADDR", ""),

		SessionTTL:   EnvDuration("BAE_SESSION_TTL", 24*time.Hour),
		CookieSecure: EnvBool("BAE_COOKIE_SECURE", false),

		MediaDir:     EnvString("BAE_MEDIA_DIR", ""),
		MediaBaseURL: EnvString("BAE_MEDIA_BASE_URL", "/media"),

		BotAPIKey:  EnvString("BAE_BOT_API_KEY", ""),
		BotBaseURL: EnvString("BAE_BOT_BASE_URL", ""),
		BotModel:   EnvString("BAE_BOT_MODEL", ""),
		BotTimeout: EnvDuration("BAE_BOT_TIMEOUT", 30*time.Second),

		DefaultConversationType: EnvString("BAE_DEFAULT_CONVERSATION_TYPE", ""),

		ReadinessRequireDB: EnvBool("BAE_READINESS_REQUIRE_DB", false),
	}
}
