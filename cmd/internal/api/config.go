package api

import (
	"net/http"
	"time"
)

// Config holds HTTP surface settings.
type Config struct {
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// MaxUploadBytes bounds multipart image uploads.
	MaxUploadBytes int64

	// SessionTTL is the lifetime of an issued session token.
	SessionTTL time.Duration

	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns safe local-dev defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,  // 1 MiB
		MaxUploadBytes: 10 << 20, // 10 MiB
		SessionTTL:     24 * time.Hour,
		CookiePath:     "/",
		CookieSecure:   false,
		CookieSameSite: http.SameSiteLaxMode,
	}
}
