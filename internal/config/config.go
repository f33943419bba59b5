// Package config loads the mailwise server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for optional configuration values.
const (
	// DefaultListenAddr is the default address for the API server.
	DefaultListenAddr = ":8000"

	// DefaultFrontendURL is where the OAuth callback redirects the browser.
	DefaultFrontendURL = "http://localhost:5173"

	// DefaultSessionTTL is the session token lifetime (7 days).
	DefaultSessionTTL = 10080 * time.Minute

	// DefaultMongoDatabase is the MongoDB database name.
	DefaultMongoDatabase = "mailwise"

	// DefaultGeminiModel is the Gemini model used for assistant calls.
	DefaultGeminiModel = "gemini-2.0-flash"

	// DefaultMetricsAddr is the address for the Prometheus metrics server.
	DefaultMetricsAddr = ":9090"

	// DefaultRateLimitPerMinute is the per-user request budget for
	// Gmail- and Gemini-backed endpoints.
	DefaultRateLimitPerMinute = 120
)

// Config holds the full server configuration. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	// Server
	ListenAddr  string
	FrontendURL string
	CORSOrigins []string
	Debug       bool

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string

	// Session tokens
	SessionSecret string
	SessionTTL    time.Duration

	// Storage
	MongoURI      string
	MongoDatabase string

	// Gemini
	GeminiAPIKey string
	GeminiModel  string

	// Rate limiting
	RateLimitPerMinute int

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string
}

// Load reads the configuration from environment variables.
// Missing required variables are reported together in a single error.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.RedirectURL = os.Getenv("REDIRECT_URI")
	if cfg.RedirectURL == "" {
		missing = append(missing, "REDIRECT_URI")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.MongoURI = os.Getenv("MONGODB_URI")
	if cfg.MongoURI == "" {
		missing = append(missing, "MONGODB_URI")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ListenAddr = getEnvString("LISTEN_ADDR", DefaultListenAddr)
	cfg.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", DefaultFrontendURL), "/")
	cfg.CORSOrigins = splitOrigins(getEnvString("CORS_ORIGINS", DefaultFrontendURL))
	cfg.Debug = getEnvBool("DEBUG", false)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", DefaultSessionTTL)
	cfg.MongoDatabase = getEnvString("MONGODB_DATABASE", DefaultMongoDatabase)
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", DefaultGeminiModel)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.MetricsAddr = getEnvString("METRICS_ADDR", DefaultMetricsAddr)

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}

	return cfg, nil
}

// splitOrigins parses a comma-separated origin list. A single "*" allows
// all origins.
func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
