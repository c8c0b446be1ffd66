package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SubmitTransport selects how answer submissions reach the backend.
type SubmitTransport string

const (
	SubmitTransportREST      SubmitTransport = "rest"
	SubmitTransportWebSocket SubmitTransport = "ws"
)

// Config holds all runner configuration.
type Config struct {
	BridgePort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// BackendURL is the exam backend's REST base, e.g. https://exam.school.id/api/v1.
	BackendURL string
	// BackendWSURL is the WebSocket base; derived from BackendURL when empty.
	BackendWSURL    string
	HTTPTimeout     time.Duration
	SubmitTransport SubmitTransport

	SubmitDelay     time.Duration
	FinalizeTimeout time.Duration

	// RedisURL enables the draft cache. Empty disables it.
	RedisURL string
	DraftTTL time.Duration

	Token     string
	TokenFile string

	// AllowedOrigins controls bridge CORS.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins     []string
	MountRatePerMinute int
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load()

	backendURL := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080/api/v1"), "/")

	return &Config{
		BridgePort:         getEnv("BRIDGE_PORT", "7070"),
		GinMode:            getEnv("GIN_MODE", "release"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "pretty"),
		BackendURL:         backendURL,
		BackendWSURL:       strings.TrimRight(getEnv("BACKEND_WS_URL", deriveWSURL(backendURL)), "/"),
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		SubmitTransport:    parseTransport(getEnv("RUNNER_SUBMIT_TRANSPORT", "rest")),
		SubmitDelay:        time.Duration(getEnvInt("SUBMIT_DELAY_MS", 300)) * time.Millisecond,
		FinalizeTimeout:    time.Duration(getEnvInt("FINALIZE_TIMEOUT_SECONDS", 10)) * time.Second,
		RedisURL:           getEnv("REDIS_URL", ""),
		DraftTTL:           time.Duration(getEnvInt("DRAFT_TTL_HOURS", 24)) * time.Hour,
		Token:              getEnv("RUNNER_TOKEN", ""),
		TokenFile:          getEnv("TOKEN_FILE", defaultTokenFile()),
		AllowedOrigins:     parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		MountRatePerMinute: getEnvInt("MOUNT_RATE_PER_MINUTE", 20),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func parseTransport(raw string) SubmitTransport {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ws", "websocket":
		return SubmitTransportWebSocket
	default:
		return SubmitTransportREST
	}
}

// deriveWSURL turns http(s)://host/api/v1 into ws(s)://host/ws/v1, matching
// the backend's route groups.
func deriveWSURL(backendURL string) string {
	u := backendURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if i := strings.LastIndex(u, "/api/"); i >= 0 {
		u = u[:i] + "/ws/" + u[i+len("/api/"):]
	}
	return u
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".exstem-token"
	}
	return dir + string(os.PathSeparator) + "exstem-runner" + string(os.PathSeparator) + "token"
}
