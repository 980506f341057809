// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Stream transports.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config holds all application configuration.
type Config struct {
	Port                 string
	UserMgmtURL          string
	ChatURL              string
	UploadURL            string
	CredentialDBPath     string
	AllowedOrigins       []string
	StreamTransport      string
	RequestTimeout       time.Duration
	SessionCheckInterval time.Duration
	LogLevel             slog.Level
	Retrieval            RetrievalConfig
}

// RetrievalConfig holds the default retrieval knobs sent with each question.
type RetrievalConfig struct {
	TopK   int
	Alpha  float64
	UseMMR bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "3000"),
		UserMgmtURL:          strings.TrimSpace(getEnv("USER_MGMT_URL", "")),
		ChatURL:              strings.TrimSpace(getEnv("CHAT_URL", "")),
		UploadURL:            strings.TrimSpace(getEnv("PDF_UPLOAD_URL", "")),
		CredentialDBPath:     getEnv("CREDENTIAL_DB_PATH", "./data/credentials.db"),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		StreamTransport:      strings.ToLower(getEnv("STREAM_TRANSPORT", TransportSSE)),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		SessionCheckInterval: getEnvDuration("SESSION_CHECK_INTERVAL", time.Minute),
		LogLevel:             getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Retrieval: RetrievalConfig{
			TopK:   getEnvInt("DEFAULT_TOP_K", 5),
			Alpha:  getEnvFloat("DEFAULT_ALPHA", 0.7),
			UseMMR: getEnvBool("DEFAULT_USE_MMR", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	for _, u := range []struct{ key, value string }{
		{"USER_MGMT_URL", c.UserMgmtURL},
		{"CHAT_URL", c.ChatURL},
		{"PDF_UPLOAD_URL", c.UploadURL},
	} {
		if err := validateBaseURL(u.key, u.value); err != nil {
			return err
		}
	}
	if c.CredentialDBPath == "" {
		return errors.New("CREDENTIAL_DB_PATH cannot be empty")
	}
	if c.StreamTransport != TransportSSE && c.StreamTransport != TransportWebSocket {
		return fmt.Errorf("STREAM_TRANSPORT must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.StreamTransport)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be > 0")
	}
	if c.SessionCheckInterval <= 0 {
		return errors.New("SESSION_CHECK_INTERVAL must be > 0")
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("DEFAULT_TOP_K must be > 0")
	}
	if !(c.Retrieval.Alpha >= 0 && c.Retrieval.Alpha <= 1) {
		return errors.New("DEFAULT_ALPHA must be within [0,1]")
	}
	return nil
}

func validateBaseURL(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, value)
	}
	return nil
}

// IsDevelopment returns true if the service URLs point at the local machine.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.UserMgmtURL, "localhost") ||
		strings.Contains(c.UserMgmtURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
