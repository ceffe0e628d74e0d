// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr  string
	APIBaseURL  string
	WSBaseURL   string
	APIPrefix   string
	AuthToken   string
	ChatSource  string
	DBPath      string
	CORSOrigins []string
	LogLevel    slog.Level

	RequestTimeout time.Duration
	WSReadLimit    int64
	Documents      DocumentsConfig
}

// DocumentsConfig controls ingestion progress polling.
type DocumentsConfig struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	PageSize        int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8090"),
		APIBaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
		WSBaseURL:      strings.TrimRight(getEnv("WS_BASE_URL", "ws://localhost:8000"), "/"),
		APIPrefix:      getEnv("API_PREFIX", "/api/v1"),
		AuthToken:      getEnv("AUTH_TOKEN", ""),
		ChatSource:     getEnv("CHAT_SOURCE", "web"),
		DBPath:         getEnv("DB_PATH", "./data/ragclient.db"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		WSReadLimit:    int64(getEnvInt("WS_READ_LIMIT", 1<<20)),
		Documents: DocumentsConfig{
			PollInterval:    getEnvDuration("POLL_INTERVAL", time.Second),
			RefreshInterval: getEnvDuration("DOCUMENTS_REFRESH_INTERVAL", 5*time.Second),
			PageSize:        getEnvInt("DOCUMENTS_PAGE_SIZE", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR cannot be empty")
	}
	if err := validateURL("API_BASE_URL", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("WS_BASE_URL", c.WSBaseURL, "ws", "wss"); err != nil {
		return err
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("API_PREFIX must start with /")
	}
	if c.ChatSource == "" {
		return fmt.Errorf("CHAT_SOURCE cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.WSReadLimit <= 0 {
		return fmt.Errorf("WS_READ_LIMIT must be > 0")
	}
	if c.Documents.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Documents.RefreshInterval <= 0 {
		return fmt.Errorf("DOCUMENTS_REFRESH_INTERVAL must be > 0")
	}
	if c.Documents.PageSize <= 0 {
		return fmt.Errorf("DOCUMENTS_PAGE_SIZE must be > 0")
	}
	return nil
}

// APIURL joins the backend base URL, the API prefix and path.
func (c *Config) APIURL(path string) string {
	return c.APIBaseURL + c.APIPrefix + path
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", key, strings.Join(schemes, "/"))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
