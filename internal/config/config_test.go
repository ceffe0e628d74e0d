package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Documents.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.Documents.PollInterval)
	}
	if cfg.ChatSource != "web" {
		t.Errorf("expected source web, got %q", cfg.ChatSource)
	}
	if got := cfg.APIURL("/chat/init/"); got != "http://localhost:8000/api/v1/chat/init/" {
		t.Errorf("unexpected API URL %q", got)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://rag.example.com/")
	t.Setenv("WS_BASE_URL", "wss://rag.example.com")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIBaseURL != "https://rag.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.Documents.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Documents.PollInterval)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"ws scheme", map[string]string{"WS_BASE_URL": "http://localhost:8000"}},
		{"api scheme", map[string]string{"API_BASE_URL": "localhost:8000"}},
		{"poll interval", map[string]string{"POLL_INTERVAL": "0s"}},
		{"page size", map[string]string{"DOCUMENTS_PAGE_SIZE": "-1"}},
		{"prefix", map[string]string{"API_PREFIX": "api/v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
