// Package api exposes the client's chat and ingestion state over a local
// HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aborealis/ragclient/internal/chat"
	"github.com/aborealis/ragclient/internal/ingest"
)

// ChatSession is the chat controller as seen by the API.
type ChatSession interface {
	Connect(ctx context.Context)
	SendUserMessage(ctx context.Context, text string) error
	Reset()
	ClearNotAuthenticated()
	Snapshot() chat.Snapshot
}

// ProgressSource reports ingestion progress.
type ProgressSource interface {
	ClearNotAuthenticated()
	Snapshot() ingest.Snapshot
}

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the local state API.
type Handler struct {
	chat          ChatSession
	docs          ProgressSource
	repo          Pinger
	healthTimeout time.Duration
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(session ChatSession, docs ProgressSource, repo Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:          session,
		docs:          docs,
		repo:          repo,
		healthTimeout: 5 * time.Second,
		logger:        logger,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/chat", h.GetChat)
		r.Post("/chat/messages", h.PostMessage)
		r.Post("/chat/reset", h.ResetChat)
		r.Get("/documents", h.GetDocuments)
		r.Post("/auth/signed-in", h.SignedIn)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
