package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aborealis/ragclient/internal/chat"
)

// maxMessageBytes bounds the request body of a posted message.
const maxMessageBytes = 64 << 10

type postMessageRequest struct {
	Text string `json:"text"`
}

// GetChat returns the chat session snapshot.
func (h *Handler) GetChat(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.chat.Snapshot())
}

// PostMessage sends a user message. Delivery is not confirmed: when the
// channel is down the snapshot carries a local notice instead.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chat.SendUserMessage(r.Context(), req.Text); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to send chat message", "error", err)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	JSON(w, http.StatusAccepted, h.chat.Snapshot())
}

// ResetChat starts a fresh conversation and requests a new passport.
func (h *Handler) ResetChat(w http.ResponseWriter, r *http.Request) {
	h.chat.Reset()
	h.chat.Connect(context.WithoutCancel(r.Context()))
	JSON(w, http.StatusOK, h.chat.Snapshot())
}

// GetDocuments returns the tracked ingestion jobs and their progress.
func (h *Handler) GetDocuments(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.docs.Snapshot())
}

// SignedIn drops the not-authenticated signals after the user signed in again
// and retries the chat connection.
func (h *Handler) SignedIn(w http.ResponseWriter, r *http.Request) {
	h.chat.ClearNotAuthenticated()
	h.docs.ClearNotAuthenticated()
	h.chat.Connect(context.WithoutCancel(r.Context()))
	JSON(w, http.StatusOK, h.chat.Snapshot())
}
