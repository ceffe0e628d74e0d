// Package backend is the HTTP client for the RAG pipeline API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aborealis/ragclient/internal/domain"
	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request id the backend can log for correlation.
const RequestIDHeader = "X-Request-ID"

// invalidPassportDetail is the error detail the backend returns for a stale passport.
const invalidPassportDetail = "Invalid chat passport id"

var (
	// ErrNotAuthenticated is returned for any 401 response.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidPassport is returned when the backend rejects the chat passport.
	ErrInvalidPassport = errors.New("invalid chat passport id")
)

// ServerError is any non-401 failure, including undecodable response bodies.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return e.Detail
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Prefix  string
	Token   string
	Source  string
	Timeout time.Duration
}

// Client talks to the backend REST endpoints.
type Client struct {
	http   *http.Client
	base   string
	token  string
	source string
	logger *slog.Logger
}

// NewHTTPClient builds an http.Client with pooled connections and a hard timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// New creates a backend client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	source := cfg.Source
	if source == "" {
		source = "web"
	}
	return &Client{
		http:   NewHTTPClient(timeout),
		base:   cfg.BaseURL + cfg.Prefix,
		token:  cfg.Token,
		source: source,
		logger: logger,
	}
}

// DocumentStatus is the ingestion state of one document.
type DocumentStatus struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// DocumentPage is one page of the document list.
type DocumentPage struct {
	TotalCount int          `json:"total_count"`
	Offset     int          `json:"offset"`
	Documents  []domain.Job `json:"documents"`
}

type initChatRequest struct {
	ID     *string `json:"id"`
	Source string  `json:"source"`
}

// InitChat requests a chat passport. The client identity is always sent as
// null. The passport id is opaque and may be absent; only ws_url is required.
func (c *Client) InitChat(ctx context.Context) (*domain.Passport, error) {
	var passport domain.Passport
	body := initChatRequest{ID: nil, Source: c.source}
	if err := c.do(ctx, http.MethodPost, "/chat/init/", nil, body, &passport); err != nil {
		return nil, err
	}
	if passport.WSURL == "" {
		return nil, &ServerError{Status: http.StatusOK, Detail: "chat passport carries no ws_url"}
	}
	return &passport, nil
}

// DocumentStatus fetches the ingestion status of a document.
func (c *Client) DocumentStatus(ctx context.Context, id int64) (*DocumentStatus, error) {
	var status DocumentStatus
	path := "/documents/status/" + strconv.FormatInt(id, 10) + "/"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDocuments fetches one page of documents.
func (c *Client) ListDocuments(ctx context.Context, offset, limit int) (*DocumentPage, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var page DocumentPage
	if err := c.do(ctx, http.MethodGet, "/documents/", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return &ServerError{Detail: err.Error()}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ServerError{Status: resp.StatusCode, Detail: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &ServerError{Status: resp.StatusCode, Detail: fmt.Sprintf("decode response: %v", err)}
		}
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrNotAuthenticated
	}

	detail := errorDetail(data)
	if detail == invalidPassportDetail {
		return ErrInvalidPassport
	}
	c.logger.Debug("Backend returned error", "method", method, "path", path, "request_id", requestID, "status", resp.StatusCode, "detail", detail)
	return &ServerError{Status: resp.StatusCode, Detail: detail}
}

// errorDetail extracts the `detail` field of an error body. Structured details
// are returned as their JSON encoding.
func errorDetail(data []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Detail) == 0 || string(envelope.Detail) == "null" {
		return "Unknown error"
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, envelope.Detail); err != nil {
		return string(envelope.Detail)
	}
	return compact.String()
}
