// Package chat implements the client side of the chat session protocol.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aborealis/ragclient/internal/domain"
	"github.com/coder/websocket"
)

// ErrNotOpen is returned when sending on a transport that is not open.
var ErrNotOpen = errors.New("transport is not open")

// EventKind identifies a transport event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventFrame
	EventErrored
	EventClosed
)

// Event is one inbound transport event: a lifecycle change or a raw frame.
type Event struct {
	Kind EventKind
	Data string
	Err  error
}

// Transport owns one logical bidirectional channel. A Transport is single use:
// once its run has ended the caller creates a new one. Every run ends with
// exactly one EventClosed, after which Events is closed.
type Transport interface {
	// Connect starts connecting. It is a no-op unless the transport is fresh.
	Connect(url string)
	// Send writes a text frame. It fails with ErrNotOpen unless open.
	Send(ctx context.Context, text string) error
	// Close tears the channel down without waiting for acknowledgement.
	Close()
	// Events is the single ordered stream of inbound events.
	Events() <-chan Event
}

// TransportFactory creates a fresh Transport for one connection.
type TransportFactory func() Transport

// WebSocketTransport is a Transport over github.com/coder/websocket.
type WebSocketTransport struct {
	mu        sync.Mutex
	state     domain.Connectivity
	conn      *websocket.Conn
	cancel    context.CancelFunc
	closing   bool
	events    chan Event
	readLimit int64
	logger    *slog.Logger
}

// NewWebSocketTransport creates an unconnected WebSocket transport.
func NewWebSocketTransport(readLimit int64, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		state:     domain.ConnUninitialized,
		events:    make(chan Event, 64),
		readLimit: readLimit,
		logger:    logger,
	}
}

// WebSocketFactory returns a TransportFactory producing WebSocket transports.
func WebSocketFactory(readLimit int64, logger *slog.Logger) TransportFactory {
	return func() Transport {
		return NewWebSocketTransport(readLimit, logger)
	}
}

// Connect dials url in the background.
func (t *WebSocketTransport) Connect(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.ConnUninitialized {
		return
	}
	t.state = domain.ConnConnecting

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx, url)
}

// Events returns the inbound event stream.
func (t *WebSocketTransport) Events() <-chan Event {
	return t.events
}

// Send writes text as a single text frame.
func (t *WebSocketTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()

	if state != domain.ConnOpen || conn == nil {
		return ErrNotOpen
	}
	return conn.Write(ctx, websocket.MessageText, []byte(text))
}

// Close tears down the connection. The closed event arrives asynchronously.
func (t *WebSocketTransport) Close() {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.closing = true
	prev := t.state
	conn, cancel := t.conn, t.cancel
	if prev == domain.ConnUninitialized {
		t.state = domain.ConnClosed
	}
	t.mu.Unlock()

	if prev == domain.ConnUninitialized {
		// Never connected: nothing will emit the final event.
		t.events <- Event{Kind: EventClosed}
		close(t.events)
		return
	}

	if conn != nil {
		go func() {
			if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
				t.logger.Debug("Failed to close websocket", "error", err)
			}
			cancel()
		}()
		return
	}
	cancel()
}

func (t *WebSocketTransport) run(ctx context.Context, url string) {
	defer close(t.events)
	defer t.cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.finish(err)
		return
	}
	conn.SetReadLimit(t.readLimit)

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
		t.finish(nil)
		return
	}
	t.conn = conn
	t.state = domain.ConnOpen
	t.mu.Unlock()

	t.logger.Debug("WebSocket connected", "url", url)
	t.events <- Event{Kind: EventOpened}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				t.logger.Debug("WebSocket closed by peer", "status", websocket.CloseStatus(err))
				err = nil
			}
			t.finish(err)
			return
		}
		t.events <- Event{Kind: EventFrame, Data: string(data)}
	}
}

// finish emits the terminal events of a run. Failures during a local close
// are expected and reported as a plain close.
func (t *WebSocketTransport) finish(err error) {
	t.mu.Lock()
	closing := t.closing
	t.state = domain.ConnClosed
	t.mu.Unlock()

	if err != nil && !closing {
		t.logger.Warn("WebSocket error", "error", err)
		t.events <- Event{Kind: EventErrored, Err: err}
	}
	t.events <- Event{Kind: EventClosed}
}
