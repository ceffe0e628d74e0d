package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aborealis/ragclient/internal/backend"
	"github.com/aborealis/ragclient/internal/domain"
)

// testModeMarker is appended to every transport URL.
const testModeMarker = "&is_test_mode=1"

// notConnectedMessage is the local notice for sends while the channel is down.
const notConnectedMessage = "WebSocket is not connected"

// ErrEmptyMessage is returned when a user message is blank after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// State is the controller's position in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateAcquiringPassport
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAcquiringPassport:
		return "acquiring_passport"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// MarshalText renders the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is what the rendering layer shows, in precedence order.
type View string

const (
	ViewLoading      View = "loading"
	ViewAuthRequired View = "authentication_required"
	ViewError        View = "error"
	ViewNormal       View = "normal"
)

// PassportIssuer issues chat passports.
type PassportIssuer interface {
	InitChat(ctx context.Context) (*domain.Passport, error)
}

// PassportCache remembers the last issued passport.
type PassportCache interface {
	SavePassport(ctx context.Context, p *domain.Passport) error
	DeletePassport(ctx context.Context) error
}

// Options configures a Controller.
type Options struct {
	WSBaseURL string
	Issuer    PassportIssuer
	Cache     PassportCache
	Transport TransportFactory
	Logger    *slog.Logger
	// PassportID seeds the session id, typically from the passport cache.
	PassportID string
	// OnNotAuthenticated is invoked, outside the controller lock, on any 401.
	OnNotAuthenticated func()
}

// Controller drives one chat session: passport acquisition, the transport
// lifecycle, inbound frame decoding and token accounting.
type Controller struct {
	mu sync.Mutex

	wsBase   string
	issuer   PassportIssuer
	cache    PassportCache
	factory  TransportFactory
	logger   *slog.Logger
	onUnauth func()
	now      func() time.Time

	state     State
	session   domain.Session
	transport Transport
	epoch     uint64

	messages         []domain.Message
	seq              int
	spentTokens      float64
	loading          bool
	notAuthenticated bool
	lastError        string
}

// NewController creates a controller for a fresh session.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		wsBase:   opts.WSBaseURL,
		issuer:   opts.Issuer,
		cache:    opts.Cache,
		factory:  opts.Transport,
		logger:   logger,
		onUnauth: opts.OnNotAuthenticated,
		now:      time.Now,
		state:    StateIdle,
		session:  domain.Session{ID: opts.PassportID},
		loading:  true,
	}
}

// Connect brings the session up. A session without a URL acquires a passport
// first; a session holding a URL reuses it. Connect is a no-op while a
// transport is connecting or open, and after the passport was rejected.
func (c *Controller) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateAcquiringPassport || c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}

	if c.session.URLState == domain.URLCleared {
		c.mu.Unlock()
		c.logger.Debug("Chat passport was rejected, waiting for reset")
		return
	}
	if c.session.HasURL() {
		c.connectLocked()
		c.mu.Unlock()
		return
	}

	c.state = StateAcquiringPassport
	c.loading = true
	epoch := c.epoch
	c.mu.Unlock()

	passport, err := c.issuer.InitChat(ctx)
	c.handlePassport(ctx, epoch, passport, err)
}

func (c *Controller) handlePassport(ctx context.Context, epoch uint64, passport *domain.Passport, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("Discarding passport result from a reset session")
		return
	}

	var notify func()
	switch {
	case err == nil:
		// Cache writes stay under the lock, after the epoch check.
		c.saveCachedLocked(ctx, passport)
		c.session.ID = passport.ID
		c.session.URLState = domain.URLAssigned
		c.session.TransportURL = passport.WSURL
		c.notAuthenticated = false
		c.lastError = ""
		c.logger.Info("Chat passport acquired", "passport_id", passport.ID)
		c.connectLocked()

	case errors.Is(err, backend.ErrInvalidPassport):
		c.deleteCachedLocked(ctx)
		c.session.ID = ""
		c.session.URLState = domain.URLCleared
		c.session.TransportURL = ""
		c.state = StateIdle
		c.loading = false
		c.logger.Info("Chat passport rejected, session halted")

	case errors.Is(err, backend.ErrNotAuthenticated):
		c.lastError = ""
		c.notAuthenticated = true
		c.state = StateIdle
		c.loading = false
		notify = c.onUnauth
		c.logger.Info("Chat passport request not authenticated")

	default:
		c.lastError = err.Error()
		c.state = StateIdle
		c.loading = false
		c.logger.Error("Chat passport request failed", "error", err)
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (c *Controller) saveCachedLocked(ctx context.Context, p *domain.Passport) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SavePassport(ctx, p); err != nil {
		c.logger.Warn("Failed to cache chat passport", "error", err)
	}
}

func (c *Controller) deleteCachedLocked(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.DeletePassport(ctx); err != nil {
		c.logger.Warn("Failed to clear cached chat passport", "error", err)
	}
}

// connectLocked opens a new transport to the session URL. Callers hold c.mu.
func (c *Controller) connectLocked() {
	if old := c.transport; old != nil {
		// A replaced transport's remaining events are ignored.
		go old.Close()
	}
	t := c.factory()
	c.transport = t
	c.state = StateConnecting
	c.session.Connectivity = domain.ConnConnecting

	target := c.wsBase + c.session.TransportURL + testModeMarker
	c.logger.Info("Connecting chat transport", "url", target)

	go c.consume(t)
	t.Connect(target)
}

// consume is the single consumer of a transport's events, so frames are
// applied strictly in arrival order.
func (c *Controller) consume(t Transport) {
	for ev := range t.Events() {
		c.handleEvent(t, ev)
	}
}

func (c *Controller) handleEvent(t Transport, ev Event) {
	var frame Frame
	if ev.Kind == EventFrame {
		frame = Decode(ev.Data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != t {
		return
	}

	switch ev.Kind {
	case EventOpened:
		c.state = StateOpen
		c.session.Connectivity = domain.ConnOpen
		c.loading = false
		c.logger.Info("Chat transport open")
	case EventFrame:
		c.applyFrameLocked(frame)
	case EventErrored:
		c.state = StateErrored
		c.session.Connectivity = domain.ConnErrored
		c.loading = false
		if ev.Err != nil {
			c.lastError = ev.Err.Error()
		}
	case EventClosed:
		c.state = StateClosed
		c.session.Connectivity = domain.ConnClosed
		c.loading = false
		c.transport = nil
		c.logger.Info("Chat transport closed")
	}
}

func (c *Controller) applyFrameLocked(f Frame) {
	switch f.Kind {
	case FrameUsageReport:
		if f.Tokens < 0 {
			c.logger.Warn("Ignoring negative token usage", "tokens", f.Tokens)
			return
		}
		c.spentTokens += f.Tokens
	case FrameDropped:
		c.logger.Debug("Dropping diagnostic frame of unknown shape")
	default:
		text, block, ok := render(f)
		if !ok {
			return
		}
		c.appendLocked(f.Role, text, block)
	}
}

func (c *Controller) appendLocked(role domain.Role, text, block string) {
	c.seq++
	c.messages = append(c.messages, domain.Message{
		Seq:       c.seq,
		Role:      role,
		Text:      text,
		Block:     block,
		CreatedAt: c.now(),
	})
}

// SendUserMessage appends text as a user entry and forwards it if the
// transport is open. Otherwise a local system notice is appended; messages
// are never queued for later delivery.
func (c *Controller) SendUserMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	c.appendLocked(domain.RoleUser, text, "")
	t := c.transport
	open := c.state == StateOpen && t != nil
	if !open {
		c.appendLocked(domain.RoleSystem, notConnectedMessage, "")
	}
	c.mu.Unlock()

	if !open {
		return nil
	}

	if err := t.Send(ctx, text); err != nil {
		c.logger.Warn("Failed to send chat message", "error", err)
		c.mu.Lock()
		c.appendLocked(domain.RoleSystem, notConnectedMessage, "")
		c.mu.Unlock()
	}
	return nil
}

// Reset clears the conversation, the token ledger and the session URL in one
// step and closes the transport. The next Connect requests a new passport.
func (c *Controller) Reset() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.epoch++
	c.messages = nil
	c.spentTokens = 0
	c.session = domain.Session{URLState: domain.URLNotRequested, Connectivity: domain.ConnClosed}
	c.state = StateIdle
	c.lastError = ""
	c.notAuthenticated = false
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
	c.logger.Info("Chat session reset")
}

// Close tears the session down: the transport is closed and the socket
// marked unusable. Session URL and history are kept.
func (c *Controller) Close() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.epoch++
	if c.state == StateConnecting || c.state == StateOpen || c.state == StateAcquiringPassport {
		c.state = StateClosed
	}
	if c.session.Connectivity == domain.ConnOpen || c.session.Connectivity == domain.ConnConnecting {
		c.session.Connectivity = domain.ConnClosed
	}
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

// ClearNotAuthenticated drops the not-authenticated signal after the user
// signed in again.
func (c *Controller) ClearNotAuthenticated() {
	c.mu.Lock()
	c.notAuthenticated = false
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	Session          domain.Session   `json:"session"`
	State            State            `json:"state"`
	View             View             `json:"view"`
	Loading          bool             `json:"loading"`
	NotAuthenticated bool             `json:"not_authenticated"`
	Error            string           `json:"error,omitempty"`
	SpentTokens      float64          `json:"spent_tokens"`
	Messages         []domain.Message `json:"messages"`
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]domain.Message, len(c.messages))
	copy(messages, c.messages)

	return Snapshot{
		Session:          c.session,
		State:            c.state,
		View:             c.viewLocked(),
		Loading:          c.loading,
		NotAuthenticated: c.notAuthenticated,
		Error:            c.lastError,
		SpentTokens:      c.spentTokens,
		Messages:         messages,
	}
}

func (c *Controller) viewLocked() View {
	switch {
	case c.loading:
		return ViewLoading
	case c.notAuthenticated:
		return ViewAuthRequired
	case c.lastError != "":
		return ViewError
	default:
		return ViewNormal
	}
}
