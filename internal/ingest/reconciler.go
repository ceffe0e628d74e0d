// Package ingest keeps in-progress document ingestion jobs synchronized with
// the backend by polling their status.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aborealis/ragclient/internal/backend"
	"github.com/aborealis/ragclient/internal/domain"
)

// DefaultPollInterval is the delay between polls of one job.
const DefaultPollInterval = time.Second

// StatusFetcher reports the ingestion status of one job.
type StatusFetcher interface {
	DocumentStatus(ctx context.Context, id int64) (*backend.DocumentStatus, error)
}

// Options configures a Reconciler.
type Options struct {
	Fetcher  StatusFetcher
	Interval time.Duration
	Logger   *slog.Logger
	// OnNotAuthenticated is invoked on a 401 from a poll. The poll timer keeps
	// running until the next reconciliation drops the job.
	OnNotAuthenticated func()
	// OnStatus is invoked when a job reaches its terminal status.
	OnStatus func(id int64, status string)
}

// pollTimer is the cancellation handle of one job's poll loop.
type pollTimer struct {
	cancel context.CancelFunc
}

// Reconciler maintains exactly one poll timer per in-progress job.
type Reconciler struct {
	mu sync.Mutex

	fetcher  StatusFetcher
	interval time.Duration
	logger   *slog.Logger
	onUnauth func()
	onStatus func(id int64, status string)

	jobs             []domain.Job
	progress         map[int64]float64
	timers           map[int64]*pollTimer
	lastError        string
	notAuthenticated bool
	closed           bool

	wg sync.WaitGroup
}

// NewReconciler creates an idle reconciler.
func NewReconciler(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reconciler{
		fetcher:  opts.Fetcher,
		interval: interval,
		logger:   logger,
		onUnauth: opts.OnNotAuthenticated,
		onStatus: opts.OnStatus,
		progress: make(map[int64]float64),
		timers:   make(map[int64]*pollTimer),
	}
}

// Reconcile adopts jobs as the observed job list and diffs the tracked set
// against the jobs currently in progress: missing timers are started,
// timers of finished or vanished jobs are cancelled. A fresh job list
// implies working credentials and clears the not-authenticated signal.
func (r *Reconciler) Reconcile(jobs []domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.jobs = append(r.jobs[:0:0], jobs...)
	r.notAuthenticated = false

	wanted := make(map[int64]struct{}, len(jobs))
	for _, job := range jobs {
		if job.InProgress() {
			wanted[job.ID] = struct{}{}
		}
	}

	for id := range wanted {
		if _, tracked := r.timers[id]; !tracked {
			r.startLocked(id)
		}
	}

	for id := range r.timers {
		if _, ok := wanted[id]; !ok {
			r.stopLocked(id)
		}
	}
}

// startLocked registers the timer handle before the first poll is issued, so
// a later cancellation can only race with a poll response, never creation.
func (r *Reconciler) startLocked(id int64) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := &pollTimer{cancel: cancel}
	r.timers[id] = timer
	r.logger.Debug("Tracking ingestion job", "job_id", id)

	r.wg.Add(1)
	go r.pollLoop(ctx, id, timer)
}

func (r *Reconciler) stopLocked(id int64) {
	timer, ok := r.timers[id]
	if !ok {
		return
	}
	timer.cancel()
	delete(r.timers, id)
	delete(r.progress, id)
	r.logger.Debug("Stopped tracking ingestion job", "job_id", id)
}

// pollLoop polls once immediately, then on every interval tick.
func (r *Reconciler) pollLoop(ctx context.Context, id int64, timer *pollTimer) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.poll(ctx, id, timer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx, id, timer)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context, id int64, timer *pollTimer) {
	if ctx.Err() != nil {
		return
	}
	status, err := r.fetcher.DocumentStatus(ctx, id)
	if ctx.Err() != nil {
		return
	}

	var notify func()

	r.mu.Lock()
	// A response for a job that was dropped, or re-added with a new timer,
	// while the request was in flight must not touch state.
	if r.timers[id] != timer {
		r.mu.Unlock()
		return
	}

	switch {
	case errors.Is(err, backend.ErrNotAuthenticated):
		r.notAuthenticated = true
		r.lastError = ""
		notify = r.onUnauth
	case err != nil:
		r.lastError = err.Error()
		r.logger.Warn("Ingestion status poll failed", "job_id", id, "error", err)
	case status.Status == domain.StatusReady:
		r.notAuthenticated = false
		r.setStatusLocked(id, status.Status)
		r.stopLocked(id)
		r.logger.Info("Ingestion job finished", "job_id", id)
		if r.onStatus != nil {
			cb := r.onStatus
			notify = func() { cb(id, status.Status) }
		}
	default:
		r.notAuthenticated = false
		r.progress[id] = status.Progress
	}
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (r *Reconciler) setStatusLocked(id int64, status string) {
	for i := range r.jobs {
		if r.jobs[i].ID == id {
			r.jobs[i].Status = status
		}
	}
}

// Close cancels every tracked timer and waits for the poll loops to exit.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for id := range r.timers {
		r.stopLocked(id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// ClearNotAuthenticated drops the not-authenticated signal.
func (r *Reconciler) ClearNotAuthenticated() {
	r.mu.Lock()
	r.notAuthenticated = false
	r.mu.Unlock()
}

// Snapshot is a point-in-time copy of the tracked job state.
type Snapshot struct {
	Jobs             []domain.Job      `json:"jobs"`
	Progress         map[int64]float64 `json:"progress"`
	Tracked          []int64           `json:"tracked"`
	Error            string            `json:"error,omitempty"`
	NotAuthenticated bool              `json:"not_authenticated"`
}

// Snapshot returns a copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress := make(map[int64]float64, len(r.progress))
	for id, p := range r.progress {
		progress[id] = p
	}
	tracked := make([]int64, 0, len(r.timers))
	for id := range r.timers {
		tracked = append(tracked, id)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i] < tracked[j] })

	return Snapshot{
		Jobs:             append([]domain.Job(nil), r.jobs...),
		Progress:         progress,
		Tracked:          tracked,
		Error:            r.lastError,
		NotAuthenticated: r.notAuthenticated,
	}
}

// ReportError folds a failure from a job-list refresh into the shared state.
func (r *Reconciler) ReportError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	notify := r.onUnauth
	if errors.Is(err, backend.ErrNotAuthenticated) {
		r.notAuthenticated = true
		r.lastError = ""
	} else {
		notify = nil
		r.lastError = err.Error()
	}
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}
