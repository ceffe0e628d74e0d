package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aborealis/ragclient/internal/backend"
)

// DocumentLister fetches one page of documents.
type DocumentLister interface {
	ListDocuments(ctx context.Context, offset, limit int) (*backend.DocumentPage, error)
}

// WatcherConfig controls the document list refresh.
type WatcherConfig struct {
	Interval time.Duration
	Offset   int
	Limit    int
}

// RunWatcher refreshes the document list and feeds it to the reconciler until
// ctx is cancelled. The first refresh runs immediately.
func RunWatcher(ctx context.Context, lister DocumentLister, r *Reconciler, cfg WatcherConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	logger.Info("Document watcher started", "interval", cfg.Interval, "limit", cfg.Limit)

	refreshDocuments(ctx, lister, r, cfg, logger)
	for {
		select {
		case <-ticker.C:
			refreshDocuments(ctx, lister, r, cfg, logger)
		case <-ctx.Done():
			logger.Info("Document watcher shutting down", "reason", ctx.Err())
			return
		}
	}
}

func refreshDocuments(ctx context.Context, lister DocumentLister, r *Reconciler, cfg WatcherConfig, logger *slog.Logger) {
	page, err := lister.ListDocuments(ctx, cfg.Offset, cfg.Limit)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn("Document list refresh failed", "error", err)
		r.ReportError(err)
		return
	}
	logger.Debug("Document list refreshed", "count", len(page.Documents), "total", page.TotalCount)
	r.Reconcile(page.Documents)
}
