package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/pagehost/internal/core/domain"
)

// StalePageReaperConfig configures the stale page reaper.
type StalePageReaperConfig struct {
	// Interval is the time between sweeps.
	// Default: 1 minute.
	Interval time.Duration

	// StaleAfter is how long a page may stay in creating.
	// Default: 15 minutes.
	StaleAfter time.Duration

	// InitialDelay postpones the first sweep after Start.
	InitialDelay time.Duration
}

// DefaultStalePageReaperConfig returns the default configuration.
func DefaultStalePageReaperConfig() StalePageReaperConfig {
	return StalePageReaperConfig{
		Interval:     time.Minute,
		StaleAfter:   15 * time.Minute,
		InitialDelay: 10 * time.Second,
	}
}

// StalePageLister finds pages still creating since before a cutoff.
type StalePageLister interface {
	ListStalePages(ctx context.Context, createdBefore time.Time) ([]domain.UserPage, error)
}

// StalePageFailer fails one stale page and releases its name.
type StalePageFailer interface {
	FailStale(ctx context.Context, pageID string, age time.Duration) error
}

// StalePageReaper fails pages whose publish never finished, typically
// because the process died mid-pipeline. Without it such a page would keep
// its name claimed forever.
type StalePageReaper struct {
	*loop

	pages  StalePageLister
	failer StalePageFailer
	config StalePageReaperConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewStalePageReaper creates a new reaper.
func NewStalePageReaper(pages StalePageLister, failer StalePageFailer, config StalePageReaperConfig, logger *slog.Logger) *StalePageReaper {
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stale_page_reaper")

	r := &StalePageReaper{
		pages:  pages,
		failer: failer,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	r.loop = &loop{
		interval:     config.Interval,
		initialDelay: config.InitialDelay,
		cycleTimeout: time.Minute,
		cycle:        func(ctx context.Context) { r.Sweep(ctx) },
		logger:       logger,
	}
	return r
}

// Sweep fails every page that has been creating for longer than StaleAfter
// and returns how many it failed.
func (r *StalePageReaper) Sweep(ctx context.Context) int {
	cutoff := r.now().UTC().Add(-r.config.StaleAfter)
	pages, err := r.pages.ListStalePages(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to list stale pages", "error", err)
		return 0
	}

	failed := 0
	for i := range pages {
		if ctx.Err() != nil {
			break
		}
		if err := r.failer.FailStale(ctx, pages[i].ID, r.config.StaleAfter); err != nil {
			r.logger.Error("failed to fail stale page", "page_id", pages[i].ID, "error", err)
			continue
		}
		failed++
	}
	if failed > 0 {
		r.logger.Info("stale pages failed", "count", failed)
	}
	return failed
}
