package workers

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/shell/store"
)

// PropagationCheckerConfig configures the DNS propagation checker.
type PropagationCheckerConfig struct {
	Interval      time.Duration
	MaxConcurrent int
	InitialDelay  time.Duration
}

// DefaultPropagationCheckerConfig returns default configuration.
func DefaultPropagationCheckerConfig() PropagationCheckerConfig {
	return PropagationCheckerConfig{
		Interval:      5 * time.Minute,
		MaxConcurrent: 5,
		InitialDelay:  30 * time.Second,
	}
}

// PageStore is what the propagation checker reads and writes. Results are
// recorded inside WithTx so a page disabled meanwhile is left alone.
type PageStore interface {
	ListPagesByStatus(ctx context.Context, status domain.PageStatus, opts store.ListOptions) ([]domain.UserPage, error)
	WithTx(ctx context.Context, fn func(store.Store) error) error
}

// CNAMEResolver resolves a hostname for verification.
type CNAMEResolver interface {
	Resolve(ctx context.Context, hostname string) coredns.VerificationInput
}

// PropagationChecker resolves the custom hostname of every active page not
// yet verified and records whether its CNAME reaches the hosting target.
type PropagationChecker struct {
	*loop

	store    PageStore
	resolver CNAMEResolver
	config   PropagationCheckerConfig
	logger   *slog.Logger
}

// CheckSummary counts the outcome of one propagation cycle.
type CheckSummary struct {
	Checked  int
	Verified int
}

// NewPropagationChecker creates a new propagation checker.
func NewPropagationChecker(s PageStore, resolver CNAMEResolver, config PropagationCheckerConfig, logger *slog.Logger) *PropagationChecker {
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "propagation_checker")

	c := &PropagationChecker{
		store:    s,
		resolver: resolver,
		config:   config,
		logger:   logger,
	}
	c.loop = &loop{
		interval:     config.Interval,
		initialDelay: config.InitialDelay,
		cycleTimeout: 2 * time.Minute,
		cycle:        func(ctx context.Context) { c.Check(ctx) },
		logger:       logger,
	}
	return c
}

// Check runs one propagation cycle over every unverified active page.
func (c *PropagationChecker) Check(ctx context.Context) CheckSummary {
	pending, err := c.unverified(ctx)
	if err != nil {
		c.logger.Error("failed to list pages for propagation check", "error", err)
		return CheckSummary{}
	}
	if len(pending) == 0 {
		return CheckSummary{}
	}

	c.logger.Debug("checking DNS propagation", "count", len(pending))

	verified := make([]bool, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrent)
	for i := range pending {
		g.Go(func() error {
			verified[i] = c.checkPage(gctx, &pending[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := CheckSummary{Checked: len(pending)}
	for _, ok := range verified {
		if ok {
			summary.Verified++
		}
	}
	return summary
}

func (c *PropagationChecker) unverified(ctx context.Context) ([]domain.UserPage, error) {
	var out []domain.UserPage
	opts := store.ListOptions{Limit: 500}
	for {
		pages, err := c.store.ListPagesByStatus(ctx, domain.PageActive, opts)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			if p.Metadata[domain.MetaDNSVerifiedAt] == "" {
				out = append(out, p)
			}
		}
		if len(pages) < opts.Limit {
			return out, nil
		}
		opts.Offset += opts.Limit
	}
}

func (c *PropagationChecker) checkPage(ctx context.Context, page *domain.UserPage) bool {
	target := hostingTarget(page.HostingURL)
	if target == "" {
		c.logger.Warn("page has no hosting target", "page_id", page.ID)
		return false
	}

	result := coredns.Verify(c.resolver.Resolve(ctx, page.FullDomain), target)

	var recorded bool
	err := c.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetPage(ctx, page.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.PageActive {
			return nil
		}

		if result.Verified {
			current.SetMeta(domain.MetaDNSVerifiedAt, time.Now().UTC().Format(time.RFC3339))
			delete(current.Metadata, domain.MetaDNSLastError)
		} else {
			if current.Metadata[domain.MetaDNSLastError] == result.Error {
				return nil
			}
			current.SetMeta(domain.MetaDNSLastError, result.Error)
		}

		if err := tx.UpdatePage(ctx, current); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		c.logger.Error("failed to record propagation result", "page_id", page.ID, "error", err)
		return false
	}
	if !recorded || !result.Verified {
		return false
	}

	c.logger.Info("page DNS verified", "page_id", page.ID, "full_domain", page.FullDomain)
	return true
}

// hostingTarget extracts the host of a hosting URL, which is where the
// custom hostname's CNAME must point.
func hostingTarget(hostingURL string) string {
	u, err := url.Parse(hostingURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
