package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/core/subdomain"
	"github.com/artpar/pagehost/internal/shell/store"
)

// =============================================================================
// Reads
// =============================================================================

// Get returns one of the caller's pages. Pages owned by someone else look
// missing.
func (o *Orchestrator) Get(ctx context.Context, identity auth.Context, pageID string) (*domain.UserPage, error) {
	if ok, msg := auth.RequireAuthentication(identity); !ok {
		return nil, apperr.Auth("%s", msg)
	}
	page, err := o.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, store.Classify(err, "page not found")
	}
	if !auth.CanViewPage(identity, *page) {
		return nil, apperr.NotFound("page not found")
	}
	return page, nil
}

// List returns the caller's pages, newest first.
func (o *Orchestrator) List(ctx context.Context, identity auth.Context, opts store.ListOptions) ([]domain.UserPage, error) {
	if ok, msg := auth.RequireAuthentication(identity); !ok {
		return nil, apperr.Auth("%s", msg)
	}
	pages, err := o.store.ListPagesByOwner(ctx, identity.UserID, opts.Normalize())
	if err != nil {
		return nil, store.Classify(err, "failed to list pages")
	}
	return pages, nil
}

// Deployments returns the deployments of one of the caller's pages.
func (o *Orchestrator) Deployments(ctx context.Context, identity auth.Context, pageID string, opts store.ListOptions) ([]domain.PageDeployment, error) {
	if _, err := o.Get(ctx, identity, pageID); err != nil {
		return nil, err
	}
	deployments, err := o.store.ListPageDeployments(ctx, pageID, opts.Normalize())
	if err != nil {
		return nil, store.Classify(err, "failed to list deployments")
	}
	return deployments, nil
}

// Deployment returns a single deployment of one of the caller's pages.
func (o *Orchestrator) Deployment(ctx context.Context, identity auth.Context, deploymentID string) (*domain.PageDeployment, error) {
	d, err := o.store.GetPageDeployment(ctx, deploymentID)
	if err != nil {
		return nil, store.Classify(err, "deployment not found")
	}
	if _, err := o.Get(ctx, identity, d.PageID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("deployment not found")
		}
		return nil, err
	}
	return d, nil
}

// AvailabilityQuery asks whether a name is free on a platform or donated domain.
type AvailabilityQuery struct {
	Subdomain       string
	Domain          string
	DonatedDomainID string
}

// Availability is the answer to an AvailabilityQuery.
type Availability struct {
	Subdomain  string `json:"subdomain"`
	Domain     string `json:"domain"`
	FullDomain string `json:"full_domain"`
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
}

// Availability checks a name without claiming it. A reserved or malformed
// label is reported as unavailable with a reason rather than an error.
func (o *Orchestrator) Availability(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	if (q.Domain == "") == (q.DonatedDomainID == "") {
		return nil, apperr.Validation("exactly one of domain and donated_domain_id is required")
	}
	sub := subdomain.Normalize(q.Subdomain)

	domainName := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(q.Domain)), ".")
	if q.DonatedDomainID != "" {
		d, err := o.pool.Get(ctx, q.DonatedDomainID)
		if err != nil {
			return nil, err
		}
		domainName = d.DomainName
	}

	out := &Availability{Subdomain: sub, Domain: domainName, FullDomain: domain.FullDomain(sub, domainName)}
	if err := o.allocator.ValidateSyntax(sub); err != nil {
		out.Reason = err.Error()
		return out, nil
	}

	var (
		ok  bool
		err error
	)
	if q.DonatedDomainID != "" {
		ok, err = o.pool.CheckAvailability(ctx, q.DonatedDomainID, sub)
	} else {
		ok, err = o.allocator.CheckAvailability(ctx, sub, domainName)
	}
	if err != nil {
		return nil, err
	}
	out.Available = ok
	if !ok {
		out.Reason = "already taken"
	}
	return out, nil
}

// =============================================================================
// Delete
// =============================================================================

// Delete disables one of the caller's pages and releases its name. The
// repository is kept but stops serving, which frees its custom domain for a
// later page. Hosting and the DNS record are removed on a best-effort basis.
func (o *Orchestrator) Delete(ctx context.Context, identity auth.Context, pageID string) error {
	page, err := o.Get(ctx, identity, pageID)
	if err != nil {
		return err
	}
	if !auth.CanDeletePage(identity, *page) {
		return apperr.NotFound("page not found")
	}
	wasActive := page.Status == domain.PageActive

	switch err := page.Disable(); {
	case errors.Is(err, domain.ErrPageInProgress):
		return apperr.Conflict("page %s is still being created", page.FullDomain)
	case errors.Is(err, domain.ErrPageDisabled):
		return apperr.NotFound("page not found")
	case err != nil:
		return apperr.Wrap(apperr.KindConflict, "page cannot be deleted", err)
	}

	err = o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdatePage(ctx, page); err != nil {
			return store.Classify(err, "failed to disable page")
		}
		if page.DonatedDomainID != nil {
			return o.pool.ReleaseWith(ctx, tx, page.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger := o.logger.With("page_id", page.ID, "full_domain", page.FullDomain)
	logger.Info("page disabled")

	if page.RepoRef != "" {
		o.stopHosting(ctx, logger, identity, page)
	}
	if wasActive {
		o.removeRecord(ctx, logger, page)
	}
	return nil
}

func (o *Orchestrator) stopHosting(ctx context.Context, logger *slog.Logger, identity auth.Context, page *domain.UserPage) {
	pub, err := o.publishers.For(ctx, identity.AccessToken)
	if err != nil {
		logger.Warn("hosting cleanup skipped", "error", err)
		return
	}
	if err := pub.DisableStaticHosting(ctx, page.RepoRef); err != nil {
		logger.Warn("hosting cleanup failed", "repo", page.RepoRef, "error", err)
	}
}

func (o *Orchestrator) removeRecord(ctx context.Context, logger *slog.Logger, page *domain.UserPage) {
	tgt := target{domainName: page.Domain, donatedDomainID: page.DonatedDomainID}
	prov, zoneID, err := o.provisioner(ctx, tgt)
	if err != nil {
		logger.Warn("DNS cleanup skipped", "error", err)
		return
	}
	if err := prov.DeleteRecord(ctx, page.Subdomain, page.Domain, zoneID); err != nil {
		logger.Warn("DNS cleanup failed", "error", err)
	}
}

// =============================================================================
// Stale pages
// =============================================================================

// FailStale fails a page that never left creating, releasing any donated
// reservation in the same transaction. It is a no-op for a page that has
// since moved on.
func (o *Orchestrator) FailStale(ctx context.Context, pageID string, age time.Duration) error {
	return o.store.WithTx(ctx, func(tx store.Store) error {
		page, err := tx.GetPage(ctx, pageID)
		if err != nil {
			return store.Classify(err, "page not found")
		}
		if page.Status != domain.PageCreating {
			return nil
		}

		reason := "page creation did not finish within " + age.String()
		if err := page.MarkFailed(StageStale, reason); err != nil {
			return apperr.Wrap(apperr.KindConflict, "page cannot be failed", err)
		}
		if err := tx.UpdatePage(ctx, page); err != nil {
			return store.Classify(err, "failed to update page")
		}

		d, err := tx.GetLatestPageDeployment(ctx, page.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return store.Classify(err, "failed to load deployment")
		case !d.Status.IsTerminal():
			if err := d.Fail(reason); err != nil {
				return apperr.Wrap(apperr.KindConflict, "deployment cannot be failed", err)
			}
			if err := tx.UpdatePageDeployment(ctx, d); err != nil {
				return store.Classify(err, "failed to update deployment")
			}
		}

		if page.DonatedDomainID != nil {
			if err := o.pool.ReleaseWith(ctx, tx, page.ID); err != nil {
				return err
			}
		}
		o.logger.Warn("stale page failed", "page_id", page.ID, "full_domain", page.FullDomain, "age", age)
		return nil
	})
}
