package store

import (
	"context"
	"time"

	"github.com/artpar/pagehost/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for pagehost entities.
type Store interface {
	// User resolution (upsert user from the identity provider's subject)
	ResolveUser(ctx context.Context, referenceID, email, name string) (int, error)
	GetUser(ctx context.Context, id int) (*domain.User, error)
	GetUserByReference(ctx context.Context, referenceID string) (*domain.User, error)

	// Page operations
	CreatePage(ctx context.Context, page *domain.UserPage) error
	GetPage(ctx context.Context, id string) (*domain.UserPage, error)
	UpdatePage(ctx context.Context, page *domain.UserPage) error
	FindClaimedPage(ctx context.Context, subdomain, domainName string) (*domain.UserPage, error)
	ListPagesByOwner(ctx context.Context, ownerID int, opts ListOptions) ([]domain.UserPage, error)
	ListPagesByStatus(ctx context.Context, status domain.PageStatus, opts ListOptions) ([]domain.UserPage, error)
	ListStalePages(ctx context.Context, createdBefore time.Time) ([]domain.UserPage, error)
	CountLivePagesByOwner(ctx context.Context, ownerID int) (int, error)

	// Page deployment operations
	CreatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error
	GetPageDeployment(ctx context.Context, id string) (*domain.PageDeployment, error)
	UpdatePageDeployment(ctx context.Context, deployment *domain.PageDeployment) error
	ListPageDeployments(ctx context.Context, pageID string, opts ListOptions) ([]domain.PageDeployment, error)
	GetLatestPageDeployment(ctx context.Context, pageID string) (*domain.PageDeployment, error)

	// Donated domain operations
	CreateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error
	GetDonatedDomain(ctx context.Context, id string) (*domain.DonatedDomain, error)
	UpdateDonatedDomain(ctx context.Context, d *domain.DonatedDomain) error
	ListDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error)
	ListAvailableDonatedDomains(ctx context.Context, opts ListOptions) ([]domain.DonatedDomain, error)
	ListDonatedDomainsByDonor(ctx context.Context, donorID int, opts ListOptions) ([]domain.DonatedDomain, error)

	// AdjustSubdomainCount moves current_subdomains by delta, refusing to
	// leave [0, max_subdomains]. Out-of-bounds moves return ErrCapacityExceeded.
	AdjustSubdomainCount(ctx context.Context, domainID string, delta int) error

	// Donated domain usage operations
	CreateDomainUsage(ctx context.Context, usage *domain.DonatedDomainUsage) error
	GetDomainUsage(ctx context.Context, domainID, subdomain string) (*domain.DonatedDomainUsage, error)
	GetDomainUsageByPage(ctx context.Context, pageID string) (*domain.DonatedDomainUsage, error)
	DeleteDomainUsage(ctx context.Context, id string) error
	CountDomainUsages(ctx context.Context, domainID string) (int, error)

	// Health
	Ping(ctx context.Context) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
