// Package pool manages domains donated by third parties: submission with a
// credential probe, capacity-bounded subdomain reservations, and donor-only
// administration.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/crypto"
	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/core/subdomain"
	"github.com/artpar/pagehost/internal/shell/dns"
	"github.com/artpar/pagehost/internal/shell/store"
)

// ProvisionerFactory builds a DNS provisioner for a donor's credentials.
type ProvisionerFactory interface {
	New(provider string, creds dns.Credentials) (dns.Provisioner, error)
}

// Config configures the pool.
type Config struct {
	// AllowMemoryProvider accepts the in-process DNS backend for donations.
	AllowMemoryProvider bool
}

// Pool is the DonatedDomainPool.
type Pool struct {
	store  store.Store
	sealer *crypto.Sealer
	dns    ProvisionerFactory
	config Config
	logger *slog.Logger
}

// New creates a pool.
func New(st store.Store, sealer *crypto.Sealer, factory ProvisionerFactory, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:  st,
		sealer: sealer,
		dns:    factory,
		config: cfg,
		logger: logger.With("component", "pool"),
	}
}

// =============================================================================
// Submission
// =============================================================================

// SubmitRequest describes a domain a donor offers to the platform.
type SubmitRequest struct {
	DonorID         int
	DomainName      string
	Provider        string
	ZoneID          string
	APIToken        string
	MaxSubdomains   int
	DonationMessage string
	ContactEmail    string
	TermsOfUse      string
}

// SubmitDomain validates the request, proves the token can see the zone, and
// stores the domain with its token encrypted.
func (p *Pool) SubmitDomain(ctx context.Context, req SubmitRequest) (*domain.DonatedDomain, error) {
	if req.DonorID == 0 {
		return nil, apperr.Auth("authentication required to donate a domain")
	}

	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(req.DomainName)), ".")
	if err := coredns.ValidateDomainName(name); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid domain name", err)
	}
	provider := req.Provider
	if provider == "" {
		provider = domain.DefaultDNSProvider
	}
	if err := coredns.ValidateProvider(provider, p.config.AllowMemoryProvider); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid DNS provider", err)
	}
	if req.MaxSubdomains < 1 {
		return nil, apperr.Validation("max_subdomains must be at least 1")
	}
	if req.ZoneID == "" {
		return nil, apperr.Validation("dns_zone_id is required")
	}
	if req.APIToken == "" {
		return nil, apperr.Validation("dns_api_token is required")
	}

	if err := p.probe(ctx, provider, req.ZoneID, req.APIToken); err != nil {
		return nil, err
	}

	sealed, err := p.sealer.Seal(req.APIToken)
	if err != nil {
		return nil, apperr.Downstream("encrypt_token", "failed to encrypt DNS token", err)
	}

	d, err := domain.NewDonatedDomain(req.DonorID, name, provider, req.ZoneID, sealed, req.MaxSubdomains)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	d.DonationMessage = req.DonationMessage
	d.ContactEmail = req.ContactEmail
	d.TermsOfUse = req.TermsOfUse

	if err := p.store.CreateDonatedDomain(ctx, d); err != nil {
		return nil, store.Classify(err, "failed to save donated domain")
	}

	p.logger.Info("domain donated",
		"domain_id", d.ID,
		"domain", d.DomainName,
		"provider", provider,
		"donor_id", req.DonorID,
		"max_subdomains", d.MaxSubdomains,
		"token", crypto.Redact(req.APIToken),
	)
	return d, nil
}

// probe runs the read-only zone check. Rejected credentials are the donor's
// problem; anything else is a provider failure.
func (p *Pool) probe(ctx context.Context, provider, zoneID, token string) error {
	prov, err := p.dns.New(provider, dns.Credentials{ZoneID: zoneID, APIToken: token})
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid DNS credentials", err)
	}
	if err := prov.VerifyZone(ctx, zoneID); err != nil {
		if errors.Is(err, dns.ErrAuth) || errors.Is(err, dns.ErrZoneNotFound) {
			return apperr.Wrap(apperr.KindValidation, "DNS credentials cannot access zone", err)
		}
		return apperr.Downstream("verify_zone", "DNS provider probe failed", err)
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns a donated domain. The token never leaves the pool.
func (p *Pool) Get(ctx context.Context, domainID string) (*domain.DonatedDomain, error) {
	d, err := p.store.GetDonatedDomain(ctx, domainID)
	if err != nil {
		return nil, store.Classify(err, "donated domain not found")
	}
	return redact(d), nil
}

// List returns every donated domain.
func (p *Pool) List(ctx context.Context, opts store.ListOptions) ([]domain.DonatedDomain, error) {
	list, err := p.store.ListDonatedDomains(ctx, opts)
	if err != nil {
		return nil, store.Classify(err, "failed to list donated domains")
	}
	return redactAll(list), nil
}

// ListAvailable returns active domains with spare capacity.
func (p *Pool) ListAvailable(ctx context.Context) ([]domain.DonatedDomain, error) {
	list, err := p.store.ListAvailableDonatedDomains(ctx, store.DefaultListOptions())
	if err != nil {
		return nil, store.Classify(err, "failed to list donated domains")
	}
	return redactAll(list), nil
}

// ListByDonor returns the donor's own domains.
func (p *Pool) ListByDonor(ctx context.Context, donorID int) ([]domain.DonatedDomain, error) {
	list, err := p.store.ListDonatedDomainsByDonor(ctx, donorID, store.DefaultListOptions())
	if err != nil {
		return nil, store.Classify(err, "failed to list donated domains")
	}
	return redactAll(list), nil
}

// CheckAvailability reports whether subdomain can be reserved on the domain.
func (p *Pool) CheckAvailability(ctx context.Context, domainID, sub string) (bool, error) {
	d, err := p.store.GetDonatedDomain(ctx, domainID)
	if err != nil {
		return false, store.Classify(err, "donated domain not found")
	}
	if !d.IsAvailable() {
		return false, nil
	}

	_, err = p.store.GetDomainUsage(ctx, domainID, subdomain.Normalize(sub))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	default:
		return false, store.Classify(err, "failed to check reservation")
	}
}

// =============================================================================
// Reservations
// =============================================================================

// Reserve records the usage and bumps the counter in one transaction.
func (p *Pool) Reserve(ctx context.Context, domainID, pageID, sub string) (*domain.DonatedDomainUsage, error) {
	usage := domain.NewDonatedDomainUsage(domainID, pageID, subdomain.Normalize(sub))

	err := p.store.WithTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDonatedDomain(ctx, domainID)
		if err != nil {
			return store.Classify(err, "donated domain not found")
		}
		if !d.IsActive {
			return apperr.Conflict("donated domain %s is not active", d.DomainName)
		}
		if err := tx.CreateDomainUsage(ctx, usage); err != nil {
			return store.Classify(err, "subdomain is already reserved")
		}
		if err := tx.AdjustSubdomainCount(ctx, domainID, 1); err != nil {
			return store.Classify(err, "donated domain is at capacity")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("subdomain reserved", "domain_id", domainID, "page_id", pageID, "subdomain", usage.Subdomain)
	return usage, nil
}

// Release drops the page's reservation, if any, and decrements the counter.
func (p *Pool) Release(ctx context.Context, pageID string) error {
	return p.store.WithTx(ctx, func(tx store.Store) error {
		return p.ReleaseWith(ctx, tx, pageID)
	})
}

// ReleaseWith releases inside a caller-owned transaction.
func (p *Pool) ReleaseWith(ctx context.Context, tx store.Store, pageID string) error {
	usage, err := tx.GetDomainUsageByPage(ctx, pageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return store.Classify(err, "failed to load reservation")
	}

	if err := tx.DeleteDomainUsage(ctx, usage.ID); err != nil {
		return store.Classify(err, "failed to delete reservation")
	}
	if err := tx.AdjustSubdomainCount(ctx, usage.DonatedDomainID, -1); err != nil {
		return store.Classify(err, "failed to release capacity")
	}

	p.logger.Info("subdomain released", "domain_id", usage.DonatedDomainID, "page_id", pageID, "subdomain", usage.Subdomain)
	return nil
}

// =============================================================================
// Donor Administration
// =============================================================================

// ToggleActive flips the domain's active flag. Only the donor may do this.
func (p *Pool) ToggleActive(ctx context.Context, domainID string, donorID int) (*domain.DonatedDomain, error) {
	var out *domain.DonatedDomain
	err := p.store.WithTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDonatedDomain(ctx, domainID)
		if err != nil {
			return store.Classify(err, "donated domain not found")
		}
		if d.DonorID != donorID {
			return apperr.Auth("only the donor can change this domain")
		}
		d.IsActive = !d.IsActive
		d.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDonatedDomain(ctx, d); err != nil {
			return store.Classify(err, "failed to update donated domain")
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("domain toggled", "domain_id", domainID, "active", out.IsActive)
	return redact(out), nil
}

// Settings are the donor-editable fields. Nil fields are left unchanged.
type Settings struct {
	MaxSubdomains   *int
	DonationMessage *string
	ContactEmail    *string
	TermsOfUse      *string

	// APIToken rotates the stored token after a fresh zone probe.
	APIToken *string
}

// UpdateSettings applies donor edits.
func (p *Pool) UpdateSettings(ctx context.Context, domainID string, donorID int, s Settings) (*domain.DonatedDomain, error) {
	current, err := p.store.GetDonatedDomain(ctx, domainID)
	if err != nil {
		return nil, store.Classify(err, "donated domain not found")
	}
	if current.DonorID != donorID {
		return nil, apperr.Auth("only the donor can change this domain")
	}

	// The probe is network I/O and stays outside the transaction.
	var sealed []byte
	if s.APIToken != nil {
		if *s.APIToken == "" {
			return nil, apperr.Validation("dns_api_token cannot be empty")
		}
		if err := p.probe(ctx, current.DNSProvider, current.DNSZoneID, *s.APIToken); err != nil {
			return nil, err
		}
		if sealed, err = p.sealer.Seal(*s.APIToken); err != nil {
			return nil, apperr.Downstream("encrypt_token", "failed to encrypt DNS token", err)
		}
	}

	var out *domain.DonatedDomain
	err = p.store.WithTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDonatedDomain(ctx, domainID)
		if err != nil {
			return store.Classify(err, "donated domain not found")
		}
		if s.MaxSubdomains != nil {
			if err := d.SetMaxSubdomains(*s.MaxSubdomains); err != nil {
				return apperr.Wrap(apperr.KindValidation, err.Error(), err)
			}
		}
		if s.DonationMessage != nil {
			d.DonationMessage = *s.DonationMessage
		}
		if s.ContactEmail != nil {
			d.ContactEmail = *s.ContactEmail
		}
		if s.TermsOfUse != nil {
			d.TermsOfUse = *s.TermsOfUse
		}
		if sealed != nil {
			d.DNSAPITokenEncrypted = sealed
		}
		d.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDonatedDomain(ctx, d); err != nil {
			return store.Classify(err, "failed to update donated domain")
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("domain settings updated", "domain_id", domainID, "token_rotated", sealed != nil)
	return redact(out), nil
}

// =============================================================================
// Credentials
// =============================================================================

// Credentials are the decrypted DNS credentials of an active donated domain.
type Credentials struct {
	Provider string
	ZoneID   string
	APIToken string
}

// GetCredentials decrypts the token of an active domain.
func (p *Pool) GetCredentials(ctx context.Context, domainID string) (*Credentials, error) {
	d, err := p.store.GetDonatedDomain(ctx, domainID)
	if err != nil {
		return nil, store.Classify(err, "donated domain not found")
	}
	if !d.IsActive {
		return nil, apperr.Conflict("donated domain %s is not active", d.DomainName)
	}

	token, err := p.sealer.Open(d.DNSAPITokenEncrypted)
	if err != nil {
		return nil, apperr.Downstream("decrypt_token", "failed to decrypt DNS token", err)
	}
	return &Credentials{Provider: d.DNSProvider, ZoneID: d.DNSZoneID, APIToken: token}, nil
}

// Provisioner builds a DNS provisioner bound to the donor's credentials.
func (p *Pool) Provisioner(ctx context.Context, domainID string) (dns.Provisioner, *Credentials, error) {
	creds, err := p.GetCredentials(ctx, domainID)
	if err != nil {
		return nil, nil, err
	}
	prov, err := p.dns.New(creds.Provider, dns.Credentials{ZoneID: creds.ZoneID, APIToken: creds.APIToken})
	if err != nil {
		return nil, nil, apperr.Downstream("dns_client", "failed to build DNS client", err)
	}
	return prov, creds, nil
}

func redact(d *domain.DonatedDomain) *domain.DonatedDomain {
	cp := *d
	cp.DNSAPITokenEncrypted = nil
	return &cp
}

func redactAll(list []domain.DonatedDomain) []domain.DonatedDomain {
	for i := range list {
		list[i].DNSAPITokenEncrypted = nil
	}
	return list
}
