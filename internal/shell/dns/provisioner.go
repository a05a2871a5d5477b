// Package dns provisions and probes CNAME records with the platform's and
// donors' DNS providers.
// This is part of the Imperative Shell - every call is network I/O.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAuth is returned when the provider rejects the API credentials.
	ErrAuth = errors.New("DNS provider rejected credentials")

	// ErrZoneNotFound is returned when the zone does not exist or is not visible to the token.
	ErrZoneNotFound = errors.New("DNS zone not found")

	// ErrInvalidCredentials is returned when a token cannot be parsed for its provider.
	ErrInvalidCredentials = errors.New("invalid DNS credentials")
)

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner manages the single CNAME record that points a page's hostname at
// its hosting target. zoneID may be empty, in which case the zone bound at
// construction is used.
type Provisioner interface {
	// CreateRecord creates subdomain.domain CNAME target with the platform TTL.
	// It is not idempotent: a second call for the same name fails at the provider.
	CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error

	// DeleteRecord removes the exact name+type match. A missing record is success.
	DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error

	// IsAvailable reports whether no CNAME exists for subdomain.domain.
	IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error)

	// VerifyZone performs a read-only call proving the credentials can see the zone.
	VerifyZone(ctx context.Context, zoneID string) error
}

// Credentials are bound to a provisioner when it is built.
type Credentials struct {
	ZoneID   string
	APIToken string
}

// Options tune every provisioner built by New or a Factory.
type Options struct {
	// BaseURL overrides the provider's API endpoint.
	BaseURL string

	HTTPClient *http.Client

	// RateLimit is the sustained request rate per zone; 0 disables limiting.
	RateLimit float64
	Burst     int
}

// Option mutates Options.
type Option func(*Options)

// WithBaseURL points the backend at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(o *Options) { o.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used by backends that accept one.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithRateLimit sets the token-bucket rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.Burst = burst
	}
}

func buildOptions(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.RateLimit > 0 && o.Burst < 1 {
		o.Burst = 1
	}
	return o
}

// New builds a provisioner for one provider and credential set.
func New(provider string, creds Credentials, logger *slog.Logger, opts ...Option) (Provisioner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)

	var p Provisioner
	switch provider {
	case coredns.ProviderCloudflare:
		cf, err := NewCloudflareProvisioner(creds, o, logger)
		if err != nil {
			return nil, err
		}
		p = cf

	case coredns.ProviderDigitalOcean:
		do, err := NewDigitalOceanProvisioner(creds, o, logger)
		if err != nil {
			return nil, err
		}
		p = do

	case coredns.ProviderHetzner:
		p = NewHetznerProvisioner(creds, o, logger)

	case coredns.ProviderRoute53:
		r53, err := NewRoute53Provisioner(creds, o, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid Route 53 credentials: %w", err)
		}
		p = r53

	case coredns.ProviderMemory:
		p = NewMemoryProvisioner()

	default:
		return nil, fmt.Errorf("%w: %s", coredns.ErrUnknownProvider, provider)
	}

	if o.RateLimit > 0 {
		p = RateLimited(p, rate.NewLimiter(rate.Limit(o.RateLimit), o.Burst))
	}
	return p, nil
}

// =============================================================================
// Factory
// =============================================================================

// Factory builds provisioners on demand. Limiters are shared per provider and
// zone so per-request provisioners for the same donor draw from one bucket,
// and every memory provisioner shares one record set.
type Factory struct {
	logger *slog.Logger
	opts   []Option

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	memory   *MemoryProvisioner
}

// NewFactory creates a factory applying opts to every provisioner it builds.
func NewFactory(logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger:   logger.With("component", "dns"),
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		memory:   NewMemoryProvisioner(),
	}
}

// New builds a provisioner bound to creds.
func (f *Factory) New(provider string, creds Credentials) (Provisioner, error) {
	if provider == coredns.ProviderMemory {
		return f.memory, nil
	}

	o := buildOptions(f.opts)
	// Limiting is applied below with the shared limiter.
	opts := append(append([]Option{}, f.opts...), WithRateLimit(0, 0))
	p, err := New(provider, creds, f.logger, opts...)
	if err != nil {
		return nil, err
	}
	if o.RateLimit <= 0 {
		return p, nil
	}
	return RateLimited(p, f.limiter(provider+"/"+creds.ZoneID, o)), nil
}

// Memory returns the shared in-memory provisioner.
func (f *Factory) Memory() *MemoryProvisioner {
	return f.memory
}

func (f *Factory) limiter(key string, o Options) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(o.RateLimit), o.Burst)
		f.limiters[key] = l
	}
	return l
}

// =============================================================================
// Rate Limiting
// =============================================================================

type rateLimited struct {
	next    Provisioner
	limiter *rate.Limiter
}

// RateLimited wraps p so every call first waits for a token from limiter.
func RateLimited(p Provisioner, limiter *rate.Limiter) Provisioner {
	return &rateLimited{next: p, limiter: limiter}
}

func (r *rateLimited) CreateRecord(ctx context.Context, subdomain, domain, target, zoneID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return r.next.CreateRecord(ctx, subdomain, domain, target, zoneID)
}

func (r *rateLimited) DeleteRecord(ctx context.Context, subdomain, domain, zoneID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DeleteRecord(ctx, subdomain, domain, zoneID)
}

func (r *rateLimited) IsAvailable(ctx context.Context, subdomain, domain, zoneID string) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.IsAvailable(ctx, subdomain, domain, zoneID)
}

func (r *rateLimited) VerifyZone(ctx context.Context, zoneID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return r.next.VerifyZone(ctx, zoneID)
}

// zoneOr returns zoneID, falling back to the bound zone.
func zoneOr(zoneID, bound string) string {
	if zoneID != "" {
		return zoneID
	}
	return bound
}
