// Package allocator decides whether a subdomain can be claimed on one of the
// platform-owned domains.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/pagehost/internal/core/apperr"
	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/core/subdomain"
	"github.com/artpar/pagehost/internal/shell/dns"
	"github.com/artpar/pagehost/internal/shell/metrics"
	"github.com/artpar/pagehost/internal/shell/store"
)

// ErrNoPlatformDomains is returned when the allocator is built with no domains.
var ErrNoPlatformDomains = errors.New("at least one platform domain is required")

// PlatformDomain is a domain the platform owns, with the DNS credentials that manage it.
type PlatformDomain struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	ZoneID   string `mapstructure:"zone_id" yaml:"zone_id"`
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
}

// PlatformDomainInfo is the public view of a platform domain.
type PlatformDomainInfo struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// platformDomainsFile is the YAML layout of domains.file.
type platformDomainsFile struct {
	Domains []PlatformDomain `yaml:"domains"`
}

// LoadPlatformDomains reads platform domains from a YAML file. Unknown keys
// are rejected.
func LoadPlatformDomains(path string) ([]PlatformDomain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domains file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var file platformDomainsFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse domains file %s: %w", path, err)
	}
	return file.Domains, nil
}

// ProvisionerFactory builds a DNS provisioner for a platform domain.
type ProvisionerFactory interface {
	New(provider string, creds dns.Credentials) (dns.Provisioner, error)
}

type platformEntry struct {
	domain PlatformDomain
	prov   dns.Provisioner
}

// Allocator is the SubdomainAllocator for platform domains.
type Allocator struct {
	store   store.Store
	domains map[string]platformEntry
	policy  coredns.ProbePolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New validates the platform domains and builds a provisioner for each.
func New(st store.Store, domains []PlatformDomain, factory ProvisionerFactory, policy coredns.ProbePolicy, m *metrics.Metrics, logger *slog.Logger) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(domains) == 0 {
		return nil, ErrNoPlatformDomains
	}

	entries := make(map[string]platformEntry, len(domains))
	for _, d := range domains {
		d.Name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d.Name)), ".")
		if err := coredns.ValidateDomainName(d.Name); err != nil {
			return nil, fmt.Errorf("platform domain %q: %w", d.Name, err)
		}
		if d.Provider == "" {
			d.Provider = coredns.ProviderCloudflare
		}
		if _, dup := entries[d.Name]; dup {
			return nil, fmt.Errorf("platform domain %q listed twice", d.Name)
		}
		prov, err := factory.New(d.Provider, dns.Credentials{ZoneID: d.ZoneID, APIToken: d.APIToken})
		if err != nil {
			return nil, fmt.Errorf("platform domain %q: %w", d.Name, err)
		}
		entries[d.Name] = platformEntry{domain: d, prov: prov}
	}

	return &Allocator{
		store:   st,
		domains: entries,
		policy:  policy,
		metrics: m,
		logger:  logger.With("component", "allocator"),
	}, nil
}

// ValidateSyntax checks a subdomain label.
func (a *Allocator) ValidateSyntax(name string) error {
	if err := subdomain.ValidateSyntax(name); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return nil
}

// CheckAvailability reports whether sub is free on a platform domain: no
// live page holds it and no stray DNS record exists. A failed DNS probe is
// resolved by the probe policy.
func (a *Allocator) CheckAvailability(ctx context.Context, sub, domainName string) (bool, error) {
	entry, err := a.lookup(domainName)
	if err != nil {
		return false, err
	}
	sub = subdomain.Normalize(sub)

	_, err = a.store.FindClaimedPage(ctx, sub, entry.domain.Name)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, store.Classify(err, "failed to check subdomain")
	}

	available, probeErr := entry.prov.IsAvailable(ctx, sub, entry.domain.Name, entry.domain.ZoneID)
	if probeErr != nil {
		a.metrics.ObserveProbeError(string(a.policy))
		a.logger.Warn("DNS probe failed",
			"subdomain", sub,
			"domain", entry.domain.Name,
			"policy", a.policy,
			"error", probeErr,
		)
	}
	available, err = a.policy.Apply(available, probeErr)
	if err != nil {
		return false, apperr.Downstream("dns_probe", "DNS availability probe failed", err)
	}
	return available, nil
}

// Provisioner returns the DNS provisioner and zone for a platform domain.
func (a *Allocator) Provisioner(domainName string) (dns.Provisioner, string, error) {
	entry, err := a.lookup(domainName)
	if err != nil {
		return nil, "", err
	}
	return entry.prov, entry.domain.ZoneID, nil
}

// IsPlatformDomain reports whether domainName is configured.
func (a *Allocator) IsPlatformDomain(domainName string) bool {
	_, err := a.lookup(domainName)
	return err == nil
}

// PlatformDomains lists the configured domains without credentials.
func (a *Allocator) PlatformDomains() []PlatformDomainInfo {
	out := make([]PlatformDomainInfo, 0, len(a.domains))
	for _, e := range a.domains {
		out = append(out, PlatformDomainInfo{Name: e.domain.Name, Provider: e.domain.Provider})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Allocator) lookup(domainName string) (platformEntry, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domainName)), ".")
	entry, ok := a.domains[name]
	if !ok {
		return platformEntry{}, apperr.Validation("%q is not a platform domain", domainName)
	}
	return entry, nil
}
