// Package dns contains pure functions for DNS naming, probe policy and
// propagation checks.
// This is part of the Functional Core - all functions are pure with no I/O.
package dns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidHostname    = errors.New("invalid hostname format")
	ErrHostnameTooLong    = errors.New("hostname must be under 253 characters")
	ErrUnknownProvider    = errors.New("unknown DNS provider")
	ErrUnknownProbePolicy = errors.New("unknown probe policy")
)

// =============================================================================
// Record Shape
// =============================================================================

const (
	// RecordTypeCNAME is the only record type the platform writes.
	RecordTypeCNAME = "CNAME"

	// RecordTTL is the TTL of every record the platform writes.
	RecordTTL = 300
)

// Record is a single DNS record as seen by the platform.
type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
	TTL     int
}

// FQDN returns the fully-qualified record name for a subdomain.
func FQDN(subdomain, domainName string) string {
	return strings.ToLower(subdomain + "." + strings.TrimSuffix(domainName, "."))
}

// MatchesName reports whether a provider-returned name refers to fqdn.
// Providers differ on trailing dots and case.
func MatchesName(name, fqdn string) bool {
	return strings.EqualFold(strings.TrimSuffix(name, "."), strings.TrimSuffix(fqdn, "."))
}

// =============================================================================
// Validation
// =============================================================================

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidateDomainName validates a hostname format for use as a donated or
// platform domain.
func ValidateDomainName(hostname string) error {
	hostname = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(hostname)), ".")
	if hostname == "" {
		return ErrInvalidHostname
	}
	if len(hostname) > 253 {
		return ErrHostnameTooLong
	}
	if !hostnameRegex.MatchString(hostname) {
		return ErrInvalidHostname
	}
	return nil
}

// =============================================================================
// Providers
// =============================================================================

const (
	ProviderCloudflare   = "cloudflare"
	ProviderDigitalOcean = "digitalocean"
	ProviderHetzner      = "hetzner"
	ProviderRoute53      = "route53"
	ProviderMemory       = "memory"
)

// ValidateProvider checks a provider name. memory is accepted only when
// allowMemory is set.
func ValidateProvider(name string, allowMemory bool) error {
	switch name {
	case ProviderCloudflare, ProviderDigitalOcean, ProviderHetzner, ProviderRoute53:
		return nil
	case ProviderMemory:
		if allowMemory {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// =============================================================================
// Probe Policy
// =============================================================================

// ProbePolicy decides what an availability check reports when the DNS
// probe itself fails.
type ProbePolicy string

const (
	// FailOpen reports the name available and leaves the datastore
	// constraints to catch a real clash.
	FailOpen ProbePolicy = "fail-open"

	// FailClosed surfaces the probe error to the caller.
	FailClosed ProbePolicy = "fail-closed"
)

// ParseProbePolicy parses a configured policy. Empty means FailOpen.
func ParseProbePolicy(s string) (ProbePolicy, error) {
	switch ProbePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProbePolicy, s)
}

// Apply combines a probe outcome with the policy. When probeErr is nil the
// probe result is returned unchanged.
func (p ProbePolicy) Apply(available bool, probeErr error) (bool, error) {
	if probeErr == nil {
		return available, nil
	}
	if p == FailClosed {
		return false, probeErr
	}
	return true, nil
}

// =============================================================================
// Propagation
// =============================================================================

// VerificationInput contains DNS lookup results passed from the shell layer.
type VerificationInput struct {
	Hostname     string
	CNAMERecords []string
	LookupError  string
}

// VerificationResult is the pure output of verification logic.
type VerificationResult struct {
	Verified bool
	Error    string
}

// Verify checks whether a hostname's CNAME points at the hosting target.
func Verify(input VerificationInput, expectedTarget string) VerificationResult {
	if input.LookupError != "" {
		return VerificationResult{
			Verified: false,
			Error:    "DNS lookup failed: " + input.LookupError,
		}
	}

	for _, cname := range input.CNAMERecords {
		if MatchesName(cname, expectedTarget) {
			return VerificationResult{Verified: true}
		}
	}

	return VerificationResult{
		Verified: false,
		Error:    "CNAME does not point to " + expectedTarget,
	}
}
