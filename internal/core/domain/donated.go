package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Donated Domain Errors
// =============================================================================

var (
	ErrDomainNameRequired   = errors.New("domain name is required")
	ErrDonorRequired        = errors.New("donor is required")
	ErrZoneRequired         = errors.New("DNS zone ID is required")
	ErrTokenRequired        = errors.New("DNS API token is required")
	ErrInvalidMaxSubdomains = errors.New("max subdomains must be at least 1")
	ErrMaxBelowCurrent      = errors.New("max subdomains cannot be lower than subdomains in use")
)

// DefaultDNSProvider is used when a donor does not name one.
const DefaultDNSProvider = "cloudflare"

// =============================================================================
// DonatedDomain
// =============================================================================

// DonatedDomain is a third-party domain whose DNS zone is lent to the platform.
// The API token is only ever held encrypted.
type DonatedDomain struct {
	ID                   string    `json:"id"`
	DomainName           string    `json:"domain_name"`
	DonorID              int       `json:"donor_id"`
	DNSProvider          string    `json:"dns_provider"`
	DNSZoneID            string    `json:"dns_zone_id"`
	DNSAPITokenEncrypted []byte    `json:"-"`
	IsActive             bool      `json:"is_active"`
	MaxSubdomains        int       `json:"max_subdomains"`
	CurrentSubdomains    int       `json:"current_subdomains"`
	DonationMessage      string    `json:"donation_message,omitempty"`
	ContactEmail         string    `json:"contact_email,omitempty"`
	TermsOfUse           string    `json:"terms_of_use,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewDonatedDomain creates an active domain with no subdomains in use.
func NewDonatedDomain(donorID int, domainName, provider, zoneID string, encryptedToken []byte, maxSubdomains int) (*DonatedDomain, error) {
	domainName = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domainName)), ".")
	if domainName == "" {
		return nil, ErrDomainNameRequired
	}
	if donorID == 0 {
		return nil, ErrDonorRequired
	}
	if zoneID == "" {
		return nil, ErrZoneRequired
	}
	if len(encryptedToken) == 0 {
		return nil, ErrTokenRequired
	}
	if maxSubdomains < 1 {
		return nil, ErrInvalidMaxSubdomains
	}
	if provider == "" {
		provider = DefaultDNSProvider
	}

	now := time.Now().UTC()
	return &DonatedDomain{
		ID:                   uuid.New().String(),
		DomainName:           domainName,
		DonorID:              donorID,
		DNSProvider:          provider,
		DNSZoneID:            zoneID,
		DNSAPITokenEncrypted: encryptedToken,
		IsActive:             true,
		MaxSubdomains:        maxSubdomains,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// HasCapacity reports whether another subdomain fits.
func (d *DonatedDomain) HasCapacity() bool {
	return d.CurrentSubdomains < d.MaxSubdomains
}

// IsAvailable reports whether the domain can accept new reservations.
func (d *DonatedDomain) IsAvailable() bool {
	return d.IsActive && d.HasCapacity()
}

// SetMaxSubdomains changes the capacity limit without dropping below usage.
func (d *DonatedDomain) SetMaxSubdomains(max int) error {
	if max < 1 {
		return ErrInvalidMaxSubdomains
	}
	if max < d.CurrentSubdomains {
		return ErrMaxBelowCurrent
	}
	d.MaxSubdomains = max
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// =============================================================================
// DonatedDomainUsage
// =============================================================================

// DonatedDomainUsage is the reservation of one subdomain on a donated domain.
type DonatedDomainUsage struct {
	ID              string    `json:"id"`
	DonatedDomainID string    `json:"donated_domain_id"`
	PageID          string    `json:"page_id"`
	Subdomain       string    `json:"subdomain"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewDonatedDomainUsage creates a reservation record.
func NewDonatedDomainUsage(donatedDomainID, pageID, subdomain string) *DonatedDomainUsage {
	return &DonatedDomainUsage{
		ID:              uuid.New().String(),
		DonatedDomainID: donatedDomainID,
		PageID:          pageID,
		Subdomain:       subdomain,
		CreatedAt:       time.Now().UTC(),
	}
}
