package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Page Errors
// =============================================================================

var (
	ErrTitleRequired     = errors.New("title is required")
	ErrSubdomainRequired = errors.New("subdomain is required")
	ErrDomainRequired    = errors.New("domain is required")
	ErrOwnerRequired     = errors.New("owner is required")
	ErrPageInProgress    = errors.New("page is still being created")
	ErrPageDisabled      = errors.New("page is disabled")
)

// =============================================================================
// Page Status
// =============================================================================

type PageStatus string

const (
	PageCreating PageStatus = "creating"
	PageActive   PageStatus = "active"
	PageError    PageStatus = "error"
	PageDisabled PageStatus = "disabled"
)

// validPageTransitions defines the allowed page status transitions.
// A page leaves creating exactly once; disabled is the soft-delete state.
var validPageTransitions = map[PageStatus][]PageStatus{
	PageCreating: {PageActive, PageError},
	PageActive:   {PageDisabled},
	PageError:    {PageDisabled},
	PageDisabled: {}, // Terminal state
}

// ValidatePageTransition checks if a page status transition is valid.
func ValidatePageTransition(from, to PageStatus) error {
	allowed, exists := validPageTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// Metadata keys written by the pipeline and workers.
const (
	MetaFailedStage        = "failed_stage"
	MetaFailureReason      = "failure_reason"
	MetaFailedAt           = "failed_at"
	MetaCompensations      = "compensations"
	MetaCompensationErrors = "compensation_errors"
	MetaDNSVerifiedAt      = "dns_verified_at"
	MetaDNSLastError       = "dns_last_error"
	MetaDisabledAt         = "disabled_at"
)

// =============================================================================
// UserPage
// =============================================================================

// UserPage is a published static site reachable at Subdomain.Domain.
type UserPage struct {
	ID                 string            `json:"id"`
	OwnerID            int               `json:"owner_id"`
	Title              string            `json:"title"`
	Subdomain          string            `json:"subdomain"`
	Domain             string            `json:"domain"`
	FullDomain         string            `json:"full_domain"`
	RepoRef            string            `json:"repo_ref,omitempty"`
	RepoURL            string            `json:"repo_url,omitempty"`
	HostingURL         string            `json:"hosting_url,omitempty"`
	CustomURL          string            `json:"custom_url,omitempty"`
	Status             PageStatus        `json:"status"`
	DeploymentStatus   DeploymentStatus  `json:"deployment_status"`
	FileCount          int               `json:"file_count"`
	RepoSizeBytes      int64             `json:"repo_size_bytes"`
	DonatedDomainID    *string           `json:"donated_domain_id,omitempty"`
	UsingDonatedDomain bool              `json:"using_donated_domain"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewUserPage creates a page in the creating state. donatedDomainID is nil
// for platform-owned domains.
func NewUserPage(ownerID int, title, subdomain, domainName string, donatedDomainID *string) (*UserPage, error) {
	if ownerID == 0 {
		return nil, ErrOwnerRequired
	}
	if title == "" {
		return nil, ErrTitleRequired
	}
	if subdomain == "" {
		return nil, ErrSubdomainRequired
	}
	if domainName == "" {
		return nil, ErrDomainRequired
	}

	now := time.Now().UTC()
	return &UserPage{
		ID:                 uuid.New().String(),
		OwnerID:            ownerID,
		Title:              title,
		Subdomain:          subdomain,
		Domain:             domainName,
		FullDomain:         FullDomain(subdomain, domainName),
		Status:             PageCreating,
		DeploymentStatus:   DeploymentPending,
		DonatedDomainID:    donatedDomainID,
		UsingDonatedDomain: donatedDomainID != nil,
		Metadata:           map[string]string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// FullDomain joins a subdomain and its parent domain.
func FullDomain(subdomain, domainName string) string {
	return fmt.Sprintf("%s.%s", subdomain, domainName)
}

// CustomURL returns the public https URL for a subdomain.
func CustomURL(subdomain, domainName string) string {
	return "https://" + FullDomain(subdomain, domainName)
}

// Transition moves the page to a new status.
func (p *UserPage) Transition(to PageStatus) error {
	if err := ValidatePageTransition(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionDeployment moves the page's deployment status.
func (p *UserPage) TransitionDeployment(to DeploymentStatus) error {
	if err := ValidateDeploymentTransition(p.DeploymentStatus, to); err != nil {
		return err
	}
	p.DeploymentStatus = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkActive records a successful publish.
func (p *UserPage) MarkActive(hostingURL, customURL string) error {
	if err := p.TransitionDeployment(DeploymentDeployed); err != nil {
		return err
	}
	if err := p.Transition(PageActive); err != nil {
		return err
	}
	p.HostingURL = hostingURL
	p.CustomURL = customURL
	return nil
}

// MarkFailed records a failed publish at the given stage.
func (p *UserPage) MarkFailed(stage, reason string) error {
	if p.DeploymentStatus == DeploymentPending {
		if err := p.TransitionDeployment(DeploymentBuilding); err != nil {
			return err
		}
	}
	if err := p.TransitionDeployment(DeploymentFailed); err != nil {
		return err
	}
	if err := p.Transition(PageError); err != nil {
		return err
	}
	p.SetMeta(MetaFailedStage, stage)
	p.SetMeta(MetaFailureReason, reason)
	p.SetMeta(MetaFailedAt, p.UpdatedAt.Format(time.RFC3339))
	return nil
}

// Disable soft-deletes the page, releasing its name.
func (p *UserPage) Disable() error {
	switch p.Status {
	case PageCreating:
		return ErrPageInProgress
	case PageDisabled:
		return ErrPageDisabled
	}
	if err := p.Transition(PageDisabled); err != nil {
		return err
	}
	p.SetMeta(MetaDisabledAt, p.UpdatedAt.Format(time.RFC3339))
	return nil
}

// SetMeta sets a metadata key, allocating the map if needed.
func (p *UserPage) SetMeta(key, value string) {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata[key] = value
}

// IsClaimed reports whether the page holds its subdomain.
func (p *UserPage) IsClaimed() bool {
	return p.Status != PageDisabled
}
