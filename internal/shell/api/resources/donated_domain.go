package resources

import (
	"context"
	"net/http"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/shell/pool"
)

// DomainPool is the donor-facing side of the donated domain pool.
type DomainPool interface {
	SubmitDomain(ctx context.Context, req pool.SubmitRequest) (*domain.DonatedDomain, error)
	Get(ctx context.Context, domainID string) (*domain.DonatedDomain, error)
	ListAvailable(ctx context.Context) ([]domain.DonatedDomain, error)
	ListByDonor(ctx context.Context, donorID int) ([]domain.DonatedDomain, error)
	UpdateSettings(ctx context.Context, domainID string, donorID int, s pool.Settings) (*domain.DonatedDomain, error)
}

// =============================================================================
// DonatedDomain JSON:API Model
// =============================================================================

// DonatedDomain is the JSON:API view of a donated domain. DNSAPIToken is
// accepted on create and update and never returned.
type DonatedDomain struct {
	ID                string    `json:"-"`
	DomainName        string    `json:"domain_name"`
	DonorID           int       `json:"donor_id"`
	DNSProvider       string    `json:"dns_provider"`
	DNSZoneID         string    `json:"dns_zone_id"`
	DNSAPIToken       string    `json:"dns_api_token,omitempty"`
	IsActive          bool      `json:"is_active"`
	MaxSubdomains     int       `json:"max_subdomains"`
	CurrentSubdomains int       `json:"current_subdomains"`
	DonationMessage   string    `json:"donation_message,omitempty"`
	ContactEmail      string    `json:"contact_email,omitempty"`
	TermsOfUse        string    `json:"terms_of_use,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetID returns the domain ID for JSON:API.
func (d DonatedDomain) GetID() string {
	return d.ID
}

// SetID sets the domain ID for JSON:API.
func (d *DonatedDomain) SetID(id string) error {
	d.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (d DonatedDomain) GetName() string {
	return "donated_domains"
}

// DonatedDomainFromDomain converts a domain donated domain. The token is
// never copied.
func DonatedDomainFromDomain(d *domain.DonatedDomain) DonatedDomain {
	return DonatedDomain{
		ID:                d.ID,
		DomainName:        d.DomainName,
		DonorID:           d.DonorID,
		DNSProvider:       d.DNSProvider,
		DNSZoneID:         d.DNSZoneID,
		IsActive:          d.IsActive,
		MaxSubdomains:     d.MaxSubdomains,
		CurrentSubdomains: d.CurrentSubdomains,
		DonationMessage:   d.DonationMessage,
		ContactEmail:      d.ContactEmail,
		TermsOfUse:        d.TermsOfUse,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// =============================================================================
// DonatedDomainResource
// =============================================================================

// DonatedDomainResource serves /api/v1/donated_domains. There is no Delete;
// donors deactivate with the toggle action.
type DonatedDomainResource struct {
	Pool DomainPool
}

// NewDonatedDomainResource creates a donated domain resource.
func NewDonatedDomainResource(p DomainPool) *DonatedDomainResource {
	return &DonatedDomainResource{Pool: p}
}

// FindAll returns domains open for use, or the caller's own with filter[mine]=true.
// GET /api/v1/donated_domains
func (r DonatedDomainResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	var (
		list []domain.DonatedDomain
		err  error
	)
	if first(req, "filter[mine]") == "true" {
		identity := auth.FromContext(ctx)
		if ok, msg := auth.RequireAuthentication(identity); !ok {
			return fail(apperr.Auth("%s", msg))
		}
		list, err = r.Pool.ListByDonor(ctx, identity.UserID)
	} else {
		list, err = r.Pool.ListAvailable(ctx)
	}
	if err != nil {
		return fail(err)
	}

	result := make([]DonatedDomain, 0, len(list))
	for i := range list {
		result = append(result, DonatedDomainFromDomain(&list[i]))
	}
	return &Response{Code: http.StatusOK, Res: result, Meta: map[string]any{"total": len(result)}}, nil
}

// FindOne returns a donated domain.
// GET /api/v1/donated_domains/{id}
func (r DonatedDomainResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	d, err := r.Pool.Get(req.PlainRequest.Context(), id)
	if err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusOK, Res: DonatedDomainFromDomain(d)}, nil
}

// Create submits a domain for donation.
// POST /api/v1/donated_domains
func (r DonatedDomainResource) Create(obj any, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	identity := auth.FromContext(ctx)
	if !auth.CanDonateDomain(identity) {
		return fail(apperr.Auth("authentication required to donate a domain"))
	}

	in, ok := obj.(DonatedDomain)
	if !ok {
		return fail(apperr.Validation("invalid request body"))
	}

	d, err := r.Pool.SubmitDomain(ctx, pool.SubmitRequest{
		DonorID:         identity.UserID,
		DomainName:      in.DomainName,
		Provider:        in.DNSProvider,
		ZoneID:          in.DNSZoneID,
		APIToken:        in.DNSAPIToken,
		MaxSubdomains:   in.MaxSubdomains,
		DonationMessage: in.DonationMessage,
		ContactEmail:    in.ContactEmail,
		TermsOfUse:      in.TermsOfUse,
	})
	if err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusCreated, Res: DonatedDomainFromDomain(d)}, nil
}

// Update changes donor settings. A non-empty dns_api_token rotates the token.
// PATCH /api/v1/donated_domains/{id}
func (r DonatedDomainResource) Update(obj any, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	identity := auth.FromContext(ctx)
	if ok, msg := auth.RequireAuthentication(identity); !ok {
		return fail(apperr.Auth("%s", msg))
	}

	in, ok := obj.(DonatedDomain)
	if !ok {
		return fail(apperr.Validation("invalid request body"))
	}

	settings := pool.Settings{
		MaxSubdomains:   &in.MaxSubdomains,
		DonationMessage: &in.DonationMessage,
		ContactEmail:    &in.ContactEmail,
		TermsOfUse:      &in.TermsOfUse,
	}
	if in.DNSAPIToken != "" {
		settings.APIToken = &in.DNSAPIToken
	}

	d, err := r.Pool.UpdateSettings(ctx, in.ID, identity.UserID, settings)
	if err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusOK, Res: DonatedDomainFromDomain(d)}, nil
}
