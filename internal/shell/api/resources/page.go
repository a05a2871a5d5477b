package resources

import (
	"context"
	"net/http"
	"time"

	"github.com/manyminds/api2go"
	"github.com/manyminds/api2go/jsonapi"

	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/shell/store"
)

// PageService is the page side of the orchestrator.
type PageService interface {
	Get(ctx context.Context, identity auth.Context, pageID string) (*domain.UserPage, error)
	List(ctx context.Context, identity auth.Context, opts store.ListOptions) ([]domain.UserPage, error)
	Delete(ctx context.Context, identity auth.Context, pageID string) error
	Deployments(ctx context.Context, identity auth.Context, pageID string, opts store.ListOptions) ([]domain.PageDeployment, error)
	Deployment(ctx context.Context, identity auth.Context, deploymentID string) (*domain.PageDeployment, error)
}

// =============================================================================
// Page JSON:API Model
// =============================================================================

// Page is the JSON:API view of a published page.
type Page struct {
	ID                 string            `json:"-"`
	Title              string            `json:"title"`
	Subdomain          string            `json:"subdomain"`
	Domain             string            `json:"domain"`
	FullDomain         string            `json:"full_domain"`
	RepoURL            string            `json:"repo_url,omitempty"`
	HostingURL         string            `json:"hosting_url,omitempty"`
	CustomURL          string            `json:"custom_url,omitempty"`
	Status             string            `json:"status"`
	DeploymentStatus   string            `json:"deployment_status"`
	FileCount          int               `json:"file_count"`
	RepoSizeBytes      int64             `json:"repo_size_bytes"`
	DonatedDomainID    *string           `json:"donated_domain_id,omitempty"`
	UsingDonatedDomain bool              `json:"using_donated_domain"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// GetID returns the page ID for JSON:API.
func (p Page) GetID() string {
	return p.ID
}

// SetID sets the page ID for JSON:API.
func (p *Page) SetID(id string) error {
	p.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (p Page) GetName() string {
	return "pages"
}

// GetReferences declares the deployments relationship.
func (p Page) GetReferences() []jsonapi.Reference {
	return []jsonapi.Reference{{Type: "page_deployments", Name: "deployments"}}
}

// GetReferencedIDs returns nothing; deployments are fetched with filter[page_id].
func (p Page) GetReferencedIDs() []jsonapi.ReferenceID {
	return nil
}

// PageFromDomain converts a domain page.
func PageFromDomain(p *domain.UserPage) Page {
	return Page{
		ID:                 p.ID,
		Title:              p.Title,
		Subdomain:          p.Subdomain,
		Domain:             p.Domain,
		FullDomain:         p.FullDomain,
		RepoURL:            p.RepoURL,
		HostingURL:         p.HostingURL,
		CustomURL:          p.CustomURL,
		Status:             string(p.Status),
		DeploymentStatus:   string(p.DeploymentStatus),
		FileCount:          p.FileCount,
		RepoSizeBytes:      p.RepoSizeBytes,
		DonatedDomainID:    p.DonatedDomainID,
		UsingDonatedDomain: p.UsingDonatedDomain,
		Metadata:           p.Metadata,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// =============================================================================
// PageResource
// =============================================================================

// PageResource serves /api/v1/pages. Pages are created through the publish
// endpoint, so Create and Update are not implemented.
type PageResource struct {
	Pages PageService
}

// NewPageResource creates a page resource.
func NewPageResource(pages PageService) *PageResource {
	return &PageResource{Pages: pages}
}

// FindAll returns the caller's pages.
// GET /api/v1/pages
func (r PageResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	opts := listOptions(req)

	pages, err := r.Pages.List(ctx, auth.FromContext(ctx), opts)
	if err != nil {
		return fail(err)
	}

	result := make([]Page, 0, len(pages))
	for i := range pages {
		result = append(result, PageFromDomain(&pages[i]))
	}
	return &Response{Code: http.StatusOK, Res: result, Meta: listMeta(len(result), opts)}, nil
}

// FindOne returns one of the caller's pages.
// GET /api/v1/pages/{id}
func (r PageResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	page, err := r.Pages.Get(ctx, auth.FromContext(ctx), id)
	if err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusOK, Res: PageFromDomain(page)}, nil
}

// Delete disables a page and releases its name.
// DELETE /api/v1/pages/{id}
func (r PageResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	if err := r.Pages.Delete(ctx, auth.FromContext(ctx), id); err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusNoContent}, nil
}
