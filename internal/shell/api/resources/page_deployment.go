package resources

import (
	"net/http"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
)

// PageDeployment is the JSON:API view of one publish attempt.
type PageDeployment struct {
	ID              string     `json:"-"`
	PageID          string     `json:"page_id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CommitRef       string     `json:"commit_ref,omitempty"`
	FileChangeCount int        `json:"file_change_count"`
	BuildLog        string     `json:"build_log,omitempty"`
}

// GetID returns the deployment ID for JSON:API.
func (d PageDeployment) GetID() string {
	return d.ID
}

// SetID sets the deployment ID for JSON:API.
func (d *PageDeployment) SetID(id string) error {
	d.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (d PageDeployment) GetName() string {
	return "page_deployments"
}

// PageDeploymentFromDomain converts a domain deployment.
func PageDeploymentFromDomain(d *domain.PageDeployment) PageDeployment {
	return PageDeployment{
		ID:              d.ID,
		PageID:          d.PageID,
		Status:          string(d.Status),
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		ErrorMessage:    d.ErrorMessage,
		CommitRef:       d.CommitRef,
		FileChangeCount: d.FileChangeCount,
		BuildLog:        d.BuildLog,
	}
}

// PageDeploymentResource serves /api/v1/page_deployments. It is read-only.
type PageDeploymentResource struct {
	Pages PageService
}

// NewPageDeploymentResource creates a deployment resource.
func NewPageDeploymentResource(pages PageService) *PageDeploymentResource {
	return &PageDeploymentResource{Pages: pages}
}

// FindAll lists the deployments of one page, newest first.
// GET /api/v1/page_deployments?filter[page_id]={id}
func (r PageDeploymentResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	pageID := first(req, "filter[page_id]")
	if pageID == "" {
		return fail(apperr.Validation("filter[page_id] is required"))
	}

	ctx := req.PlainRequest.Context()
	opts := listOptions(req)
	deployments, err := r.Pages.Deployments(ctx, auth.FromContext(ctx), pageID, opts)
	if err != nil {
		return fail(err)
	}

	result := make([]PageDeployment, 0, len(deployments))
	for i := range deployments {
		result = append(result, PageDeploymentFromDomain(&deployments[i]))
	}
	return &Response{Code: http.StatusOK, Res: result, Meta: listMeta(len(result), opts)}, nil
}

// FindOne returns a deployment of one of the caller's pages.
// GET /api/v1/page_deployments/{id}
func (r PageDeploymentResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()
	d, err := r.Pages.Deployment(ctx, auth.FromContext(ctx), id)
	if err != nil {
		return fail(err)
	}
	return &Response{Code: http.StatusOK, Res: PageDeploymentFromDomain(d)}, nil
}
