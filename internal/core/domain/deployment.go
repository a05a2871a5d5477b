package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPageIDRequired    = errors.New("page ID is required")
)

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus is shared by PageDeployment.Status and UserPage.DeploymentStatus.
type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentBuilding DeploymentStatus = "building"
	DeploymentDeployed DeploymentStatus = "deployed"
	DeploymentFailed   DeploymentStatus = "failed"
)

// =============================================================================
// State Machine
// =============================================================================

// validDeploymentTransitions defines the allowed deployment status transitions.
var validDeploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentPending:  {DeploymentBuilding},
	DeploymentBuilding: {DeploymentDeployed, DeploymentFailed},
	DeploymentDeployed: {}, // Terminal state
	DeploymentFailed:   {}, // Terminal state
}

// ValidateDeploymentTransition checks if a deployment status transition is valid.
func ValidateDeploymentTransition(from, to DeploymentStatus) error {
	allowed, exists := validDeploymentTransitions[from]
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

// IsTerminal reports whether no further transitions are possible.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentDeployed || s == DeploymentFailed
}

// =============================================================================
// PageDeployment
// =============================================================================

// PageDeployment records one publish attempt for a page.
type PageDeployment struct {
	ID              string           `json:"id"`
	PageID          string           `json:"page_id"`
	Status          DeploymentStatus `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CommitRef       string           `json:"commit_ref,omitempty"`
	FileChangeCount int              `json:"file_change_count"`
	BuildLog        string           `json:"build_log,omitempty"`
}

// NewPageDeployment creates a pending deployment for the given page.
func NewPageDeployment(pageID string, fileCount int) (*PageDeployment, error) {
	if pageID == "" {
		return nil, ErrPageIDRequired
	}
	return &PageDeployment{
		ID:              uuid.New().String(),
		PageID:          pageID,
		Status:          DeploymentPending,
		StartedAt:       time.Now().UTC(),
		FileChangeCount: fileCount,
	}, nil
}

// Transition moves the deployment to a new status, stamping CompletedAt
// when the new status is terminal.
func (d *PageDeployment) Transition(to DeploymentStatus) error {
	if err := ValidateDeploymentTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	if to.IsTerminal() {
		now := time.Now().UTC()
		d.CompletedAt = &now
	}
	return nil
}

// Complete marks the deployment as deployed at the given commit.
func (d *PageDeployment) Complete(commitRef string) error {
	if err := d.Transition(DeploymentDeployed); err != nil {
		return err
	}
	d.CommitRef = commitRef
	return nil
}

// Fail marks the deployment as failed. A pending deployment is first moved
// through building so the recorded history stays within the state machine.
func (d *PageDeployment) Fail(message string) error {
	if d.Status == DeploymentPending {
		if err := d.Transition(DeploymentBuilding); err != nil {
			return err
		}
	}
	if err := d.Transition(DeploymentFailed); err != nil {
		return err
	}
	d.ErrorMessage = message
	return nil
}

// AppendLog adds a line to the build log.
func (d *PageDeployment) AppendLog(line string) {
	if d.BuildLog != "" {
		d.BuildLog += "\n"
	}
	d.BuildLog += time.Now().UTC().Format(time.RFC3339) + " " + line
}
