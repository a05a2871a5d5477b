package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Deployment Creation Tests
// =============================================================================

func TestNewPageDeployment_ValidInput(t *testing.T) {
	d, err := NewPageDeployment("page-1", 3)
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "page-1", d.PageID)
	assert.Equal(t, DeploymentPending, d.Status)
	assert.Equal(t, 3, d.FileChangeCount)
	assert.NotZero(t, d.StartedAt)
	assert.Nil(t, d.CompletedAt)
}

func TestNewPageDeployment_MissingPage(t *testing.T) {
	_, err := NewPageDeployment("", 1)
	assert.ErrorIs(t, err, ErrPageIDRequired)
}

// =============================================================================
// Status Transition Tests
// =============================================================================

func TestValidateDeploymentTransition(t *testing.T) {
	tests := []struct {
		from    DeploymentStatus
		to      DeploymentStatus
		allowed bool
	}{
		{DeploymentPending, DeploymentBuilding, true},
		{DeploymentBuilding, DeploymentDeployed, true},
		{DeploymentBuilding, DeploymentFailed, true},
		{DeploymentPending, DeploymentDeployed, false},
		{DeploymentPending, DeploymentFailed, false},
		{DeploymentDeployed, DeploymentFailed, false},
		{DeploymentFailed, DeploymentBuilding, false},
		{DeploymentStatus("bogus"), DeploymentBuilding, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateDeploymentTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestPageDeployment_Complete(t *testing.T) {
	d, err := NewPageDeployment("page-1", 1)
	require.NoError(t, err)
	require.NoError(t, d.Transition(DeploymentBuilding))

	require.NoError(t, d.Complete("abc123"))
	assert.Equal(t, DeploymentDeployed, d.Status)
	assert.Equal(t, "abc123", d.CommitRef)
	assert.NotNil(t, d.CompletedAt)
}

func TestPageDeployment_CompleteFromPending(t *testing.T) {
	d, err := NewPageDeployment("page-1", 1)
	require.NoError(t, err)

	assert.ErrorIs(t, d.Complete("abc123"), ErrInvalidTransition)
	assert.Equal(t, DeploymentPending, d.Status)
}

func TestPageDeployment_FailFromPending(t *testing.T) {
	d, err := NewPageDeployment("page-1", 1)
	require.NoError(t, err)

	require.NoError(t, d.Fail("stale"))
	assert.Equal(t, DeploymentFailed, d.Status)
	assert.Equal(t, "stale", d.ErrorMessage)
	assert.NotNil(t, d.CompletedAt)
}

func TestPageDeployment_FailTwice(t *testing.T) {
	d, err := NewPageDeployment("page-1", 1)
	require.NoError(t, err)
	require.NoError(t, d.Fail("first"))

	assert.ErrorIs(t, d.Fail("second"), ErrInvalidTransition)
	assert.Equal(t, "first", d.ErrorMessage)
}

func TestPageDeployment_AppendLog(t *testing.T) {
	d, err := NewPageDeployment("page-1", 1)
	require.NoError(t, err)

	d.AppendLog("repository created")
	d.AppendLog("files uploaded")

	assert.Contains(t, d.BuildLog, "repository created")
	assert.Contains(t, d.BuildLog, "\n")
	assert.Contains(t, d.BuildLog, "files uploaded")
}
