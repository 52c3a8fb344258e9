package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, JobStatusPending.CanTransitionTo(JobStatusInProgress))
	assert.False(t, JobStatusPending.CanTransitionTo(JobStatusSucceeded))
	assert.False(t, JobStatusPending.CanTransitionTo(JobStatusFailed))

	assert.True(t, JobStatusInProgress.CanTransitionTo(JobStatusSucceeded))
	assert.True(t, JobStatusInProgress.CanTransitionTo(JobStatusFailed))
	assert.True(t, JobStatusInProgress.CanTransitionTo(JobStatusPending))
	assert.False(t, JobStatusInProgress.CanTransitionTo(JobStatusInProgress))

	for _, terminal := range []JobStatus{JobStatusSucceeded, JobStatusFailed} {
		for _, target := range ValidJobStatuses {
			assert.False(t, terminal.CanTransitionTo(target),
				"%s must not transition to %s", terminal, target)
		}
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusInProgress.IsTerminal())
	assert.True(t, JobStatusSucceeded.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestSensitivityLevel_Rank(t *testing.T) {
	assert.Equal(t, 1, SensitivityLow.Rank())
	assert.Equal(t, 2, SensitivityMedium.Rank())
	assert.Equal(t, 3, SensitivityHigh.Rank())
	assert.Equal(t, 0, SensitivityLevel("").Rank())
}

func TestRights_GrantsRead(t *testing.T) {
	assert.True(t, RightsRead.GrantsRead())
	assert.True(t, RightsReadWrite.GrantsRead())
	assert.True(t, RightsFull.GrantsRead())
	assert.False(t, Rights("NONE").GrantsRead())
}
