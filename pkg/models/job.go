package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Job Types
// ============================================================================

// JobType identifies the kind of pipeline work a job carries.
type JobType string

const (
	JobTypeExtractContent JobType = "EXTRACT_CONTENT"
	JobTypeEnrichChunks   JobType = "ENRICH_CHUNKS"
)

// ValidJobTypes contains all valid job type values.
var ValidJobTypes = []JobType{
	JobTypeExtractContent,
	JobTypeEnrichChunks,
}

// IsValidJobType checks if the given type is valid.
func IsValidJobType(t JobType) bool {
	for _, v := range ValidJobTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// Job Status
// ============================================================================

// JobStatus is a job's position in its lifecycle.
// State machine:
//
//	PENDING → IN_PROGRESS → SUCCEEDED
//	                      → PENDING (retry, attempts < max)
//	                      → FAILED  (dead-letter, terminal)
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
)

// ValidJobStatuses contains all valid status values.
var ValidJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusSucceeded,
	JobStatusFailed,
}

// IsTerminal returns true for SUCCEEDED and FAILED; no job ever leaves
// those states.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransitionTo returns true if moving from this status to the target is
// a valid lifecycle step.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusInProgress
	case JobStatusInProgress:
		return target == JobStatusSucceeded ||
			target == JobStatusFailed ||
			target == JobStatusPending
	case JobStatusSucceeded, JobStatusFailed:
		return false
	default:
		return false
	}
}

// ============================================================================
// Job Model
// ============================================================================

// Job is a durable work item. Created by the orchestrator, mutated only by
// the scheduler or the worker that currently holds its lease.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	JobType        JobType    `json:"job_type"`
	FileID         *uuid.UUID `json:"file_id,omitempty"`
	DocumentID     *uuid.UUID `json:"document_id,omitempty"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JobCounts aggregates job totals by status for one job type. Used by
// operational dashboards.
type JobCounts struct {
	JobType    JobType `json:"job_type"`
	Pending    int     `json:"pending"`
	InProgress int     `json:"in_progress"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
}
