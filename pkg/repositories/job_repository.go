package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/topos-sec/topos-engine/pkg/apperrors"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
)

// JobRepository is the durable work-item store. Claiming is the only
// contended path: the claim statement locks the selected row so no two
// workers can ever hold the same job.
type JobRepository interface {
	// Enqueue inserts a PENDING job unless an open (PENDING or IN_PROGRESS)
	// job of the same type already targets the same file/document; returns
	// true when a row was inserted.
	Enqueue(ctx context.Context, job *models.Job) (bool, error)

	// ClaimNext atomically selects the oldest PENDING job of one of the
	// given types, transitions it to IN_PROGRESS, and records a lease.
	// Returns nil when no job is available. Requires an unscoped connection
	// (database.WithoutTenant) since workers serve every tenant.
	ClaimNext(ctx context.Context, types []models.JobType, lease time.Duration) (*models.Job, error)

	// Complete transitions a claimed job to SUCCEEDED.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records the error and either returns the job to PENDING or
	// dead-letters it to FAILED once attempts reach maxAttempts. Returns
	// the resulting status.
	Fail(ctx context.Context, id uuid.UUID, jobErr string, maxAttempts int) (models.JobStatus, error)

	// ReclaimExpired returns jobs stuck IN_PROGRESS past their lease to
	// PENDING (or FAILED when the attempt budget is spent), counting the
	// expiry as a failed attempt. Returns how many jobs were swept.
	ReclaimExpired(ctx context.Context, maxAttempts int) (int, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// CountsByType aggregates job totals by status for dashboards.
	CountsByType(ctx context.Context) ([]models.JobCounts, error)

	// ListDeadLettered returns FAILED jobs, newest first, for operator triage.
	ListDeadLettered(ctx context.Context, limit int) ([]*models.Job, error)
}

type jobRepository struct{}

// NewJobRepository creates a new JobRepository.
func NewJobRepository() JobRepository {
	return &jobRepository{}
}

var _ JobRepository = (*jobRepository)(nil)

const jobColumns = `id, tenant_id, job_type, file_id, document_id, status,
	       attempts, last_error, lease_expires_at, created_at, updated_at`

func (r *jobRepository) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	if !models.IsValidJobType(job.JobType) {
		return false, fmt.Errorf("invalid job type %q", job.JobType)
	}

	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	// The NOT EXISTS guard keeps at most one open job per (type, target):
	// the orchestrator never double-enqueues while a prior job for the same
	// target is still PENDING or IN_PROGRESS.
	query := `
		INSERT INTO pipeline_job (id, tenant_id, job_type, file_id, document_id, status, attempts, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, 0, $7, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM pipeline_job
			WHERE tenant_id = $2
			  AND job_type = $3
			  AND file_id IS NOT DISTINCT FROM $4
			  AND document_id IS NOT DISTINCT FROM $5
			  AND status IN ('PENDING', 'IN_PROGRESS')
		)`

	result, err := scope.Q().Exec(ctx, query,
		job.ID, job.TenantID, job.JobType, job.FileID, job.DocumentID,
		job.Status, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *jobRepository) ClaimNext(ctx context.Context, types []models.JobType, lease time.Duration) (*models.Job, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	// FOR UPDATE SKIP LOCKED makes selection-and-transition atomic against
	// concurrent claimants: two workers racing for the head of the queue
	// lock different rows or come away empty. seq is a monotonic insertion
	// counter, so equal-timestamp jobs still claim in enqueue order.
	query := `
		UPDATE pipeline_job
		SET status = 'IN_PROGRESS',
		    lease_expires_at = now() + $2,
		    updated_at = now()
		WHERE id = (
			SELECT id FROM pipeline_job
			WHERE status = 'PENDING' AND job_type = ANY($1)
			ORDER BY seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	row := scope.Q().QueryRow(ctx, query, typeNames, lease)
	job, err := scanJobRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE pipeline_job
		SET status = 'SUCCEEDED',
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'`

	result, err := scope.Q().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not IN_PROGRESS", apperrors.ErrConflict, id)
	}
	return nil
}

func (r *jobRepository) Fail(ctx context.Context, id uuid.UUID, jobErr string, maxAttempts int) (models.JobStatus, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return "", fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE pipeline_job
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING status`

	var status models.JobStatus
	err := scope.Q().QueryRow(ctx, query, id, jobErr, maxAttempts).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("%w: job %s is not IN_PROGRESS", apperrors.ErrConflict, id)
		}
		return "", fmt.Errorf("failed to fail job: %w", err)
	}
	return status, nil
}

func (r *jobRepository) ReclaimExpired(ctx context.Context, maxAttempts int) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE pipeline_job
		SET attempts = attempts + 1,
		    last_error = 'lease expired',
		    status = CASE WHEN attempts + 1 >= $1 THEN 'FAILED' ELSE 'PENDING' END,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE status = 'IN_PROGRESS' AND lease_expires_at < now()`

	result, err := scope.Q().Exec(ctx, query, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired jobs: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + jobColumns + ` FROM pipeline_job WHERE id = $1 AND tenant_id = $2`

	row := scope.Q().QueryRow(ctx, query, id, scope.TenantID)
	job, err := scanJobRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) CountsByType(ctx context.Context) ([]models.JobCounts, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT job_type,
		       COUNT(*) FILTER (WHERE status = 'PENDING'),
		       COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
		       COUNT(*) FILTER (WHERE status = 'SUCCEEDED'),
		       COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM pipeline_job
		WHERE tenant_id = $1
		GROUP BY job_type
		ORDER BY job_type`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var counts []models.JobCounts
	for rows.Next() {
		var c models.JobCounts
		if err := rows.Scan(&c.JobType, &c.Pending, &c.InProgress, &c.Succeeded, &c.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}
	return counts, nil
}

func (r *jobRepository) ListDeadLettered(ctx context.Context, limit int) ([]*models.Job, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + jobColumns + `
		FROM pipeline_job
		WHERE tenant_id = $1 AND status = 'FAILED'
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := scope.Q().Query(ctx, query, scope.TenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-lettered jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func scanJobRow(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.TenantID, &j.JobType, &j.FileID, &j.DocumentID, &j.Status,
		&j.Attempts, &j.LastError, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobRows(rows pgx.Rows) (*models.Job, error) {
	var j models.Job
	err := rows.Scan(
		&j.ID, &j.TenantID, &j.JobType, &j.FileID, &j.DocumentID, &j.Status,
		&j.Attempts, &j.LastError, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}
	return &j, nil
}
