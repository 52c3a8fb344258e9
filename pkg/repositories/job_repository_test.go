//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topos-sec/topos-engine/pkg/apperrors"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/testhelpers"
)

// jobTestContext holds test dependencies for job repository tests.
type jobTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     JobRepository
	fixture  *testhelpers.TenantFixture
	fileID   uuid.UUID
}

func setupJobTest(t *testing.T) *jobTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	fixture := testhelpers.CreateTenantFixture(t, engineDB.DB, t.TempDir())

	tc := &jobTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewJobRepository(),
		fixture:  fixture,
	}
	tc.fileID = tc.createFile("queued/file.txt")
	return tc
}

// createFile inserts a file row for jobs to target.
func (tc *jobTestContext) createFile(relativePath string) uuid.UUID {
	tc.t.Helper()
	ctx := tc.scopedCtx()

	files := NewFileRepository()
	file, err := files.Upsert(ctx, &models.File{
		TenantID:     tc.fixture.TenantID,
		ShareID:      tc.fixture.Share.ID,
		RelativePath: relativePath,
		Name:         "file.txt",
		SizeBytes:    10,
		MTime:        time.Now(),
		FileType:     "text/plain",
		ContentHash:  "hash-" + relativePath,
		ACLHash:      "acl",
		LastSeenAt:   time.Now(),
	})
	require.NoError(tc.t, err)
	return file.ID
}

func (tc *jobTestContext) scopedCtx() context.Context {
	tc.t.Helper()
	return testhelpers.ScopedContext(tc.t, tc.engineDB.DB, tc.fixture.TenantID)
}

// unscopedCtx returns a context with a cross-tenant scope, as the worker
// pool uses for claiming.
func (tc *jobTestContext) unscopedCtx() context.Context {
	tc.t.Helper()
	scope, err := tc.engineDB.DB.WithoutTenant(context.Background())
	require.NoError(tc.t, err)
	tc.t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}

func (tc *jobTestContext) enqueue(jobType models.JobType, fileID *uuid.UUID) *models.Job {
	tc.t.Helper()
	job := &models.Job{
		TenantID: tc.fixture.TenantID,
		JobType:  jobType,
		FileID:   fileID,
	}
	created, err := tc.repo.Enqueue(tc.scopedCtx(), job)
	require.NoError(tc.t, err)
	require.True(tc.t, created)
	return job
}

func TestJobRepository_EnqueueSuppressesDuplicates(t *testing.T) {
	tc := setupJobTest(t)
	ctx := tc.scopedCtx()

	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	// Second enqueue for the same open target is suppressed.
	created, err := tc.repo.Enqueue(ctx, &models.Job{
		TenantID: tc.fixture.TenantID,
		JobType:  models.JobTypeExtractContent,
		FileID:   &tc.fileID,
	})
	require.NoError(t, err)
	assert.False(t, created)

	tc.drainRemaining(tc.unscopedCtx())
}

func TestJobRepository_EnqueueAllowedAfterTerminal(t *testing.T) {
	tc := setupJobTest(t)

	job := tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	ctx := tc.unscopedCtx()
	claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, job.ID, claimed.ID)
	require.NoError(t, tc.repo.Complete(ctx, claimed.ID))

	// With the prior job SUCCEEDED, the same target may be enqueued again.
	created, err := tc.repo.Enqueue(tc.scopedCtx(), &models.Job{
		TenantID: tc.fixture.TenantID,
		JobType:  models.JobTypeExtractContent,
		FileID:   &tc.fileID,
	})
	require.NoError(t, err)
	assert.True(t, created)

	tc.drainRemaining(ctx)
}

func TestJobRepository_ClaimOldestFirst(t *testing.T) {
	tc := setupJobTest(t)

	fileA := tc.createFile("a.txt")
	fileB := tc.createFile("b.txt")
	first := tc.enqueue(models.JobTypeExtractContent, &fileA)
	second := tc.enqueue(models.JobTypeExtractContent, &fileB)

	ctx := tc.unscopedCtx()
	claimed1, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed1)

	claimed2, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed2)

	// Oldest PENDING is claimed first, and the same job is never handed
	// out twice.
	ids := []uuid.UUID{claimed1.ID, claimed2.ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
	assert.Equal(t, models.JobStatusInProgress, claimed1.Status)
	assert.NotNil(t, claimed1.LeaseExpiresAt)

	// Queue drained for these types within this tenant's jobs.
	tc.drainRemaining(ctx)
}

// drainRemaining claims and completes every remaining PENDING job. The
// claim path is cross-tenant, so leftovers from one test would otherwise
// leak into the next test's claim assertions.
func (tc *jobTestContext) drainRemaining(ctx context.Context) {
	tc.t.Helper()
	for {
		job, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
		require.NoError(tc.t, err)
		if job == nil {
			return
		}
		require.NoError(tc.t, tc.repo.Complete(ctx, job.ID))
	}
}

func TestJobRepository_FailReturnsToPending(t *testing.T) {
	tc := setupJobTest(t)
	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	ctx := tc.unscopedCtx()
	claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	status, err := tc.repo.Fail(ctx, claimed.ID, "share unreachable", 5)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, status)

	reloaded, err := tc.repo.GetByID(tc.scopedCtx(), claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.Attempts)
	require.NotNil(t, reloaded.LastError)
	assert.Equal(t, "share unreachable", *reloaded.LastError)
	assert.Nil(t, reloaded.LeaseExpiresAt)

	tc.drainRemaining(ctx)
}

func TestJobRepository_FailDeadLettersAtMaxAttempts(t *testing.T) {
	tc := setupJobTest(t)
	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	ctx := tc.unscopedCtx()
	maxAttempts := 3

	var status models.JobStatus
	for i := 0; i < maxAttempts; i++ {
		claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d should find the job PENDING again", i)

		status, err = tc.repo.Fail(ctx, claimed.ID, "still failing", maxAttempts)
		require.NoError(t, err)
	}
	assert.Equal(t, models.JobStatusFailed, status)

	// Dead-lettered jobs are terminal: nothing left to claim.
	claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	dead, err := tc.repo.ListDeadLettered(tc.scopedCtx(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, maxAttempts, dead[0].Attempts)
}

func TestJobRepository_CompleteRequiresInProgress(t *testing.T) {
	tc := setupJobTest(t)
	job := tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	// Completing a PENDING job is a protocol violation.
	err := tc.repo.Complete(tc.scopedCtx(), job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	tc.drainRemaining(tc.unscopedCtx())
}

func TestJobRepository_EnqueueRejectsUnknownType(t *testing.T) {
	tc := setupJobTest(t)

	created, err := tc.repo.Enqueue(tc.scopedCtx(), &models.Job{
		TenantID: tc.fixture.TenantID,
		JobType:  models.JobType("REBUILD_INDEX"),
		FileID:   &tc.fileID,
	})
	require.Error(t, err)
	assert.False(t, created)
}

func TestJobRepository_ClaimEqualTimestampsInEnqueueOrder(t *testing.T) {
	tc := setupJobTest(t)
	ctx := tc.scopedCtx()
	unscoped := tc.unscopedCtx()
	tc.drainRemaining(unscoped)

	scope, ok := database.GetTenantScope(ctx)
	require.True(t, ok)

	// Insert directly with one shared created_at; the timestamp alone
	// cannot order these.
	createdAt := time.Now()
	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		fileID := tc.createFile(fmt.Sprintf("tie-%d.txt", i))
		id := uuid.New()
		_, err := scope.Q().Exec(ctx, `
			INSERT INTO pipeline_job (id, tenant_id, job_type, file_id, status, attempts, created_at, updated_at)
			VALUES ($1, $2, 'EXTRACT_CONTENT', $3, 'PENDING', 0, $4, $4)`,
			id, tc.fixture.TenantID, fileID, createdAt,
		)
		require.NoError(t, err)
		want = append(want, id)
	}

	var got []uuid.UUID
	for range want {
		claimed, err := tc.repo.ClaimNext(unscoped, models.ValidJobTypes, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		got = append(got, claimed.ID)
		require.NoError(t, tc.repo.Complete(unscoped, claimed.ID))
	}
	assert.Equal(t, want, got)
}

func TestJobRepository_ReclaimExpired(t *testing.T) {
	tc := setupJobTest(t)
	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	ctx := tc.unscopedCtx()

	// Claim with an already-expired lease to simulate a crashed worker.
	claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, -time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reclaimed, err := tc.repo.ReclaimExpired(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	reloaded, err := tc.repo.GetByID(tc.scopedCtx(), claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, models.JobStatusPending, reloaded.Status)
	assert.Equal(t, 1, reloaded.Attempts)

	tc.drainRemaining(ctx)
}

func TestJobRepository_ReclaimLeavesLiveLeasesAlone(t *testing.T) {
	tc := setupJobTest(t)
	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	ctx := tc.unscopedCtx()
	claimed, err := tc.repo.ClaimNext(ctx, models.ValidJobTypes, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reclaimed, err := tc.repo.ReclaimExpired(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	require.NoError(t, tc.repo.Complete(ctx, claimed.ID))
}

func TestJobRepository_CountsByType(t *testing.T) {
	tc := setupJobTest(t)
	tc.enqueue(models.JobTypeExtractContent, &tc.fileID)

	counts, err := tc.repo.CountsByType(tc.scopedCtx())
	require.NoError(t, err)

	var extract *models.JobCounts
	for i := range counts {
		if counts[i].JobType == models.JobTypeExtractContent {
			extract = &counts[i]
		}
	}
	require.NotNil(t, extract)
	assert.GreaterOrEqual(t, extract.Pending, 1)

	tc.drainRemaining(tc.unscopedCtx())
}
