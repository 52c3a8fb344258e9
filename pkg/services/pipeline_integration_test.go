//go:build integration

package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/access"
	"github.com/topos-sec/topos-engine/pkg/classify"
	"github.com/topos-sec/topos-engine/pkg/config"
	"github.com/topos-sec/topos-engine/pkg/exposure"
	"github.com/topos-sec/topos-engine/pkg/extract"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
	"github.com/topos-sec/topos-engine/pkg/testhelpers"
)

type pipelineTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	fixture  *testhelpers.TenantFixture
	rootPath string

	files     repositories.FileRepository
	documents repositories.DocumentRepository
	jobs      repositories.JobRepository
	accessR   repositories.AccessRepository

	ingest IngestService
	pool   *WorkerPool
}

func setupPipelineTest(t *testing.T) *pipelineTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	rootPath := t.TempDir()
	fixture := testhelpers.CreateTenantFixture(t, engineDB.DB, rootPath)
	logger := zap.NewNop()

	shareRepo := repositories.NewShareRepository()
	fileRepo := repositories.NewFileRepository()
	principalRepo := repositories.NewPrincipalRepository()
	accessRepo := repositories.NewAccessRepository()
	documentRepo := repositories.NewDocumentRepository()
	jobRepo := repositories.NewJobRepository()

	pipelineCfg := config.PipelineConfig{
		Workers:       1,
		PollInterval:  50 * time.Millisecond,
		LeaseTimeout:  time.Minute,
		SweepInterval: time.Minute,
		MaxAttempts:   3,
		ChunkSize:     1000,
		ChunkOverlap:  200,
	}
	scoringCfg := config.ScoringConfig{
		MediumThreshold:    34,
		HighThreshold:      67,
		BroadGroupSize:     50,
		MaxBroadGroupNames: 3,
	}

	extraction := NewExtractionWorker(
		shareRepo, fileRepo, documentRepo, jobRepo,
		extract.NewRegistry(), pipelineCfg, logger)
	enrichment := NewEnrichmentWorker(
		documentRepo, principalRepo, accessRepo,
		classify.NewRuleClassifier(classify.DefaultRules()),
		exposure.NewScorer(exposure.Config{
			MediumThreshold:    scoringCfg.MediumThreshold,
			HighThreshold:      scoringCfg.HighThreshold,
			MaxBroadGroupNames: scoringCfg.MaxBroadGroupNames,
		}),
		scoringCfg, logger)

	return &pipelineTestContext{
		t:         t,
		engineDB:  engineDB,
		fixture:   fixture,
		rootPath:  rootPath,
		files:     fileRepo,
		documents: documentRepo,
		jobs:      jobRepo,
		accessR:   accessRepo,
		ingest: NewIngestService(
			engineDB.DB, shareRepo, fileRepo, principalRepo, accessRepo,
			jobRepo, access.NewResolver(logger), logger),
		pool: NewWorkerPool(engineDB.DB, jobRepo, extraction, enrichment, pipelineCfg, logger),
	}
}

func (tc *pipelineTestContext) scopedCtx() context.Context {
	tc.t.Helper()
	return testhelpers.ScopedContext(tc.t, tc.engineDB.DB, tc.fixture.TenantID)
}

// writeShareFile materializes a file under the fixture's share root so the
// extraction worker can read it from disk.
func (tc *pipelineTestContext) writeShareFile(relativePath, content string) {
	tc.t.Helper()
	full := filepath.Join(tc.rootPath, filepath.FromSlash(relativePath))
	require.NoError(tc.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(tc.t, os.WriteFile(full, []byte(content), 0o644))
}

// runUntilIdle drives the claim loop until the queue is empty. Retryable
// failures put jobs back to PENDING, so a deterministic failure cycles
// here until its attempt budget dead-letters it.
func (tc *pipelineTestContext) runUntilIdle(ctx context.Context) {
	tc.t.Helper()
	for i := 0; i < 100; i++ {
		claimed, err := tc.pool.claimAndProcess(ctx)
		require.NoError(tc.t, err)
		if !claimed {
			return
		}
	}
	tc.t.Fatal("queue did not drain")
}

func discoveredEvent(relativePath, shareName, contentHash string, acl []models.ACLEntryInput) models.FileEvent {
	now := time.Now()
	return models.FileEvent{
		Type:         models.FileEventDiscovered,
		ShareName:    shareName,
		RelativePath: relativePath,
		SizeBytes:    128,
		MTime:        &now,
		FileType:     "text/plain",
		ContentHash:  contentHash,
		ACLHash:      "acl-" + contentHash,
		ACLEntries:   acl,
	}
}

func TestPipeline_IngestExtractEnrich(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("docs/report.txt",
		"Employee roster. Contact jane@example.com. SSN 123-45-6789 on file.")

	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("docs/report.txt", tc.fixture.ShareName, "h1", []models.ACLEntryInput{
			{PrincipalExternalID: "alice", PrincipalType: models.PrincipalTypeUser, Rights: models.RightsRead},
			{PrincipalExternalID: "bob", PrincipalType: models.PrincipalTypeUser, Rights: models.RightsReadWrite},
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesUpserted)
	assert.Equal(t, 1, result.JobsEnqueued)

	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "docs/report.txt")
	require.NoError(t, err)
	require.NotNil(t, file)

	doc, err := tc.documents.GetByFileID(scoped, file.ID)
	require.NoError(t, err)
	require.NotNil(t, doc, "extraction must have produced a document")

	chunks, err := tc.documents.ListChunks(scoped, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	findings, err := tc.documents.ListFindings(scoped, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, findings, "the SSN and email must be detected")

	var sawHigh bool
	for _, f := range findings {
		if f.SensitivityLevel == models.SensitivityHigh {
			sawHigh = true
		}
	}
	assert.True(t, sawHigh, "SSN is a HIGH finding")

	exp, err := tc.documents.GetExposure(scoped, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, exp, "enrichment must have scored the document")
	assert.Greater(t, exp.ExposureScore, 0)
	assert.Equal(t, "0-10", exp.AccessSummary.PrincipalCountBucket)

	readers, err := tc.accessR.CountReadable(scoped, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, readers)

	counts, err := tc.jobs.CountsByType(scoped)
	require.NoError(t, err)
	for _, c := range counts {
		assert.Zero(t, c.Pending, "queue drained for %s", c.JobType)
		assert.Zero(t, c.Failed, "no dead letters for %s", c.JobType)
	}
}

func TestPipeline_UnsupportedTypeDeadLetters(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("data/blob.qz", "\x00\x01\x02")

	now := time.Now()
	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		{
			Type:         models.FileEventDiscovered,
			ShareName:    tc.fixture.ShareName,
			RelativePath: "data/blob.qz",
			MTime:        &now,
			FileType:     "application/x-compressed-qz",
			ContentHash:  "h1",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.JobsEnqueued)

	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	dead, err := tc.jobs.ListDeadLettered(scoped, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1, "unsupported type skips the retry budget")
	assert.Equal(t, models.JobTypeExtractContent, dead[0].JobType)
	assert.Equal(t, 1, dead[0].Attempts, "deterministic failures dead-letter on the first attempt")
	require.NotNil(t, dead[0].LastError)

	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "data/blob.qz")
	require.NoError(t, err)
	require.NotNil(t, file)

	doc, err := tc.documents.GetByFileID(scoped, file.ID)
	require.NoError(t, err)
	assert.Nil(t, doc, "no document rows for a failed extraction")
}

func TestPipeline_ReenrichmentConverges(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("docs/notes.txt", "Card 4111 1111 1111 1111 was charged.")

	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("docs/notes.txt", tc.fixture.ShareName, "h1", []models.ACLEntryInput{
			{PrincipalExternalID: "carol", PrincipalType: models.PrincipalTypeUser, Rights: models.RightsRead},
		}),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "docs/notes.txt")
	require.NoError(t, err)
	doc, err := tc.documents.GetByFileID(scoped, file.ID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	before, err := tc.documents.ListFindings(scoped, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	expBefore, err := tc.documents.GetExposure(scoped, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, expBefore)

	// A second enrichment run over unchanged chunks replaces, not appends.
	enqueued, err := tc.jobs.Enqueue(scoped, &models.Job{
		TenantID:   tc.fixture.TenantID,
		JobType:    models.JobTypeEnrichChunks,
		FileID:     &file.ID,
		DocumentID: &doc.ID,
	})
	require.NoError(t, err)
	require.True(t, enqueued)
	tc.runUntilIdle(ctx)

	after, err := tc.documents.ListFindings(scoped, doc.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	expAfter, err := tc.documents.GetExposure(scoped, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, expAfter)
	assert.Equal(t, expBefore.ExposureScore, expAfter.ExposureScore)
	assert.Equal(t, expBefore.ExposureLevel, expAfter.ExposureLevel)
}

func TestPipeline_ModifiedFileReextracts(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("docs/memo.txt", "Nothing sensitive here yet.")
	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("docs/memo.txt", tc.fixture.ShareName, "h1", nil),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	tc.writeShareFile("docs/memo.txt", "Updated memo. SSN 987-65-4321 added by mistake.")
	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("docs/memo.txt", tc.fixture.ShareName, "h2", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsEnqueued, "content hash change re-enqueues extraction")
	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "docs/memo.txt")
	require.NoError(t, err)
	doc, err := tc.documents.GetByFileID(scoped, file.ID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "h2", doc.ContentHash)

	findings, err := tc.documents.ListFindings(scoped, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, findings, "findings reflect the new content")
}

func TestPipeline_UnchangedHashDoesNotReenqueue(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("docs/static.txt", "Same content both scans.")
	event := discoveredEvent("docs/static.txt", tc.fixture.ShareName, "h1", nil)

	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{event})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{event})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesUpserted, "metadata refresh still happens")
	assert.Equal(t, 0, result.JobsEnqueued, "same hash skips extraction")
}

func TestIngest_DeleteAndRevocation(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("docs/leaver.txt", "Offboarding checklist.")
	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("docs/leaver.txt", tc.fixture.ShareName, "h1", []models.ACLEntryInput{
			{PrincipalExternalID: "dave", PrincipalType: models.PrincipalTypeUser, Rights: models.RightsRead},
		}),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "docs/leaver.txt")
	require.NoError(t, err)
	require.NotNil(t, file)

	// Full ACL revocation empties the effective-access rows.
	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		{
			Type:         models.FileEventACLChanged,
			ShareName:    tc.fixture.ShareName,
			RelativePath: "docs/leaver.txt",
			ACLHash:      "acl-empty",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventsSkipped)

	readers, err := tc.accessR.CountReadable(scoped, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, readers)

	// Deletion keeps the row but marks it gone.
	result, err = tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		{
			Type:         models.FileEventDeleted,
			ShareName:    tc.fixture.ShareName,
			RelativePath: "docs/leaver.txt",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)

	deleted, err := tc.files.GetByID(scoped, file.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.True(t, deleted.Deleted)
}

func TestIngest_SkipsMalformedEvents(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	result, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		{Type: "SOMETHING_NEW", ShareName: tc.fixture.ShareName, RelativePath: "a.txt"},
		{Type: models.FileEventDeleted, ShareName: tc.fixture.ShareName, RelativePath: "never/seen.txt"},
	})
	require.NoError(t, err)
	// Unknown event types and deletes for unknown paths are both ignored
	// so one stale agent cannot wedge a whole batch.
	assert.Equal(t, 2, result.EventsSkipped)
	assert.Equal(t, 0, result.FilesUpserted)
	assert.Equal(t, 0, result.FilesDeleted)
}

func TestIngest_GroupGrantExpandsToMembers(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	require.NoError(t, tc.ingest.ReplaceGroupRoster(ctx, tc.fixture.TenantID,
		"g-finance", []string{"erin", "frank", "grace"}))

	tc.writeShareFile("fin/budget.txt", "Budget figures.")
	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("fin/budget.txt", tc.fixture.ShareName, "h1", []models.ACLEntryInput{
			{PrincipalExternalID: "g-finance", PrincipalType: models.PrincipalTypeGroup, Rights: models.RightsRead},
		}),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "fin/budget.txt")
	require.NoError(t, err)
	require.NotNil(t, file)

	// The group itself plus its three members can read.
	readers, err := tc.accessR.CountReadable(scoped, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, readers)
}

func TestIngest_AddGroupMemberKeepsExistingRoster(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	require.NoError(t, tc.ingest.ReplaceGroupRoster(ctx, tc.fixture.TenantID,
		"g-legal", []string{"holly", "ivan"}))

	// An incremental delta adds one edge without touching the rest.
	require.NoError(t, tc.ingest.AddGroupMember(ctx, tc.fixture.TenantID, "g-legal", "judy"))

	scoped := tc.scopedCtx()
	principals := repositories.NewPrincipalRepository()
	edges, err := principals.ListMemberships(scoped)
	require.NoError(t, err)
	assert.Len(t, edges, 3)

	// Replaying the same delta is a no-op.
	require.NoError(t, tc.ingest.AddGroupMember(ctx, tc.fixture.TenantID, "g-legal", "judy"))
	edges, err = principals.ListMemberships(scoped)
	require.NoError(t, err)
	assert.Len(t, edges, 3)
}
