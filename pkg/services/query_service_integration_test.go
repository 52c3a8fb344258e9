//go:build integration

package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// setupQueryTest runs the whole pipeline over two seeded files so the
// query layer has real derived rows to report on.
func setupQueryTest(t *testing.T) (*pipelineTestContext, QueryService) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("hr/payroll.txt",
		"Payroll export. SSN 123-45-6789, card 4111 1111 1111 1111.")
	tc.writeShareFile("eng/readme.txt",
		"Build instructions. Run make and read the logs.")

	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("hr/payroll.txt", tc.fixture.ShareName, "h1", []models.ACLEntryInput{
			{PrincipalExternalID: "hank", PrincipalType: models.PrincipalTypeUser, Rights: models.RightsRead},
		}),
		discoveredEvent("eng/readme.txt", tc.fixture.ShareName, "h2", nil),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	query := NewQueryService(
		tc.engineDB.DB,
		repositories.NewReportRepository(),
		tc.documents, tc.files, tc.jobs,
		zap.NewNop())
	return tc, query
}

func TestQueryService_FindSensitiveContent(t *testing.T) {
	tc, query := setupQueryTest(t)
	ctx := context.Background()

	rows, err := query.FindSensitiveContent(ctx, tc.fixture.TenantID, "", models.SensitivityLow, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the payroll file has findings")
	assert.Equal(t, "hr/payroll.txt", rows[0].RelativePath)
	assert.Equal(t, tc.fixture.ShareName, rows[0].ShareName)
	assert.Equal(t, models.SensitivityHigh, rows[0].MaxLevel)
	assert.GreaterOrEqual(t, rows[0].FindingCount, 2, "SSN and card number")

	// Type filter keeps only matching findings.
	rows, err = query.FindSensitiveContent(ctx, tc.fixture.TenantID,
		models.SensitivityFinancialData, models.SensitivityLow, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = query.FindSensitiveContent(ctx, tc.fixture.TenantID,
		models.SensitivityHealthData, models.SensitivityLow, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = query.FindSensitiveContent(ctx, tc.fixture.TenantID,
		"NOT_A_TYPE", models.SensitivityLow, 0)
	assert.Error(t, err, "unknown sensitivity type is rejected, not silently empty")
}

func TestQueryService_SearchChunks(t *testing.T) {
	tc, query := setupQueryTest(t)
	ctx := context.Background()

	hits, err := query.SearchChunks(ctx, tc.fixture.TenantID, "payroll", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "Payroll", "match is case-insensitive")

	hits, err = query.SearchChunks(ctx, tc.fixture.TenantID, "no such phrase", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = query.SearchChunks(ctx, tc.fixture.TenantID, "", 10)
	assert.Error(t, err, "empty term would match every chunk")
}

func TestQueryService_SearchChunksTreatsTermAsLiteral(t *testing.T) {
	tc := setupPipelineTest(t)
	ctx := context.Background()

	tc.writeShareFile("ops/sla.txt", "Uptime was 100% across the quarter.")
	tc.writeShareFile("ops/perf.txt", "Throughput grew 100x after the cache landed.")

	_, err := tc.ingest.IngestEvents(ctx, tc.fixture.TenantID, []models.FileEvent{
		discoveredEvent("ops/sla.txt", tc.fixture.ShareName, "h1", nil),
		discoveredEvent("ops/perf.txt", tc.fixture.ShareName, "h2", nil),
	})
	require.NoError(t, err)
	tc.runUntilIdle(ctx)

	query := NewQueryService(
		tc.engineDB.DB,
		repositories.NewReportRepository(),
		tc.documents, tc.files, tc.jobs,
		zap.NewNop())

	// % in the term is a literal character, not a wildcard: "100%" must
	// not match "100x".
	hits, err := query.SearchChunks(ctx, tc.fixture.TenantID, "100%", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "100% across")

	hits, err = query.SearchChunks(ctx, tc.fixture.TenantID, "100_", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "_ is literal too")
}

func TestQueryService_DashboardMetrics(t *testing.T) {
	tc, query := setupQueryTest(t)
	ctx := context.Background()

	metrics, err := query.DashboardMetrics(ctx, tc.fixture.TenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.FileCount)
	assert.Equal(t, 2, metrics.DocumentCount)
	assert.GreaterOrEqual(t, metrics.ChunkCount, 2)
	assert.GreaterOrEqual(t, metrics.FindingCount, 2)
	assert.False(t, metrics.GeneratedAt.IsZero())

	var extractCounts *models.JobCounts
	for i := range metrics.Jobs {
		if metrics.Jobs[i].JobType == models.JobTypeExtractContent {
			extractCounts = &metrics.Jobs[i]
		}
	}
	require.NotNil(t, extractCounts)
	assert.Equal(t, 2, extractCounts.Succeeded)
	assert.Zero(t, extractCounts.Failed)
}

func TestQueryService_DocumentDetail(t *testing.T) {
	tc, query := setupQueryTest(t)
	ctx := context.Background()

	scoped := tc.scopedCtx()
	file, err := tc.files.GetByPath(scoped, tc.fixture.Share.ID, "hr/payroll.txt")
	require.NoError(t, err)
	doc, err := tc.documents.GetByFileID(scoped, file.ID)
	require.NoError(t, err)
	require.NotNil(t, doc)

	detail, err := query.DocumentDetail(ctx, tc.fixture.TenantID, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, doc.ID, detail.Document.ID)
	assert.Equal(t, file.ID, detail.File.ID)
	assert.NotEmpty(t, detail.Chunks)
	assert.NotEmpty(t, detail.Findings)
	require.NotNil(t, detail.Exposure)
	assert.Greater(t, detail.Exposure.ExposureScore, 0)

	missing, err := query.DocumentDetail(ctx, tc.fixture.TenantID, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueryService_TenantIsolation(t *testing.T) {
	_, query := setupQueryTest(t)
	ctx := context.Background()

	// A second tenant sees none of the first tenant's rows.
	other := setupPipelineTest(t)
	metrics, err := query.DashboardMetrics(ctx, other.fixture.TenantID)
	require.NoError(t, err)
	assert.Zero(t, metrics.FileCount)
	assert.Zero(t, metrics.DocumentCount)

	hits, err := query.SearchChunks(ctx, other.fixture.TenantID, "payroll", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
