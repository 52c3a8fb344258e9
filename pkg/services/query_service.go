package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// QueryService answers posture questions over the derived tables. It never
// mutates; every method runs on a read-only tenant scope.
type QueryService interface {
	// FindSensitiveContent lists documents with findings, filtered by
	// sensitivity type (empty for all) and minimum level, worst exposure
	// first.
	FindSensitiveContent(ctx context.Context, tenantID uuid.UUID, filter models.SensitivityType, minLevel models.SensitivityLevel, limit int) ([]models.SensitiveDocument, error)

	// SearchChunks finds chunks containing the term, case-insensitively.
	SearchChunks(ctx context.Context, tenantID uuid.UUID, term string, limit int) ([]models.ChunkHit, error)

	// DashboardMetrics returns the tenant posture snapshot.
	DashboardMetrics(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error)

	// DocumentDetail returns a document with its chunks, findings, and
	// exposure verdict. Returns nil when the document does not exist.
	DocumentDetail(ctx context.Context, tenantID uuid.UUID, documentID uuid.UUID) (*models.DocumentDetail, error)
}

type queryService struct {
	db        *database.DB
	reports   repositories.ReportRepository
	documents repositories.DocumentRepository
	files     repositories.FileRepository
	jobs      repositories.JobRepository
	logger    *zap.Logger
}

// NewQueryService creates a new QueryService.
func NewQueryService(
	db *database.DB,
	reports repositories.ReportRepository,
	documents repositories.DocumentRepository,
	files repositories.FileRepository,
	jobs repositories.JobRepository,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		db:        db,
		reports:   reports,
		documents: documents,
		files:     files,
		jobs:      jobs,
		logger:    logger.Named("query"),
	}
}

const defaultLimit = 100

func (s *queryService) FindSensitiveContent(ctx context.Context, tenantID uuid.UUID, filter models.SensitivityType, minLevel models.SensitivityLevel, limit int) ([]models.SensitiveDocument, error) {
	if filter != "" && !isValidSensitivityType(filter) {
		return nil, fmt.Errorf("invalid sensitivity type %q", filter)
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	return s.reports.FindSensitiveDocuments(ctx, filter, minLevel, limit)
}

func (s *queryService) SearchChunks(ctx context.Context, tenantID uuid.UUID, term string, limit int) ([]models.ChunkHit, error) {
	if term == "" {
		return nil, fmt.Errorf("search term must not be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	return s.reports.SearchChunks(ctx, term, limit)
}

func (s *queryService) DashboardMetrics(ctx context.Context, tenantID uuid.UUID) (*models.DashboardMetrics, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	files, documents, chunks, findings, highExposure, err := s.reports.CountEntities(ctx)
	if err != nil {
		return nil, err
	}
	jobCounts, err := s.jobs.CountsByType(ctx)
	if err != nil {
		return nil, err
	}

	return &models.DashboardMetrics{
		FileCount:         files,
		DocumentCount:     documents,
		ChunkCount:        chunks,
		FindingCount:      findings,
		HighExposureCount: highExposure,
		Jobs:              jobCounts,
		GeneratedAt:       time.Now(),
	}, nil
}

func (s *queryService) DocumentDetail(ctx context.Context, tenantID uuid.UUID, documentID uuid.UUID) (*models.DocumentDetail, error) {
	scope, err := s.db.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	file, err := s.files.GetByID(ctx, doc.FileID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.documents.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	findings, err := s.documents.ListFindings(ctx, documentID)
	if err != nil {
		return nil, err
	}
	exposureRow, err := s.documents.GetExposure(ctx, documentID)
	if err != nil {
		return nil, err
	}

	return &models.DocumentDetail{
		Document: doc,
		File:     file,
		Chunks:   chunks,
		Findings: findings,
		Exposure: exposureRow,
	}, nil
}

func isValidSensitivityType(t models.SensitivityType) bool {
	for _, v := range models.ValidSensitivityTypes {
		if v == t {
			return true
		}
	}
	return false
}
