package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/access"
	"github.com/topos-sec/topos-engine/pkg/apperrors"
	"github.com/topos-sec/topos-engine/pkg/classify"
	"github.com/topos-sec/topos-engine/pkg/config"
	"github.com/topos-sec/topos-engine/pkg/exposure"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// EnrichmentWorker handles ENRICH_CHUNKS jobs: classify each chunk for
// sensitive data, replace the document's findings, and recompute its
// exposure verdict from the current effective-access rows. Re-running a
// job converges on the same findings and exposure.
type EnrichmentWorker struct {
	documents  repositories.DocumentRepository
	principals repositories.PrincipalRepository
	accessRepo repositories.AccessRepository
	classifier classify.Classifier
	scorer     *exposure.Scorer
	cfg        config.ScoringConfig
	logger     *zap.Logger
}

// NewEnrichmentWorker creates a new EnrichmentWorker.
func NewEnrichmentWorker(
	documents repositories.DocumentRepository,
	principals repositories.PrincipalRepository,
	accessRepo repositories.AccessRepository,
	classifier classify.Classifier,
	scorer *exposure.Scorer,
	cfg config.ScoringConfig,
	logger *zap.Logger,
) *EnrichmentWorker {
	return &EnrichmentWorker{
		documents:  documents,
		principals: principals,
		accessRepo: accessRepo,
		classifier: classifier,
		scorer:     scorer,
		cfg:        cfg,
		logger:     logger.Named("enrich"),
	}
}

// Process runs one ENRICH_CHUNKS job inside the caller's transaction.
func (w *EnrichmentWorker) Process(ctx context.Context, job *models.Job) error {
	if job.DocumentID == nil {
		return fmt.Errorf("%w: enrich job %s has no document target", apperrors.ErrNotFound, job.ID)
	}

	doc, err := w.documents.GetByID(ctx, *job.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: document %s", apperrors.ErrNotFound, *job.DocumentID)
	}

	chunks, err := w.documents.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	findings := make([]models.SensitivityFinding, 0)
	maxLevel := models.SensitivityLevel("")
	for _, chunk := range chunks {
		chunkID := chunk.ID
		for _, f := range w.classifier.Classify(chunk.Text) {
			findings = append(findings, models.SensitivityFinding{
				TenantID:         doc.TenantID,
				DocumentID:       doc.ID,
				ChunkID:          &chunkID,
				SensitivityType:  f.Type,
				SensitivityLevel: f.Level,
				Snippet:          f.Snippet,
			})
			if f.Level.Rank() > maxLevel.Rank() {
				maxLevel = f.Level
			}
		}
	}
	if err := w.documents.ReplaceFindings(ctx, doc.ID, findings); err != nil {
		return err
	}

	readers, err := w.accessRepo.ListForFile(ctx, doc.FileID)
	if err != nil {
		return err
	}
	broadGroups, err := w.broadGroups(ctx, readers)
	if err != nil {
		return err
	}

	result := w.scorer.Score(exposure.Inputs{
		ReadablePrincipals: len(readers),
		MaxFindingLevel:    maxLevel,
		FindingCount:       len(findings),
		BroadGroups:        broadGroups,
	})
	err = w.documents.UpsertExposure(ctx, &models.DocumentExposure{
		TenantID:      doc.TenantID,
		DocumentID:    doc.ID,
		ExposureLevel: result.Level,
		ExposureScore: result.Score,
		AccessSummary: result.Summary,
	})
	if err != nil {
		return err
	}

	w.logger.Info("enriched document",
		zap.String("document_id", doc.ID.String()),
		zap.Int("findings", len(findings)),
		zap.Int("exposure_score", result.Score),
		zap.String("exposure_level", string(result.Level)))
	return nil
}

// broadGroups returns the display names of readable groups whose transitive
// member count meets the broad-group threshold.
func (w *EnrichmentWorker) broadGroups(ctx context.Context, readers []models.FileEffectiveAccess) ([]string, error) {
	if len(readers) == 0 {
		return nil, nil
	}

	memberships, err := w.principals.ListMemberships(ctx)
	if err != nil {
		return nil, err
	}
	all, err := w.principals.ListPrincipals(ctx)
	if err != nil {
		return nil, err
	}

	principals := make([]models.Principal, 0, len(all))
	names := make(map[uuid.UUID]string, len(all))
	for _, p := range all {
		principals = append(principals, *p)
		names[p.ID] = p.DisplayName
	}

	graph := access.NewMembershipGraph(memberships, principals)
	counts := graph.TransitiveMemberCount()

	var broad []string
	for _, reader := range readers {
		if !reader.CanRead || !graph.IsGroup(reader.PrincipalID) {
			continue
		}
		if counts[reader.PrincipalID] >= w.cfg.BroadGroupSize {
			broad = append(broad, names[reader.PrincipalID])
		}
	}
	return broad, nil
}
