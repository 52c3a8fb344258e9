package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/apperrors"
	"github.com/topos-sec/topos-engine/pkg/config"
	"github.com/topos-sec/topos-engine/pkg/extract"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
	"github.com/topos-sec/topos-engine/pkg/retry"
)

// ExtractionWorker handles EXTRACT_CONTENT jobs: read the file from its
// share, extract and normalize text, chunk it, persist the document, and
// chain an enrichment job. Processing is idempotent; re-running a job for
// the same file converges on identical document and chunk rows.
type ExtractionWorker struct {
	shares    repositories.ShareRepository
	files     repositories.FileRepository
	documents repositories.DocumentRepository
	jobs      repositories.JobRepository
	registry  *extract.Registry
	cfg       config.PipelineConfig
	logger    *zap.Logger
}

// NewExtractionWorker creates a new ExtractionWorker.
func NewExtractionWorker(
	shares repositories.ShareRepository,
	files repositories.FileRepository,
	documents repositories.DocumentRepository,
	jobs repositories.JobRepository,
	registry *extract.Registry,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *ExtractionWorker {
	return &ExtractionWorker{
		shares:    shares,
		files:     files,
		documents: documents,
		jobs:      jobs,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.Named("extract"),
	}
}

// Process runs one EXTRACT_CONTENT job. The caller wraps it in a
// transaction: on error, no document or chunk rows survive.
func (w *ExtractionWorker) Process(ctx context.Context, job *models.Job) error {
	if job.FileID == nil {
		return fmt.Errorf("%w: extract job %s has no file target", apperrors.ErrNotFound, job.ID)
	}

	file, err := w.files.GetByID(ctx, *job.FileID)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("%w: file %s", apperrors.ErrNotFound, *job.FileID)
	}
	if file.Deleted {
		// The file vanished between enqueue and claim. Nothing to extract;
		// the job still succeeds.
		w.logger.Info("skipping extraction for deleted file",
			zap.String("file_id", file.ID.String()))
		return nil
	}

	share, err := w.shares.GetShareByID(ctx, file.ShareID)
	if err != nil {
		return err
	}
	if share == nil {
		return fmt.Errorf("%w: share %s", apperrors.ErrNotFound, file.ShareID)
	}

	path := filepath.Join(share.RootPath, filepath.FromSlash(file.RelativePath))
	// Share mounts flake; short in-process retries absorb blips without
	// burning a queue attempt.
	extracted, err := retry.DoWithResult(ctx, nil, func() (*extract.Extracted, error) {
		return w.registry.Extract(path, file.FileType)
	})
	if err != nil {
		return fmt.Errorf("extraction of %q: %w", file.RelativePath, err)
	}

	doc, err := w.documents.Upsert(ctx, &models.Document{
		TenantID:      file.TenantID,
		FileID:        file.ID,
		Title:         extracted.Title,
		FileType:      file.FileType,
		SizeBytes:     file.SizeBytes,
		LastIndexedAt: time.Now(),
		ContentHash:   file.ContentHash,
	})
	if err != nil {
		return err
	}

	specs := extract.Chunk(extracted.Text, w.cfg.ChunkSize, w.cfg.ChunkOverlap)
	chunks := make([]models.Chunk, 0, len(specs))
	for _, spec := range specs {
		chunks = append(chunks, models.Chunk{
			TenantID:   file.TenantID,
			DocumentID: doc.ID,
			ChunkIndex: spec.Index,
			Text:       spec.Text,
			CharStart:  spec.CharStart,
			CharEnd:    spec.CharEnd,
		})
	}
	if err := w.documents.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}

	enqueued, err := w.jobs.Enqueue(ctx, &models.Job{
		TenantID:   file.TenantID,
		JobType:    models.JobTypeEnrichChunks,
		DocumentID: &doc.ID,
	})
	if err != nil {
		return err
	}

	w.logger.Info("extracted document",
		zap.String("document_id", doc.ID.String()),
		zap.String("file_id", file.ID.String()),
		zap.Int("chunks", len(chunks)),
		zap.Bool("enrichment_enqueued", enqueued))
	return nil
}
