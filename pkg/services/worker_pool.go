package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/apperrors"
	"github.com/topos-sec/topos-engine/pkg/config"
	"github.com/topos-sec/topos-engine/pkg/database"
	"github.com/topos-sec/topos-engine/pkg/logging"
	"github.com/topos-sec/topos-engine/pkg/models"
	"github.com/topos-sec/topos-engine/pkg/repositories"
)

// WorkerPool runs the claim→process→complete loops plus the lease sweeper.
// Each worker claims one job at a time on an unscoped connection, processes
// it inside a tenant-scoped transaction, and then records the outcome on
// the claimed row. A worker crash between processing and outcome recording
// leaves the job IN_PROGRESS until its lease expires and the sweeper
// returns it to PENDING; reprocessing is safe because both job handlers
// are idempotent.
type WorkerPool struct {
	db         *database.DB
	jobs       repositories.JobRepository
	extraction *ExtractionWorker
	enrichment *EnrichmentWorker
	cfg        config.PipelineConfig
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool.
func NewWorkerPool(
	db *database.DB,
	jobs repositories.JobRepository,
	extraction *ExtractionWorker,
	enrichment *EnrichmentWorker,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *WorkerPool {
	return &WorkerPool{
		db:         db,
		jobs:       jobs,
		extraction: extraction,
		enrichment: enrichment,
		cfg:        cfg,
		logger:     logger.Named("pool"),
	}
}

// Run starts the workers and the lease sweeper and blocks until ctx is
// cancelled and all of them have drained.
func (p *WorkerPool) Run(ctx context.Context) {
	p.logger.Info("starting worker pool",
		zap.Int("workers", p.cfg.Workers),
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Duration("lease_timeout", p.cfg.LeaseTimeout))

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
	p.wg.Add(1)
	go p.sweepLoop(ctx)

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.claimAndProcess(ctx)
		if err != nil {
			logger.Error("worker iteration failed", zap.Error(err))
		}
		if claimed && err == nil {
			// Queue may have more work; claim again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered(p.cfg.PollInterval)):
		}
	}
}

// claimAndProcess claims at most one job and runs it to an outcome.
// Returns whether a job was claimed.
func (p *WorkerPool) claimAndProcess(ctx context.Context) (bool, error) {
	scope, err := p.db.WithoutTenant(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()
	claimCtx := database.SetTenantScope(ctx, scope)

	job, err := p.jobs.ClaimNext(claimCtx, models.ValidJobTypes, p.cfg.LeaseTimeout)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	processErr := p.processJob(ctx, job)
	if processErr == nil {
		if err := p.jobs.Complete(claimCtx, job.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	// Non-retryable failures skip the remaining attempt budget and
	// dead-letter immediately.
	maxAttempts := p.cfg.MaxAttempts
	if !apperrors.IsRetryable(processErr) || errors.Is(processErr, context.Canceled) {
		maxAttempts = 0
	}

	status, err := p.jobs.Fail(claimCtx, job.ID, logging.SanitizeError(processErr), maxAttempts)
	if err != nil {
		return true, fmt.Errorf("failed to record job failure: %w", err)
	}

	if status == models.JobStatusFailed {
		p.logger.Error("job dead-lettered",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.JobType)),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(processErr))
	} else {
		p.logger.Warn("job failed, will retry",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.JobType)),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(processErr))
	}
	return true, nil
}

// processJob runs the job handler inside a tenant-scoped transaction.
// Panics surface as errors so a bad document cannot take the worker down.
func (p *WorkerPool) processJob(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()

	scope, err := p.db.WithTenant(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	return scope.RunInTx(ctx, func(ctx context.Context) error {
		switch job.JobType {
		case models.JobTypeExtractContent:
			return p.extraction.Process(ctx, job)
		case models.JobTypeEnrichChunks:
			return p.enrichment.Process(ctx, job)
		default:
			return fmt.Errorf("%w: unknown job type %q", apperrors.ErrNotFound, job.JobType)
		}
	})
}

func (p *WorkerPool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.sweepExpired(ctx); err != nil {
				p.logger.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}

func (p *WorkerPool) sweepExpired(ctx context.Context) error {
	scope, err := p.db.WithoutTenant(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer scope.Close()
	ctx = database.SetTenantScope(ctx, scope)

	reclaimed, err := p.jobs.ReclaimExpired(ctx, p.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		p.logger.Warn("reclaimed expired job leases", zap.Int("count", reclaimed))
	}
	return nil
}

// jittered spreads worker wakeups by ±10% to avoid synchronized polling.
func jittered(d time.Duration) time.Duration {
	jitter := float64(d) * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + jitter)
}
