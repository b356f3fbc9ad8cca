package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/repository"
)

// ResultNotifier publishes terminal-status events for finished batches.
// Satisfied by events.Publisher.
type ResultNotifier interface {
	PublishBatchResult(ctx context.Context, batch *models.ImportBatch) error
}

// StuckBatchJob fails batches whose workflow run died without reaching a
// terminal status. The workflow's own timeout normally gets there first;
// this covers a worker that crashed mid-run and never came back.
type StuckBatchJob struct {
	repo     repository.BatchRepositoryInterface
	notifier ResultNotifier
	logger   *logrus.Logger
	maxAge   time.Duration
	interval time.Duration
	stopCh   chan struct{}
}

// NewStuckBatchJob creates a new stuck batch job. maxAge should comfortably
// exceed the workflow timeout so in-flight retries are never reaped.
func NewStuckBatchJob(repo repository.BatchRepositoryInterface, notifier ResultNotifier, maxAge time.Duration, logger *logrus.Logger) *StuckBatchJob {
	if logger == nil {
		logger = logrus.New()
	}
	return &StuckBatchJob{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		maxAge:   maxAge,
		interval: 5 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the stuck batch job
func (j *StuckBatchJob) Start(ctx context.Context) {
	j.logger.Info("Stuck batch job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			j.runCheck(ctx)
		case <-j.stopCh:
			j.logger.Info("Stuck batch job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Stuck batch job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *StuckBatchJob) Stop() {
	close(j.stopCh)
}

// runCheck finds and fails batches stuck in processing
func (j *StuckBatchJob) runCheck(ctx context.Context) {
	j.logger.Debug("Running stuck batch check...")

	cutoff := time.Now().Add(-j.maxAge)
	batches, err := j.repo.FindStuckBatches(ctx, cutoff)
	if err != nil {
		j.logger.Errorf("Failed to find stuck batches: %v", err)
		return
	}

	if len(batches) == 0 {
		j.logger.Debug("No stuck batches")
		return
	}

	j.logger.Infof("Found %d stuck batches", len(batches))

	for _, batch := range batches {
		message := fmt.Sprintf("import timed out after %s", j.maxAge)
		if err := j.repo.MarkFailed(ctx, batch.ID, message, time.Now()); err != nil {
			// Lost the race against a finishing run, which is fine.
			j.logger.Debugf("Skipping batch %s: %v", batch.ID, err)
			continue
		}
		j.logger.Infof("Marked stuck batch %s as failed", batch.ID)

		if j.notifier != nil {
			failed, err := j.repo.GetByID(ctx, batch.ID)
			if err != nil {
				j.logger.Errorf("Failed to reload batch %s: %v", batch.ID, err)
				continue
			}
			if err := j.notifier.PublishBatchResult(ctx, failed); err != nil {
				j.logger.Errorf("Failed to publish result for batch %s: %v", batch.ID, err)
			}
		}
	}
}
