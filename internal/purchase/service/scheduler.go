package service

import (
	"context"
	"time"

	"github.com/rxledger/pharmacy-backend/pkg/logger"
)

// CleanupScheduler drives the retention cleanup periodically. On each
// tick it finds pharmacies whose last cleanup predates January 1 of
// the current year and runs the cleanup for each. The run itself is
// idempotent, so overlap with a manual invocation is harmless.
type CleanupScheduler struct {
	cleanup    *CleanupEngine
	pharmacies PharmacyStore
	interval   time.Duration
	logger     *logger.Logger
	cancel     context.CancelFunc
	now        func() time.Time
}

// NewCleanupScheduler creates a new cleanup scheduler
func NewCleanupScheduler(cleanup *CleanupEngine, pharmacies PharmacyStore, interval time.Duration, log *logger.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		cleanup:    cleanup,
		pharmacies: pharmacies,
		interval:   interval,
		logger:     log.WithComponent("cleanup-scheduler"),
		now:        time.Now,
	}
}

// Start starts the scheduler in a background goroutine.
func (s *CleanupScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("cleanup scheduler started")

		// Run an initial cycle immediately
		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("cleanup scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *CleanupScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runCycle runs the cleanup for every pharmacy not yet cleaned this
// calendar year.
func (s *CleanupScheduler) runCycle(ctx context.Context) {
	start := s.now()
	startOfYear := time.Date(start.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	due, err := s.pharmacies.ListDueCleanup(ctx, startOfYear)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pharmacies due for cleanup")
		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.Info().Int("pharmacy_count", len(due)).Msg("running scheduled retention cleanup")

	for _, pharmacy := range due {
		result := s.cleanup.Run(ctx, pharmacy.ID)
		if !result.Success {
			s.logger.Error().
				Str("pharmacy_id", pharmacy.ID).
				Str("error", result.Error).
				Msg("scheduled cleanup failed for pharmacy")
		}
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("pharmacy_count", len(due)).
		Msg("cleanup cycle completed")
}
