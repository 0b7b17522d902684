package service

import (
	"context"
	"time"

	"chatrelay/internal/constants"
	"chatrelay/internal/errors"
)

type MessageJanitor interface {
	CleanupOldMessages(ctx context.Context, retentionDays int) (int64, error)
}

// Scheduler runs the retention cleanup on a fixed interval. Only read
// messages past the retention window are removed; pending and delivered
// messages are kept until their recipient has seen them.
type Scheduler struct {
	store         MessageJanitor
	retentionDays int
	intervalHours int
	logger        *errors.Logger
	stopCh        chan struct{}
}

func NewScheduler(store MessageJanitor, retentionDays, intervalHours int, logger *errors.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	return &Scheduler{
		store:         store,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled cleanup")

	removed, err := s.store.CleanupOldMessages(ctx, s.retentionDays)
	if err != nil {
		s.logger.LogError(err, "Failed to cleanup old messages")
		return
	}
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed cleanup")
}
