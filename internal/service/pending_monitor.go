package service

import (
	"context"
	"time"

	"chatrelay/internal/errors"
	"chatrelay/internal/metrics"

	"github.com/sirupsen/logrus"
)

type StalePendingCounter interface {
	CountStalePending(ctx context.Context, threshold time.Duration) (int, error)
}

// PendingMonitor periodically samples how many messages have sat in the
// pending state longer than the stale threshold. A growing backlog means
// recipients are not reconnecting or replay is broken.
type PendingMonitor struct {
	db             StalePendingCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *errors.Logger
	stopCh         chan struct{}
}

func NewPendingMonitor(db StalePendingCounter, checkInterval, staleThreshold time.Duration, logger *errors.Logger) *PendingMonitor {
	return &PendingMonitor{
		db:             db,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

func (m *PendingMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting pending backlog monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBacklog(ctx)
		}
	}
}

func (m *PendingMonitor) Stop() {
	close(m.stopCh)
}

func (m *PendingMonitor) checkBacklog(ctx context.Context) {
	count, err := m.db.CountStalePending(ctx, m.staleThreshold)
	if err != nil {
		m.logger.LogError(err, "Failed to count stale pending messages")
		return
	}
	metrics.SetGauge("router_pending_backlog", float64(count), nil, "Messages stuck in pending state")
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"stale_count": count,
			"threshold":   m.staleThreshold,
		}).Warn("Messages stuck in pending state beyond threshold")
	}
}
