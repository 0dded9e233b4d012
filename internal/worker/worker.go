// Package worker hosts the retention sweeper: a background loop that prunes
// detection history past the configured age.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rivaldimahardhika/ProjectMagang/internal/store"
)

// Sweeper deletes detections older than the retention window on a fixed
// interval. A zero retention disables pruning entirely.
type Sweeper struct {
	store     store.Querier
	retention time.Duration
	interval  time.Duration
	log       *logrus.Logger

	now func() time.Time
}

func New(q store.Querier, retention, interval time.Duration, log *logrus.Logger) *Sweeper {
	return &Sweeper{
		store:     q,
		retention: retention,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled. It blocks.
func (s *Sweeper) Start(ctx context.Context) {
	if s.retention <= 0 {
		s.log.Info("retention sweeper disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.DeleteDetectionsBefore(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("retention sweep failed")
		return
	}
	if deleted > 0 {
		s.log.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff,
		}).Info("pruned detection history")
	}
}
