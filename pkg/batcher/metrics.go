package batcher

import (
	"context"
	"time"

	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
)

const metricsUpdateInterval = 15 * time.Second

// startMetricsUpdater re-reads gauges from the store periodically
func (s *Service) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateMetrics(ctx)
		}
	}
}

// updateMetrics corrects drift in the pending intents gauge
func (s *Service) updateMetrics(ctx context.Context) {
	pending, err := s.engine.PendingIntentCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending intents: %v", err)
		return
	}
	metrics.PendingIntents.Set(float64(pending))
	s.logger.Debug("Metrics updated: %d pending intents", pending)
}
