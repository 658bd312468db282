package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Robogera/analytics/pkg/pipeline"
)

// Logs pipeline counters every stat_period_sec
func stat(ctx context.Context, parent_logger *slog.Logger, p *pipeline.Pipeline, stat_period_sec uint) error {
	logger := parent_logger.With("coroutine", "stat")
	if stat_period_sec == 0 {
		stat_period_sec = 1
	}
	period := time.Second * time.Duration(stat_period_sec)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var analyzed_since_last_tick int64 = 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stat cancelled by context")
			return context.Canceled
		case <-ticker.C:
			s := p.Stats()
			logger.Info(
				"Stats",
				"frames processed", s.Analyzed,
				"frames per second", float64(s.Analyzed-analyzed_since_last_tick)/period.Seconds(),
				"reported", s.Reported,
				"late", s.Late,
				"preview dropped", s.OutDropped)
			analyzed_since_last_tick = s.Analyzed
			for i, stage := range s.Stages {
				logger.Info(
					"Stage stats",
					"stage", i,
					"submitted", stage.Submitted,
					"skipped", stage.Skipped,
					"gated", stage.Gated,
					"dropped", stage.Dropped,
					"queue depth", stage.QueueDepth)
				for j, l := range stage.Lanes {
					logger.Debug(
						"Lane stats",
						"stage", i,
						"lane", j,
						"completed", l.Completed,
						"failed", l.Failed,
						"in flight", l.InFlight,
						"contract violations", l.Violations,
						"inference time", l.AvgInference)
				}
			}
		}
	}
}
