package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Publisher is the subset of Emitter the reporter needs.
type Publisher interface {
	PublishStats(StatsPayload) error
}

// RunReporter publishes collect() every interval until ctx is done.
// Publish failures are logged and the loop continues.
func RunReporter(ctx context.Context, pub Publisher, interval time.Duration, collect func() StatsPayload) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pub.PublishStats(collect()); err != nil {
				slog.Warn("telemetry: stats publish failed", "error", err)
			}
		}
	}
}
