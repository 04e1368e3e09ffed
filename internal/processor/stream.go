package processor

import (
	"context"

	"github.com/core-coin/speculum/internal/metrics"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Stream feeds live events into proc until notifications is closed or ctx is done.
// Events are processed one at a time in delivery order. Failures are logged and the
// loop keeps listening. Confirmation and reorg signals go to reporter untouched.
func Stream(ctx context.Context, logger *logger.Logger, proc EventProcessor, reporter models.ConfirmationReporter, notifications <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			metrics.StreamSignals.WithLabelValues(n.Contract, string(n.Kind)).Inc()
			handle(ctx, logger, proc, reporter, n)
		}
	}
}

func handle(ctx context.Context, logger *logger.Logger, proc EventProcessor, reporter models.ConfirmationReporter, n models.Notification) {
	switch n.Kind {
	case models.NewEvent:
		if n.Event == nil {
			return
		}
		if err := proc.Process(ctx, *n.Event); err != nil {
			logger.Errorw("Failed to process event",
				"contract", n.Contract,
				"event", n.Event.Event,
				"block", n.Event.BlockNumber,
				"tx", n.Event.TransactionHash,
				"error", err)
		}
	case models.StreamError:
		logger.Errorw("Event stream error", "contract", n.Contract, "error", n.Err)
	case models.NewConfirmation, models.InvalidConfirmation, models.ReorgOutOfRange:
		if reporter != nil {
			reporter.Report(n)
		}
	default:
		logger.Warnw("Unknown stream notification", "contract", n.Contract, "kind", n.Kind)
	}
}
