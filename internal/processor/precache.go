package processor

import (
	"context"
	"fmt"

	"github.com/core-coin/speculum/internal/metrics"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Precache drains every fetcher, one after the other, through proc.
// Batches are processed in the order they are yielded and the events of a batch in
// on-chain order. A failing event is logged and skipped; a failing fetch aborts.
// All fetchers are closed before Precache returns.
func Precache(ctx context.Context, logger *logger.Logger, proc EventProcessor, progress models.ProgressReporter, fetchers ...models.Fetcher) error {
	defer func() {
		for _, f := range fetchers {
			if cerr := f.Close(); cerr != nil {
				logger.Warnw("Failed to close fetcher", "contract", f.Name(), "error", cerr)
			}
		}
	}()

	for _, f := range fetchers {
		total, err := drain(ctx, logger, proc, progress, f)
		if err != nil {
			return fmt.Errorf("failed to precache %s: %w", f.Name(), err)
		}
		logger.Infow("Precache finished", "contract", f.Name(), "events", total)
	}
	return nil
}

func drain(ctx context.Context, logger *logger.Logger, proc EventProcessor, progress models.ProgressReporter, f models.Fetcher) (int, error) {
	total := 0
	it := f.Fetch(ctx)
	for it.Next(ctx) {
		batch := it.Batch()
		for _, ev := range batch.Events {
			if err := proc.Process(ctx, ev); err != nil {
				logger.Errorw("Failed to process historical event",
					"contract", f.Name(),
					"event", ev.Event,
					"block", ev.BlockNumber,
					"tx", ev.TransactionHash,
					"error", err)
			}
		}
		total += len(batch.Events)
		metrics.PrecacheEvents.WithLabelValues(f.Name()).Add(float64(len(batch.Events)))
		if progress != nil {
			progress.Report(f.Name(), len(batch.Events))
		}
	}
	return total, it.Err()
}

// LogProgress reports precache progress to the log.
type LogProgress struct {
	Logger *logger.Logger
}

func (p LogProgress) Report(contract string, events int) {
	p.Logger.Infow("Precached batch", "contract", contract, "events", events)
}
