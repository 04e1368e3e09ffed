// Package safego runs best-effort background work. A task started here never
// propagates its error or panic to the caller; both end up in the log.
package safego

import (
	"context"
	"runtime/debug"

	"github.com/core-coin/speculum/pkg/logger"
)

// Task is a unit of best-effort background work.
type Task func(ctx context.Context) error

// Go runs task in its own goroutine and returns a channel closed when it finishes.
// Callers that do not care about completion can drop the channel.
func Go(ctx context.Context, log *logger.Logger, name string, task Task) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, log, name, task)
	}()
	return done
}

// Run executes task synchronously with the same error boundary as Go.
func Run(ctx context.Context, log *logger.Logger, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Background task panicked",
				"task", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	if err := task(ctx); err != nil {
		log.Errorw("Background task failed", "task", name, "error", err)
	}
}
