// Package processor routes decoded contract events to the domain handlers
// registered for them, for both historical backfill and live tailing.
package processor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/core-coin/speculum/internal/metrics"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Handler applies the events it declares to persisted state.
type Handler interface {
	Events() []string
	Handle(ctx context.Context, ev models.Event) error
}

// Transformer normalizes an event before dispatch.
type Transformer interface {
	Transform(ev models.Event) models.Event
}

// EventProcessor is anything that can take one event through the handler set.
type EventProcessor interface {
	Process(ctx context.Context, ev models.Event) error
}

type Option func(*Processor)

// WithTransformer runs every event through t before handler selection.
func WithTransformer(t Transformer) Option {
	return func(p *Processor) { p.transformer = t }
}

// WithDomain sets the domain label of the processor's metrics.
func WithDomain(domain models.Domain) Option {
	return func(p *Processor) { p.domain = string(domain) }
}

type Processor struct {
	logger      *logger.Logger
	domain      string
	transformer Transformer
	handlers    map[string][]Handler
}

// New indexes handlers by the event names they declare. The handler set is fixed afterwards.
func New(logger *logger.Logger, handlers []Handler, opts ...Option) *Processor {
	p := &Processor{
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, h := range handlers {
		for _, name := range h.Events() {
			p.handlers[name] = append(p.handlers[name], h)
		}
	}
	return p
}

// Process runs every handler matched to ev concurrently and waits for all of them.
// It returns the first handler error; the others still run to completion and their
// writes stay committed. Events without a handler are ignored.
func (p *Processor) Process(ctx context.Context, ev models.Event) error {
	if p.transformer != nil {
		ev = p.transformer.Transform(ev)
	}

	matched := p.handlers[ev.Event]
	if len(matched) == 0 {
		metrics.EventsUnmatched.WithLabelValues(p.domain, ev.Event).Inc()
		p.logger.Debugw("No handler for event", "event", ev.Event, "contract", ev.Contract)
		return nil
	}

	start := time.Now()
	var g errgroup.Group
	for _, h := range matched {
		g.Go(func() error {
			return h.Handle(ctx, ev)
		})
	}
	err := g.Wait()

	metrics.HandlerDuration.WithLabelValues(p.domain, ev.Event).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EventsFailed.WithLabelValues(p.domain, ev.Event).Inc()
		return err
	}
	metrics.EventsProcessed.WithLabelValues(p.domain, ev.Event).Inc()
	return nil
}
