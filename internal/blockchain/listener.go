package blockchain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

const resubscribeDelay = 5 * time.Second

// Listener tails one contract on new heads. Each head confirms the blocks that are now
// Confirmations deep; their logs are pushed as NewEvent followed by one NewConfirmation.
// A head lower than the previous one is reported as InvalidConfirmation, or as
// ReorgOutOfRange when it reaches blocks already delivered.
type Listener struct {
	logger  *logger.Logger
	fetcher *LogFetcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewListener(logger *logger.Logger, fetcher *LogFetcher) *Listener {
	return &Listener{logger: logger, fetcher: fetcher}
}

func (l *Listener) Name() string {
	return l.fetcher.Name()
}

// Subscribe starts tailing. The returned channel is closed when ctx is done or Close is called.
func (l *Listener) Subscribe(ctx context.Context) (<-chan models.Notification, error) {
	from, err := l.fetcher.next(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	headers := make(chan *types.Header, BlockHeaderChannelBuffer)
	sub, err := l.fetcher.chain.SubscribeNewHead(ctx, headers)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan models.Notification, BlockHeaderChannelBuffer)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer close(out)
		l.run(ctx, sub, headers, out, from)
	}()
	return out, nil
}

type subscription interface {
	Unsubscribe()
	Err() <-chan error
}

func (l *Listener) run(ctx context.Context, sub subscription, headers chan *types.Header, out chan<- models.Notification, from uint64) {
	tl := &tail{listener: l, out: out, next: from}
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	for {
		var errCh <-chan error
		if sub != nil {
			errCh = sub.Err()
		}

		select {
		case <-ctx.Done():
			return
		case header := <-headers:
			if header == nil || header.Number == nil {
				continue
			}
			tl.head(ctx, header.Number.Uint64())
		case err := <-errCh:
			sub.Unsubscribe()
			sub = nil
			if err != nil {
				l.send(ctx, out, models.Notification{Kind: models.StreamError, Contract: l.Name(), Err: err})
			}
			sub = l.resubscribe(ctx, headers)
			if sub == nil {
				return
			}
		}
	}
}

func (l *Listener) resubscribe(ctx context.Context, headers chan *types.Header) subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
		sub, err := l.fetcher.chain.SubscribeNewHead(ctx, headers)
		if err == nil {
			l.logger.Infow("Resubscribed to new heads", "contract", l.Name())
			return sub
		}
		l.logger.Warnw("Failed to resubscribe to new heads", "contract", l.Name(), "error", err)
	}
}

func (l *Listener) send(ctx context.Context, out chan<- models.Notification, n models.Notification) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) Close() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// tail tracks what has been delivered for one subscription.
type tail struct {
	listener *Listener
	out      chan<- models.Notification
	next     uint64
	lastHead uint64
}

func (t *tail) head(ctx context.Context, number uint64) {
	l := t.listener
	f := l.fetcher

	if t.lastHead != 0 && number < t.lastHead {
		kind := models.InvalidConfirmation
		if number < t.next {
			kind = models.ReorgOutOfRange
		}
		l.send(ctx, t.out, models.Notification{Kind: kind, Contract: l.Name(), BlockNumber: number,
			Payload: map[string]interface{}{"previousHead": t.lastHead, "head": number}})
	}
	t.lastHead = number

	if number < f.contract.Confirmations {
		return
	}
	confirmed := number - f.contract.Confirmations
	for t.next <= confirmed {
		to := min(t.next+f.contract.BatchSize-1, confirmed)
		events, err := f.fetchRange(ctx, t.next, to)
		if err != nil {
			l.send(ctx, t.out, models.Notification{Kind: models.StreamError, Contract: l.Name(), Err: err})
			return
		}
		for i := range events {
			if !l.send(ctx, t.out, models.Notification{Kind: models.NewEvent, Contract: l.Name(), Event: &events[i], BlockNumber: events[i].BlockNumber}) {
				return
			}
		}
		if err := f.commit(ctx, to); err != nil {
			l.send(ctx, t.out, models.Notification{Kind: models.StreamError, Contract: l.Name(), Err: err})
			return
		}
		t.next = to + 1
		l.send(ctx, t.out, models.Notification{Kind: models.NewConfirmation, Contract: l.Name(), BlockNumber: to,
			Payload: map[string]interface{}{"head": number, "confirmations": f.contract.Confirmations, "events": len(events)}})
	}
}
