package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

type fakeHandler struct {
	events []string
	delay  time.Duration
	err    error

	mu   sync.Mutex
	seen []models.Event
	done atomic.Bool
}

func (h *fakeHandler) Events() []string { return h.events }

func (h *fakeHandler) Handle(ctx context.Context, ev models.Event) error {
	time.Sleep(h.delay)
	h.mu.Lock()
	h.seen = append(h.seen, ev)
	h.mu.Unlock()
	h.done.Store(true)
	return h.err
}

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

type upperTransformer struct{}

func (upperTransformer) Transform(ev models.Event) models.Event {
	ev.ReturnValues = map[string]interface{}{"transformed": true}
	return ev
}

func TestProcessRoutesToMatchingHandlers(t *testing.T) {
	staked := &fakeHandler{events: []string{"Staked", "Unstaked"}}
	registered := &fakeHandler{events: []string{"ProviderRegistered"}}
	p := New(logger.NewNop(), []Handler{staked, registered})

	require.NoError(t, p.Process(context.Background(), models.Event{Event: "Unstaked"}))

	assert.Equal(t, 1, staked.calls())
	assert.Equal(t, 0, registered.calls())
}

func TestProcessUnmatchedEventIsNoop(t *testing.T) {
	h := &fakeHandler{events: []string{"Staked"}}
	p := New(logger.NewNop(), []Handler{h})

	assert.NoError(t, p.Process(context.Background(), models.Event{Event: "Paused"}))
	assert.Equal(t, 0, h.calls())
}

func TestProcessRunsHandlersConcurrently(t *testing.T) {
	a := &fakeHandler{events: []string{"Staked"}, delay: 200 * time.Millisecond}
	b := &fakeHandler{events: []string{"Staked"}, delay: 200 * time.Millisecond}
	p := New(logger.NewNop(), []Handler{a, b})

	start := time.Now()
	require.NoError(t, p.Process(context.Background(), models.Event{Event: "Staked"}))

	assert.Less(t, time.Since(start), 390*time.Millisecond)
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, 1, b.calls())
}

func TestProcessWaitsForAllHandlersAndReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	failing := &fakeHandler{events: []string{"Staked"}, err: boom}
	slow := &fakeHandler{events: []string{"Staked"}, delay: 100 * time.Millisecond}
	p := New(logger.NewNop(), []Handler{failing, slow})

	err := p.Process(context.Background(), models.Event{Event: "Staked"})

	assert.ErrorIs(t, err, boom)
	assert.True(t, slow.done.Load(), "slow handler must finish before Process returns")
}

func TestProcessAppliesTransformer(t *testing.T) {
	h := &fakeHandler{events: []string{"Staked"}}
	p := New(logger.NewNop(), []Handler{h}, WithTransformer(upperTransformer{}), WithDomain(models.DomainNotifier))

	require.NoError(t, p.Process(context.Background(), models.Event{Event: "Staked"}))

	require.Equal(t, 1, h.calls())
	assert.Equal(t, true, h.seen[0].ReturnValues["transformed"])
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []string
	fail   map[string]bool
}

func (r *recordingProcessor) Process(ctx context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.TransactionHash)
	if r.fail[ev.TransactionHash] {
		return errors.New("handler failed")
	}
	return nil
}

type sliceIterator struct {
	batches []models.Batch
	pos     int
	err     error
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.batches) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Batch() models.Batch { return it.batches[it.pos-1] }
func (it *sliceIterator) Err() error          { return it.err }

type fakeFetcher struct {
	name    string
	batches []models.Batch
	err     error
	closed  bool
}

func (f *fakeFetcher) Name() string { return f.name }
func (f *fakeFetcher) Fetch(ctx context.Context) models.BatchIterator {
	return &sliceIterator{batches: f.batches, err: f.err}
}
func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

type progressRecorder struct {
	reports []string
}

func (p *progressRecorder) Report(contract string, events int) {
	p.reports = append(p.reports, fmt.Sprintf("%s:%d", contract, events))
}

func batch(hashes ...string) models.Batch {
	b := models.Batch{}
	for _, h := range hashes {
		b.Events = append(b.Events, models.Event{Event: "Staked", TransactionHash: h})
	}
	return b
}

func TestPrecacheDrainsFetchersInOrder(t *testing.T) {
	manager := &fakeFetcher{name: "notifier.manager", batches: []models.Batch{batch("a", "b"), batch("c")}}
	staking := &fakeFetcher{name: "notifier.staking", batches: []models.Batch{batch("d")}}
	proc := &recordingProcessor{fail: map[string]bool{"b": true}}
	progress := &progressRecorder{}

	err := Precache(context.Background(), logger.NewNop(), proc, progress, manager, staking)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, proc.events)
	assert.Equal(t, []string{"notifier.manager:2", "notifier.manager:1", "notifier.staking:1"}, progress.reports)
	assert.True(t, manager.closed)
	assert.True(t, staking.closed)
}

func TestPrecacheFetchErrorClosesEveryFetcher(t *testing.T) {
	broken := &fakeFetcher{name: "storage.manager", batches: []models.Batch{batch("a")}, err: errors.New("rpc down")}
	next := &fakeFetcher{name: "storage.staking", batches: []models.Batch{batch("b")}}
	proc := &recordingProcessor{}

	err := Precache(context.Background(), logger.NewNop(), proc, nil, broken, next)

	assert.ErrorContains(t, err, "storage.manager")
	assert.Equal(t, []string{"a"}, proc.events)
	assert.True(t, broken.closed)
	assert.True(t, next.closed)
}

type reporterSpy struct {
	kinds []models.NotificationKind
}

func (r *reporterSpy) Report(n models.Notification) {
	r.kinds = append(r.kinds, n.Kind)
}

func TestStreamDispatchesAndForwards(t *testing.T) {
	proc := &recordingProcessor{fail: map[string]bool{"bad": true}}
	reporter := &reporterSpy{}
	notifications := make(chan models.Notification, 8)

	notifications <- models.Notification{Kind: models.NewEvent, Event: &models.Event{Event: "Staked", TransactionHash: "bad"}}
	notifications <- models.Notification{Kind: models.NewConfirmation, BlockNumber: 10}
	notifications <- models.Notification{Kind: models.StreamError, Err: errors.New("socket closed")}
	notifications <- models.Notification{Kind: models.NewEvent, Event: &models.Event{Event: "Staked", TransactionHash: "good"}}
	notifications <- models.Notification{Kind: models.InvalidConfirmation}
	notifications <- models.Notification{Kind: models.ReorgOutOfRange, BlockNumber: 5}
	close(notifications)

	Stream(context.Background(), logger.NewNop(), proc, reporter, notifications)

	assert.Equal(t, []string{"bad", "good"}, proc.events)
	assert.Equal(t, []models.NotificationKind{models.NewConfirmation, models.InvalidConfirmation, models.ReorgOutOfRange}, reporter.kinds)
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Stream(ctx, logger.NewNop(), &recordingProcessor{}, nil, make(chan models.Notification))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}
