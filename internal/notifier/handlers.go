package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/datatypes"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
	"github.com/core-coin/speculum/pkg/safego"
	"github.com/core-coin/speculum/pkg/validation"
)

const (
	EventProviderRegistered  = "ProviderRegistered"
	EventSubscriptionCreated = "SubscriptionCreated"
)

var (
	ErrProviderNotFound     = errors.New("provider not found")
	ErrSubscriptionNotFound = errors.New("subscription not found at provider")
)

// TokenResolver maps a token address to its rate-table symbol.
type TokenResolver interface {
	TokenSymbol(address string) (string, error)
}

// Reconciler refreshes the plan catalog of the providers behind one URL.
type Reconciler interface {
	Update(ctx context.Context, providerURL string) error
}

// ProviderHandler registers providers and kicks off a best-effort catalog refresh.
// The refreshes outlive Handle; Close cancels them and waits.
type ProviderHandler struct {
	logger     *logger.Logger
	repo       models.NotifierRepository
	emitter    models.Emitter
	reconciler Reconciler

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewProviderHandler creates the ProviderRegistered handler. reconciler may be nil.
func NewProviderHandler(logger *logger.Logger, repo models.NotifierRepository, emitter models.Emitter, reconciler Reconciler) *ProviderHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProviderHandler{
		logger:     logger,
		repo:       repo,
		emitter:    emitter,
		reconciler: reconciler,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close cancels running refreshes, waits for them, and stops new ones from starting.
func (h *ProviderHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

func (h *ProviderHandler) reconcile(url string) {
	if h.reconciler == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Debugw("Handler closed, skipping reconciliation", "url", url)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	safego.Go(h.ctx, h.logger, "reconcile "+url, func(ctx context.Context) error {
		defer h.wg.Done()
		return h.reconciler.Update(ctx, url)
	})
}

func (h *ProviderHandler) Events() []string {
	return []string{EventProviderRegistered}
}

func (h *ProviderHandler) Handle(ctx context.Context, ev models.Event) error {
	address, err := ev.String("provider")
	if err != nil {
		return err
	}
	url, err := ev.String("url")
	if err != nil {
		return err
	}
	address = validation.NormalizeAddress(address)

	provider, err := h.repo.FindProvider(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
	}
	if provider == nil {
		if err := h.repo.CreateProvider(ctx, &models.Provider{Address: address, URL: url}); err != nil {
			return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
		}
		h.emitter.Emit(models.EmitCreated, models.Wrap(ev))
	} else {
		provider.URL = url
		if err := h.repo.UpdateProvider(ctx, provider); err != nil {
			return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
		}
		h.emitter.Emit(models.EmitUpdated, models.Wrap(ev))
	}

	h.reconcile(url)
	return nil
}

// SubscriptionHandler stores subscriptions. The event is only the trigger;
// the subscription details come from the provider and must be fetched first.
type SubscriptionHandler struct {
	logger  *logger.Logger
	repo    models.NotifierRepository
	api     ProviderAPI
	tokens  TokenResolver
	emitter models.Emitter
}

func NewSubscriptionHandler(logger *logger.Logger, repo models.NotifierRepository, api ProviderAPI, tokens TokenResolver, emitter models.Emitter) *SubscriptionHandler {
	return &SubscriptionHandler{logger: logger, repo: repo, api: api, tokens: tokens, emitter: emitter}
}

func (h *SubscriptionHandler) Events() []string {
	return []string{EventSubscriptionCreated}
}

func (h *SubscriptionHandler) Handle(ctx context.Context, ev models.Event) error {
	if err := h.handle(ctx, ev); err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
	}
	return nil
}

func (h *SubscriptionHandler) handle(ctx context.Context, ev models.Event) error {
	hash, err := ev.String("hash")
	if err != nil {
		return err
	}
	providerAddr, err := ev.String("provider")
	if err != nil {
		return err
	}
	consumer, err := ev.String("consumer")
	if err != nil {
		return err
	}
	token, err := ev.String("token")
	if err != nil {
		return err
	}
	providerAddr = validation.NormalizeAddress(providerAddr)
	consumer = validation.NormalizeAddress(consumer)

	provider, err := h.repo.FindProvider(ctx, providerAddr)
	if err != nil {
		return err
	}
	if provider == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerAddr)
	}

	subs, err := h.api.GetSubscriptions(ctx, provider.URL, consumer, hash)
	if err != nil {
		return err
	}
	dto, ok := findSubscription(subs, hash)
	if !ok {
		return fmt.Errorf("%w: hash %s, consumer %s, provider %s", ErrSubscriptionNotFound, hash, consumer, provider.URL)
	}

	symbol, err := h.tokens.TokenSymbol(token)
	if err != nil {
		return err
	}

	sub := &models.Subscription{
		Hash:                 hash,
		Consumer:             consumer,
		ProviderID:           provider.Address,
		PlanID:               dto.SubscriptionPlanID,
		Status:               dto.Status,
		ExpirationDate:       dto.ExpirationDate,
		NotificationBalance:  dto.NotificationBalance,
		Paid:                 dto.Paid,
		Price:                dto.Price,
		RateID:               symbol,
		Topics:               topics(dto.Topics),
		PreviousSubscription: dto.PreviousSubscription,
		Signature:            dto.Signature,
	}

	existing, err := h.repo.FindSubscription(ctx, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		sub.CreatedAt = existing.CreatedAt
		if err := h.repo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		h.emitter.Emit(models.EmitUpdated, models.Wrap(ev))
		return nil
	}
	if err := h.repo.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	h.emitter.Emit(models.EmitCreated, models.Wrap(ev))
	return nil
}

func findSubscription(subs []SubscriptionDTO, hash string) (SubscriptionDTO, bool) {
	for _, s := range subs {
		if strings.EqualFold(s.Hash, hash) {
			return s, true
		}
	}
	return SubscriptionDTO{}, false
}

func topics(raw []byte) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
