// Package storage builds storage offers from the storage manager contract events.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
	"github.com/core-coin/speculum/pkg/validation"
)

const (
	EventCapacitySet        = "CapacitySet"
	EventMaximumDurationSet = "MaximumDurationSet"
	EventPriceSet           = "PriceSet"
)

// ErrInvalidPeriod is returned for a billing period that does not fit the period key.
var ErrInvalidPeriod = errors.New("invalid billing period")

var maxPeriod = decimal.NewFromInt(math.MaxInt64)

// TokenResolver maps a token address to its rate-table symbol.
type TokenResolver interface {
	TokenSymbol(address string) (string, error)
}

// OfferHandler keeps one offer per provider. Each event touches only the fields it carries.
type OfferHandler struct {
	logger  *logger.Logger
	repo    models.StorageRepository
	tokens  TokenResolver
	emitter models.Emitter
}

func NewOfferHandler(logger *logger.Logger, repo models.StorageRepository, tokens TokenResolver, emitter models.Emitter) *OfferHandler {
	return &OfferHandler{logger: logger, repo: repo, tokens: tokens, emitter: emitter}
}

func (h *OfferHandler) Events() []string {
	return []string{EventCapacitySet, EventMaximumDurationSet, EventPriceSet}
}

func (h *OfferHandler) Handle(ctx context.Context, ev models.Event) error {
	provider, err := ev.String("provider")
	if err != nil {
		return err
	}
	provider = validation.NormalizeAddress(provider)

	offer, created, err := h.offer(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
	}

	switch ev.Event {
	case EventCapacitySet:
		err = h.setCapacity(ctx, offer, ev)
	case EventMaximumDurationSet:
		err = h.setMaximumDuration(ctx, offer, ev)
	case EventPriceSet:
		err = h.setPrice(ctx, offer, ev)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev.Event, err)
	}

	fresh, err := h.repo.FindOffer(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to reload offer: %w", err)
	}
	kind := models.EmitUpdated
	if created {
		kind = models.EmitCreated
	}
	h.emitter.Emit(kind, map[string]interface{}{
		"event": ev.Event,
		"offer": fresh,
	})
	return nil
}

func (h *OfferHandler) offer(ctx context.Context, provider string) (*models.StorageOffer, bool, error) {
	offer, err := h.repo.FindOffer(ctx, provider)
	if err != nil {
		return nil, false, err
	}
	if offer != nil {
		return offer, false, nil
	}
	offer = &models.StorageOffer{Provider: provider, TotalCapacity: decimal.Zero, MaximumDuration: decimal.Zero}
	if err := h.repo.CreateOffer(ctx, offer); err != nil {
		return nil, false, err
	}
	return offer, true, nil
}

func (h *OfferHandler) setCapacity(ctx context.Context, offer *models.StorageOffer, ev models.Event) error {
	capacity, err := ev.Decimal("capacity")
	if err != nil {
		return err
	}
	offer.TotalCapacity = capacity
	return h.repo.SaveOffer(ctx, offer)
}

func (h *OfferHandler) setMaximumDuration(ctx context.Context, offer *models.StorageOffer, ev models.Event) error {
	duration, err := ev.Decimal("maximumDuration")
	if err != nil {
		return err
	}
	offer.MaximumDuration = duration
	return h.repo.SaveOffer(ctx, offer)
}

func (h *OfferHandler) setPrice(ctx context.Context, offer *models.StorageOffer, ev models.Event) error {
	period, err := ev.Decimal("period")
	if err != nil {
		return err
	}
	if period.IsNegative() || !period.IsInteger() || period.GreaterThan(maxPeriod) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, period.String())
	}
	amount, err := ev.Decimal("price")
	if err != nil {
		return err
	}
	token, err := ev.String("token")
	if err != nil {
		return err
	}
	token = validation.NormalizeAddress(token)
	symbol, err := h.tokens.TokenSymbol(token)
	if err != nil {
		return err
	}

	price, err := h.repo.FindBillingPrice(ctx, offer.Provider, period.IntPart())
	if err != nil {
		return err
	}
	if price == nil {
		price = &models.BillingPrice{OfferID: offer.Provider, Period: period.IntPart()}
	}
	price.Amount = amount
	price.Token = token
	price.RateID = symbol
	if err := h.repo.SaveBillingPrice(ctx, price); err != nil {
		return err
	}
	h.logger.Debugw("Billing price set", "provider", offer.Provider, "period", price.Period, "amount", amount.String(), "token", symbol)
	return h.repo.SaveOffer(ctx, offer)
}
