package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
	"github.com/core-coin/speculum/pkg/validation"
)

// Subscriptions serves a consumer's subscriptions with their live state pulled from each provider.
type Subscriptions struct {
	logger *logger.Logger
	repo   models.NotifierRepository
	api    ProviderAPI
}

func NewSubscriptions(logger *logger.Logger, repo models.NotifierRepository, api ProviderAPI) *Subscriptions {
	return &Subscriptions{logger: logger, repo: repo, api: api}
}

// List returns the stored subscriptions of consumer without contacting providers.
func (s *Subscriptions) List(ctx context.Context, consumer string) ([]*models.Subscription, error) {
	return s.repo.GetSubscriptions(ctx, validation.NormalizeAddress(consumer))
}

// RefreshSubscriptions updates status, payment, balance and expiration of every
// subscription of consumer from its provider. A provider that fails keeps its rows as stored.
func (s *Subscriptions) RefreshSubscriptions(ctx context.Context, consumer string) ([]*models.Subscription, error) {
	consumer = validation.NormalizeAddress(consumer)
	subs, err := s.repo.GetSubscriptions(ctx, consumer)
	if err != nil {
		return nil, err
	}

	byProvider := map[string][]*models.Subscription{}
	var order []string
	for _, sub := range subs {
		if _, ok := byProvider[sub.ProviderID]; !ok {
			order = append(order, sub.ProviderID)
		}
		byProvider[sub.ProviderID] = append(byProvider[sub.ProviderID], sub)
	}

	for _, providerID := range order {
		if err := s.refreshProvider(ctx, consumer, providerID, byProvider[providerID]); err != nil {
			s.logger.Warnw("Failed to refresh subscriptions",
				"consumer", consumer,
				"provider", providerID,
				"error", err)
		}
	}
	return subs, nil
}

func (s *Subscriptions) refreshProvider(ctx context.Context, consumer, providerID string, subs []*models.Subscription) error {
	provider, err := s.repo.FindProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if provider == nil {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}

	hashes := make([]string, 0, len(subs))
	for _, sub := range subs {
		hashes = append(hashes, sub.Hash)
	}
	remote, err := s.api.GetSubscriptions(ctx, provider.URL, consumer, hashes...)
	if err != nil {
		return err
	}

	live := make(map[string]SubscriptionDTO, len(remote))
	for _, dto := range remote {
		live[strings.ToLower(dto.Hash)] = dto
	}
	for _, sub := range subs {
		dto, ok := live[strings.ToLower(sub.Hash)]
		if !ok {
			continue
		}
		sub.Status = dto.Status
		sub.Paid = dto.Paid
		sub.NotificationBalance = dto.NotificationBalance
		sub.ExpirationDate = dto.ExpirationDate
		if err := s.repo.SaveSubscription(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}
