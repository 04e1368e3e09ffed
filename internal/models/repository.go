package models

import "context"

// Lookups returning a single row return (nil, nil) when the row does not exist.

type StakeRepository interface {
	FindStake(ctx context.Context, account, token string) (*Stake, error)
	CreateStake(ctx context.Context, stake *Stake) error
	SaveStake(ctx context.Context, stake *Stake) error
	GetStakes(ctx context.Context, account string) ([]*Stake, error)
	GetRates(ctx context.Context, symbols ...string) (map[string]*Rate, error)
}

type NotifierRepository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	// A non-nil error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx NotifierRepository) error) error

	FindProvider(ctx context.Context, address string) (*Provider, error)
	CreateProvider(ctx context.Context, provider *Provider) error
	UpdateProvider(ctx context.Context, provider *Provider) error
	GetProviders(ctx context.Context) ([]*Provider, error)
	GetProvidersByURL(ctx context.Context, url string) ([]*Provider, error)

	FindPlan(ctx context.Context, providerID string, upstreamID int64) (*Plan, error)
	SavePlan(ctx context.Context, plan *Plan) error
	// ReplaceChannels makes the channel set of plan equal to names.
	ReplaceChannels(ctx context.Context, plan *Plan, names []string) error
	// ReplacePrices makes the price set of plan equal to prices.
	ReplacePrices(ctx context.Context, plan *Plan, prices []Price) error
	GetPlans(ctx context.Context, providerID string) ([]*Plan, error)
	SetPlanStatus(ctx context.Context, ids []uint, status PlanStatus) error

	FindRate(ctx context.Context, symbol string) (*Rate, error)

	FindSubscription(ctx context.Context, hash string) (*Subscription, error)
	CreateSubscription(ctx context.Context, sub *Subscription) error
	SaveSubscription(ctx context.Context, sub *Subscription) error
	GetSubscriptions(ctx context.Context, consumer string) ([]*Subscription, error)
}

type StorageRepository interface {
	FindOffer(ctx context.Context, provider string) (*StorageOffer, error)
	CreateOffer(ctx context.Context, offer *StorageOffer) error
	SaveOffer(ctx context.Context, offer *StorageOffer) error
	FindBillingPrice(ctx context.Context, offer string, period int64) (*BillingPrice, error)
	SaveBillingPrice(ctx context.Context, price *BillingPrice) error
	GetOffers(ctx context.Context) ([]*StorageOffer, error)
}

type CursorRepository interface {
	GetCursor(ctx context.Context, contract string) (*EventCursor, error)
	SaveCursor(ctx context.Context, cursor *EventCursor) error
}
