package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/core-coin/speculum/internal/metrics"
	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// CatalogSource returns the current plan catalog of a provider.
type CatalogSource interface {
	GetSubscriptionPlans(ctx context.Context, baseURL string) ([]PlanDTO, error)
}

// Updater reconciles stored plans with the providers' catalogs.
// Passes of one Updater never overlap; a caller arriving during a pass waits its turn.
type Updater struct {
	logger *logger.Logger
	domain models.Domain
	repo   models.NotifierRepository
	api    CatalogSource
	tokens TokenResolver

	lock *semaphore.Weighted
}

func NewUpdater(logger *logger.Logger, domain models.Domain, repo models.NotifierRepository, api CatalogSource, tokens TokenResolver) *Updater {
	return &Updater{
		logger: logger,
		domain: domain,
		repo:   repo,
		api:    api,
		tokens: tokens,
		lock:   semaphore.NewWeighted(1),
	}
}

// Update reconciles the providers registered with providerURL, or every provider when it is empty.
// A provider that cannot be fetched or written is logged and skipped.
func (u *Updater) Update(ctx context.Context, providerURL string) error {
	if err := u.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire reconciliation lock: %w", err)
	}
	defer u.lock.Release(1)

	start := time.Now()
	defer func() {
		metrics.ReconcilePasses.WithLabelValues(string(u.domain)).Inc()
		metrics.ReconcileDuration.WithLabelValues(string(u.domain)).Observe(time.Since(start).Seconds())
	}()

	var (
		providers []*models.Provider
		err       error
	)
	if providerURL == "" {
		providers, err = u.repo.GetProviders(ctx)
	} else {
		providers, err = u.repo.GetProvidersByURL(ctx, providerURL)
	}
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}

	for _, p := range providers {
		if err := u.updateProvider(ctx, p); err != nil {
			metrics.ReconcileProviderFailures.WithLabelValues(string(u.domain)).Inc()
			u.logger.Errorw("Failed to reconcile provider",
				"domain", u.domain,
				"provider", p.Address,
				"url", p.URL,
				"error", err)
		}
	}
	return nil
}

func (u *Updater) updateProvider(ctx context.Context, provider *models.Provider) error {
	plans, err := u.api.GetSubscriptionPlans(ctx, provider.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch plans: %w", err)
	}

	for _, dto := range plans {
		err := u.repo.Transaction(ctx, func(tx models.NotifierRepository) error {
			return u.upsertPlan(ctx, tx, provider.Address, dto)
		})
		if err != nil {
			return fmt.Errorf("failed to update plan %d: %w", dto.ID, err)
		}
	}

	deactivated, err := u.deactivateMissing(ctx, provider.Address, plans)
	if err != nil {
		return err
	}
	u.logger.Infow("Provider reconciled",
		"domain", u.domain,
		"provider", provider.Address,
		"plans", len(plans),
		"deactivated", deactivated)
	return nil
}

// upsertPlan creates or updates one plan in place, then makes its channels and prices
// equal to the catalog's. An unknown token or rate fails the whole plan.
func (u *Updater) upsertPlan(ctx context.Context, tx models.NotifierRepository, providerID string, dto PlanDTO) error {
	plan, err := tx.FindPlan(ctx, providerID, dto.ID)
	if err != nil {
		return err
	}
	if plan == nil {
		plan = &models.Plan{UpstreamID: dto.ID, ProviderID: providerID}
	}
	plan.Name = dto.Name
	plan.Status = planStatus(dto.PlanStatus)
	plan.DaysLeft = dto.DaysLeft
	plan.Quantity = dto.Quantity
	if err := tx.SavePlan(ctx, plan); err != nil {
		return err
	}

	if err := tx.ReplaceChannels(ctx, plan, channelNames(dto)); err != nil {
		return err
	}

	prices := make([]models.Price, 0, len(dto.SubscriptionPriceList))
	for _, p := range dto.SubscriptionPriceList {
		symbol, err := u.tokens.TokenSymbol(p.Currency.Address.Value)
		if err != nil {
			return err
		}
		rate, err := tx.FindRate(ctx, symbol)
		if err != nil {
			return err
		}
		if rate == nil {
			return fmt.Errorf("no rate for symbol %q", symbol)
		}
		amount, err := decimal.NewFromString(p.Price)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", p.Price, err)
		}
		prices = append(prices, models.Price{RateID: symbol, Price: amount})
	}
	return tx.ReplacePrices(ctx, plan, prices)
}

// deactivateMissing marks INACTIVE every active stored plan with no structural
// match in the catalog. Prices and channels are kept.
func (u *Updater) deactivateMissing(ctx context.Context, providerID string, incoming []PlanDTO) (int, error) {
	stored, err := u.repo.GetPlans(ctx, providerID)
	if err != nil {
		return 0, err
	}

	var ids []uint
	for _, plan := range stored {
		if plan.Status == models.PlanInactive {
			continue
		}
		if !matchesAny(plan, incoming) {
			ids = append(ids, plan.ID)
		}
	}
	if err := u.repo.SetPlanStatus(ctx, ids, models.PlanInactive); err != nil {
		return 0, fmt.Errorf("failed to deactivate plans: %w", err)
	}
	metrics.ReconcilePlansDeactivated.WithLabelValues(string(u.domain)).Add(float64(len(ids)))
	return len(ids), nil
}

func matchesAny(plan *models.Plan, incoming []PlanDTO) bool {
	for _, dto := range incoming {
		if samePlan(plan, dto) {
			return true
		}
	}
	return false
}

// samePlan compares id, name, status, quantity, validity and the channel name set.
func samePlan(plan *models.Plan, dto PlanDTO) bool {
	return plan.UpstreamID == dto.ID &&
		plan.Name == dto.Name &&
		plan.Status == planStatus(dto.PlanStatus) &&
		plan.Quantity == dto.Quantity &&
		plan.DaysLeft == dto.DaysLeft &&
		sameSet(plan.ChannelNames(), channelNames(dto))
}

func channelNames(dto PlanDTO) []string {
	names := make([]string, 0, len(dto.Channels))
	for _, c := range dto.Channels {
		names = append(names, c.Name)
	}
	return names
}

func sameSet(a, b []string) bool {
	return strings.Join(uniqueSorted(a), "\x00") == strings.Join(uniqueSorted(b), "\x00")
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func planStatus(s string) models.PlanStatus {
	if strings.EqualFold(s, string(models.PlanInactive)) {
		return models.PlanInactive
	}
	return models.PlanActive
}
