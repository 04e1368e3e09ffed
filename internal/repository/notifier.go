package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/core-coin/speculum/internal/models"
)

type NotifierRepository struct {
	conn *gorm.DB
}

func NewNotifierRepository(conn *gorm.DB) *NotifierRepository {
	return &NotifierRepository{conn: conn}
}

func (r *NotifierRepository) Transaction(ctx context.Context, fn func(tx models.NotifierRepository) error) error {
	return r.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&NotifierRepository{conn: tx})
	})
}

func (r *NotifierRepository) FindProvider(ctx context.Context, address string) (*models.Provider, error) {
	var provider models.Provider
	err := r.conn.WithContext(ctx).Where("address = ?", address).First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider: %w", err)
	}
	return &provider, nil
}

func (r *NotifierRepository) CreateProvider(ctx context.Context, provider *models.Provider) error {
	if err := r.conn.WithContext(ctx).Omit(clause.Associations).Create(provider).Error; err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (r *NotifierRepository) UpdateProvider(ctx context.Context, provider *models.Provider) error {
	if err := r.conn.WithContext(ctx).Omit(clause.Associations).Save(provider).Error; err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	return nil
}

func (r *NotifierRepository) GetProviders(ctx context.Context) ([]*models.Provider, error) {
	var providers []*models.Provider
	if err := r.conn.WithContext(ctx).Order("address").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to get providers: %w", err)
	}
	return providers, nil
}

func (r *NotifierRepository) GetProvidersByURL(ctx context.Context, url string) ([]*models.Provider, error) {
	var providers []*models.Provider
	if err := r.conn.WithContext(ctx).Where("url = ?", url).Order("address").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to get providers by url: %w", err)
	}
	return providers, nil
}

func (r *NotifierRepository) preloadPlan(ctx context.Context) *gorm.DB {
	return r.conn.WithContext(ctx).
		Preload("Channels", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Prices", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

func (r *NotifierRepository) FindPlan(ctx context.Context, providerID string, upstreamID int64) (*models.Plan, error) {
	var plan models.Plan
	err := r.preloadPlan(ctx).
		Where("provider_id = ? AND upstream_id = ?", providerID, upstreamID).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return &plan, nil
}

func (r *NotifierRepository) SavePlan(ctx context.Context, plan *models.Plan) error {
	if err := r.conn.WithContext(ctx).Omit(clause.Associations).Save(plan).Error; err != nil {
		return fmt.Errorf("failed to save plan %d: %w", plan.UpstreamID, err)
	}
	return nil
}

func (r *NotifierRepository) ReplaceChannels(ctx context.Context, plan *models.Plan, names []string) error {
	db := r.conn.WithContext(ctx)

	wanted := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			wanted = append(wanted, name)
		}
	}

	stale := db.Where("plan_id = ?", plan.ID)
	if len(wanted) > 0 {
		stale = stale.Where("name NOT IN ?", wanted)
	}
	if err := stale.Delete(&models.Channel{}).Error; err != nil {
		return fmt.Errorf("failed to remove stale channels: %w", err)
	}

	var existing []models.Channel
	if err := db.Where("plan_id = ?", plan.ID).Find(&existing).Error; err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	have := map[string]bool{}
	for _, c := range existing {
		have[c.Name] = true
	}
	for _, name := range wanted {
		if have[name] {
			continue
		}
		if err := db.Create(&models.Channel{PlanID: plan.ID, Name: name}).Error; err != nil {
			return fmt.Errorf("failed to create channel %q: %w", name, err)
		}
	}

	plan.Channels = nil
	return db.Where("plan_id = ?", plan.ID).Order("id").Find(&plan.Channels).Error
}

func (r *NotifierRepository) ReplacePrices(ctx context.Context, plan *models.Plan, prices []models.Price) error {
	db := r.conn.WithContext(ctx)

	rateIDs := make([]string, 0, len(prices))
	for _, p := range prices {
		rateIDs = append(rateIDs, p.RateID)
	}
	stale := db.Where("plan_id = ?", plan.ID)
	if len(rateIDs) > 0 {
		stale = stale.Where("rate_id NOT IN ?", rateIDs)
	}
	if err := stale.Delete(&models.Price{}).Error; err != nil {
		return fmt.Errorf("failed to remove stale prices: %w", err)
	}

	for _, p := range prices {
		var row models.Price
		err := db.Where("plan_id = ? AND rate_id = ?", plan.ID, p.RateID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.Price{PlanID: plan.ID, RateID: p.RateID, Price: p.Price}
			if err := db.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create price %s: %w", p.RateID, err)
			}
		case err != nil:
			return fmt.Errorf("failed to find price %s: %w", p.RateID, err)
		default:
			if err := db.Model(&row).Update("price", p.Price).Error; err != nil {
				return fmt.Errorf("failed to update price %s: %w", p.RateID, err)
			}
		}
	}

	plan.Prices = nil
	return db.Where("plan_id = ?", plan.ID).Order("id").Find(&plan.Prices).Error
}

func (r *NotifierRepository) GetPlans(ctx context.Context, providerID string) ([]*models.Plan, error) {
	var plans []*models.Plan
	if err := r.preloadPlan(ctx).
		Where("provider_id = ?", providerID).
		Order("upstream_id").
		Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to get plans: %w", err)
	}
	return plans, nil
}

func (r *NotifierRepository) SetPlanStatus(ctx context.Context, ids []uint, status models.PlanStatus) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.conn.WithContext(ctx).Model(&models.Plan{}).
		Where("id IN ?", ids).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to set plan status: %w", err)
	}
	return nil
}

func (r *NotifierRepository) FindRate(ctx context.Context, symbol string) (*models.Rate, error) {
	var rate models.Rate
	err := r.conn.WithContext(ctx).Where("token = ?", symbol).First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rate: %w", err)
	}
	return &rate, nil
}

func (r *NotifierRepository) FindSubscription(ctx context.Context, hash string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.conn.WithContext(ctx).Where("hash = ?", hash).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return &sub, nil
}

func (r *NotifierRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.conn.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *NotifierRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.conn.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (r *NotifierRepository) GetSubscriptions(ctx context.Context, consumer string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := r.conn.WithContext(ctx).
		Where("consumer = ?", consumer).
		Order("created_at").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	return subs, nil
}
