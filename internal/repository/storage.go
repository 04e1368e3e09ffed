package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/core-coin/speculum/internal/models"
)

type StorageRepository struct {
	conn *gorm.DB
}

func NewStorageRepository(conn *gorm.DB) *StorageRepository {
	return &StorageRepository{conn: conn}
}

func (r *StorageRepository) FindOffer(ctx context.Context, provider string) (*models.StorageOffer, error) {
	var offer models.StorageOffer
	err := r.conn.WithContext(ctx).
		Preload("Prices", func(db *gorm.DB) *gorm.DB { return db.Order("period") }).
		Where("provider = ?", provider).
		First(&offer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find offer: %w", err)
	}
	return &offer, nil
}

func (r *StorageRepository) CreateOffer(ctx context.Context, offer *models.StorageOffer) error {
	if err := r.conn.WithContext(ctx).Omit(clause.Associations).Create(offer).Error; err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

func (r *StorageRepository) SaveOffer(ctx context.Context, offer *models.StorageOffer) error {
	if err := r.conn.WithContext(ctx).Omit(clause.Associations).Save(offer).Error; err != nil {
		return fmt.Errorf("failed to save offer: %w", err)
	}
	return nil
}

func (r *StorageRepository) FindBillingPrice(ctx context.Context, offer string, period int64) (*models.BillingPrice, error) {
	var price models.BillingPrice
	err := r.conn.WithContext(ctx).Where("offer_id = ? AND period = ?", offer, period).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find billing price: %w", err)
	}
	return &price, nil
}

func (r *StorageRepository) SaveBillingPrice(ctx context.Context, price *models.BillingPrice) error {
	if err := r.conn.WithContext(ctx).Save(price).Error; err != nil {
		return fmt.Errorf("failed to save billing price: %w", err)
	}
	return nil
}

func (r *StorageRepository) GetOffers(ctx context.Context) ([]*models.StorageOffer, error) {
	var offers []*models.StorageOffer
	if err := r.conn.WithContext(ctx).
		Preload("Prices", func(db *gorm.DB) *gorm.DB { return db.Order("period") }).
		Order("provider").
		Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("failed to get offers: %w", err)
	}
	return offers, nil
}
