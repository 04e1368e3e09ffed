package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/core-coin/speculum/internal/models"
)

// StakeTable returns the stake table of a domain.
func StakeTable(domain models.Domain) string {
	return string(domain) + "_stakes"
}

type StakeRepository struct {
	conn  *gorm.DB
	table string
}

func NewStakeRepository(conn *gorm.DB, domain models.Domain) *StakeRepository {
	return &StakeRepository{conn: conn, table: StakeTable(domain)}
}

func (r *StakeRepository) FindStake(ctx context.Context, account, token string) (*models.Stake, error) {
	var stake models.Stake
	err := r.conn.WithContext(ctx).Table(r.table).
		Where("account = ? AND token = ?", account, token).
		First(&stake).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stake: %w", err)
	}
	return &stake, nil
}

func (r *StakeRepository) CreateStake(ctx context.Context, stake *models.Stake) error {
	if err := r.conn.WithContext(ctx).Table(r.table).Create(stake).Error; err != nil {
		return fmt.Errorf("failed to create stake: %w", err)
	}
	return nil
}

func (r *StakeRepository) SaveStake(ctx context.Context, stake *models.Stake) error {
	if err := r.conn.WithContext(ctx).Table(r.table).Save(stake).Error; err != nil {
		return fmt.Errorf("failed to save stake: %w", err)
	}
	return nil
}

func (r *StakeRepository) GetStakes(ctx context.Context, account string) ([]*models.Stake, error) {
	var stakes []*models.Stake
	if err := r.conn.WithContext(ctx).Table(r.table).
		Where("account = ?", account).
		Order("token").
		Find(&stakes).Error; err != nil {
		return nil, fmt.Errorf("failed to get stakes: %w", err)
	}
	return stakes, nil
}

// GetRates returns the rate rows of the given symbols keyed by symbol.
// Symbols without a row are absent from the map.
func (r *StakeRepository) GetRates(ctx context.Context, symbols ...string) (map[string]*models.Rate, error) {
	rates := map[string]*models.Rate{}
	if len(symbols) == 0 {
		return rates, nil
	}
	var rows []*models.Rate
	if err := r.conn.WithContext(ctx).Where("token IN ?", symbols).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get rates: %w", err)
	}
	for _, row := range rows {
		rates[row.Token] = row
	}
	return rates, nil
}
