package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/core-coin/speculum/internal/models"
)

type CursorRepository struct {
	conn *gorm.DB
}

func NewCursorRepository(conn *gorm.DB) *CursorRepository {
	return &CursorRepository{conn: conn}
}

func (r *CursorRepository) GetCursor(ctx context.Context, contract string) (*models.EventCursor, error) {
	var cursor models.EventCursor
	err := r.conn.WithContext(ctx).Where("contract = ?", contract).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &cursor, nil
}

func (r *CursorRepository) SaveCursor(ctx context.Context, cursor *models.EventCursor) error {
	err := r.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "updated_at"}),
	}).Create(cursor).Error
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
