package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medscan/internal/model"
)

type PredictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// Create inserts p. Inserting an ID that already exists is a no-op, so a
// redelivered queue message does not fail.
func (r *PredictionRepository) Create(ctx context.Context, p *model.Prediction) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p).Error
	if err != nil {
		return fmt.Errorf("create prediction failed: %w", err)
	}
	return nil
}

// ListByUserID returns the newest predictions first.
func (r *PredictionRepository) ListByUserID(ctx context.Context, userID uint, limit int) ([]model.Prediction, error) {
	var predictions []model.Prediction
	if err := listByUser(r.db.WithContext(ctx), userID, limit).Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("list predictions failed: %w", err)
	}
	return predictions, nil
}

func listByUser(tx *gorm.DB, userID uint, limit int) *gorm.DB {
	return tx.Model(&model.Prediction{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit)
}
