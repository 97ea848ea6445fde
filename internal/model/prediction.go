package model

import (
	"fmt"
	"strconv"
	"time"

	"medscan/pkg/predict"
)

// Prediction is the stored form of predict.Record.
type Prediction struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	UserID          uint      `gorm:"not null;index:idx_prediction_user_time,priority:1" json:"user_id"`
	ModelType       string    `gorm:"size:16;not null" json:"model_type"`
	Label           string    `gorm:"size:128;not null" json:"label"`
	ConfidenceScore float64   `gorm:"not null" json:"confidence_score"`
	ImageURL        string    `gorm:"size:512;not null;default:''" json:"image_url"`
	CreatedAt       time.Time `gorm:"not null;index:idx_prediction_user_time,priority:2,sort:desc" json:"timestamp"`
}

func (p *Prediction) Record() predict.Record {
	return predict.Record{
		ID:              p.ID,
		UserID:          strconv.FormatUint(uint64(p.UserID), 10),
		ModelType:       predict.ModelType(p.ModelType),
		Label:           p.Label,
		ConfidenceScore: p.ConfidenceScore,
		ImageURL:        p.ImageURL,
		Timestamp:       p.CreatedAt,
	}
}

// PredictionFromRecord validates r and converts it to its stored form.
func PredictionFromRecord(r predict.Record) (*Prediction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	userID, err := strconv.ParseUint(r.UserID, 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("%w: bad user id %q", predict.ErrInvalidRecord, r.UserID)
	}
	return &Prediction{
		ID:              r.ID,
		UserID:          uint(userID),
		ModelType:       string(r.ModelType),
		Label:           r.Label,
		ConfidenceScore: r.ConfidenceScore,
		ImageURL:        r.ImageURL,
		CreatedAt:       r.Timestamp.UTC(),
	}, nil
}
