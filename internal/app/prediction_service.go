package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"medscan/internal/model"
	"medscan/pkg/failure"
	"medscan/pkg/imaging"
	"medscan/pkg/predict"
)

type Predictor interface {
	Submit(ctx context.Context, file predict.File, modelType predict.ModelType) (*predict.Result, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

type RecordPublisher interface {
	Publish(ctx context.Context, v any) error
}

type PredictionHistoryCache interface {
	GetHistory(ctx context.Context, userID uint, limit int) ([]predict.Record, bool, error)
	SetHistory(ctx context.Context, userID uint, limit int, records []predict.Record) error
	DeleteHistory(ctx context.Context, userID uint) error
	MarkDirty(ctx context.Context, userID uint) error
	IsDirty(ctx context.Context, userID uint) (bool, error)
}

type PredictionLister interface {
	ListByUserID(ctx context.Context, userID uint, limit int) ([]model.Prediction, error)
}

type PredictionMetrics interface {
	RecordPrediction(modelType, outcome string, d time.Duration)
}

type PredictionConfig struct {
	Persist        bool
	DefaultLimit   int
	MaxLimit       int
	UploadAttempts int
	RetryOptions   []predict.RetryOption
}

type PredictionService struct {
	predictor Predictor
	blobs     BlobStore
	publisher RecordPublisher
	cache     PredictionHistoryCache
	lister    PredictionLister
	metrics   PredictionMetrics
	cfg       PredictionConfig
	logger    *zap.Logger
	now       func() time.Time
}

type PredictInput struct {
	UserID    uint
	ModelType predict.ModelType
	Filename  string
	Data      []byte
}

type PredictOutput struct {
	Result predict.Result
	// Record is nil when persistence is off or failed.
	Record *predict.Record
}

func NewPredictionService(
	predictor Predictor,
	blobs BlobStore,
	publisher RecordPublisher,
	cache PredictionHistoryCache,
	lister PredictionLister,
	metrics PredictionMetrics,
	cfg PredictionConfig,
	logger *zap.Logger,
) *PredictionService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = 50
	}
	if cfg.UploadAttempts <= 0 {
		cfg.UploadAttempts = predict.DefaultMaxAttempts
	}
	return &PredictionService{
		predictor: predictor,
		blobs:     blobs,
		publisher: publisher,
		cache:     cache,
		lister:    lister,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Predict classifies the image upstream. When persistence is on, the image
// and a PredictionRecord are stored afterwards; storage problems are logged
// and never turn a successful inference into a failure.
func (s *PredictionService) Predict(ctx context.Context, input PredictInput) (*PredictOutput, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	start := s.now()
	result, err := s.predictor.Submit(ctx, predict.File{Name: input.Filename, Data: input.Data}, input.ModelType)
	s.metrics.RecordPrediction(string(input.ModelType), outcome(err), s.now().Sub(start))
	if err != nil {
		return nil, err
	}

	out := &PredictOutput{Result: *result}
	if !s.cfg.Persist {
		return out, nil
	}

	rec, err := s.persist(ctx, input, *result)
	if err != nil {
		s.logger.Error("persist prediction failed",
			zap.Uint("user_id", input.UserID),
			zap.String("model_type", string(input.ModelType)),
			zap.Error(err),
		)
		return out, nil
	}
	out.Record = rec
	return out, nil
}

func (s *PredictionService) persist(ctx context.Context, input PredictInput, result predict.Result) (*predict.Record, error) {
	id := uuid.NewString()
	userID := strconv.FormatUint(uint64(input.UserID), 10)

	data := input.Data
	if compressed, err := imaging.Compress(input.Data, imaging.DefaultOptions()); err == nil {
		data = compressed.Data
	}
	key := fmt.Sprintf("predictions/%s/%s%s", userID, id, mimetype.Detect(data).Extension())

	imageURL, err := predict.UploadWithRetry(ctx, s.cfg.UploadAttempts, func(ctx context.Context) (string, error) {
		return s.blobs.Put(ctx, key, data)
	}, s.cfg.RetryOptions...)
	if err != nil {
		return nil, fmt.Errorf("store prediction image failed: %w", err)
	}

	rec := predict.Record{
		ID:              id,
		UserID:          userID,
		ModelType:       input.ModelType,
		Label:           result.Label,
		ConfidenceScore: result.ConfidenceScore,
		ImageURL:        imageURL,
		Timestamp:       s.now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	// readers skip the cache until the worker has written the record
	if err := s.cache.MarkDirty(ctx, input.UserID); err != nil {
		s.logger.Warn("mark history dirty failed", zap.Uint("user_id", input.UserID), zap.Error(err))
	}
	if err := s.publisher.Publish(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue prediction record failed: %w", err)
	}
	if err := s.cache.DeleteHistory(ctx, input.UserID); err != nil {
		s.logger.Warn("delete history cache failed", zap.Uint("user_id", input.UserID), zap.Error(err))
	}
	return &rec, nil
}

// ListPredictions returns the user's records newest first. limit <= 0 uses
// the default and larger values are capped.
func (s *PredictionService) ListPredictions(ctx context.Context, userID uint, limit int) ([]predict.Record, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	switch {
	case limit <= 0:
		limit = s.cfg.DefaultLimit
	case limit > s.cfg.MaxLimit:
		limit = s.cfg.MaxLimit
	}

	dirty, err := s.cache.IsDirty(ctx, userID)
	if err != nil {
		s.logger.Warn("check history dirty failed", zap.Uint("user_id", userID), zap.Error(err))
		dirty = true
	}
	if !dirty {
		records, ok, err := s.cache.GetHistory(ctx, userID, limit)
		if err != nil {
			s.logger.Warn("read history cache failed", zap.Uint("user_id", userID), zap.Error(err))
		}
		if ok {
			return records, nil
		}
	}

	rows, err := s.lister.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	records := make([]predict.Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].Record())
	}

	if !dirty {
		if err := s.cache.SetHistory(ctx, userID, limit, records); err != nil {
			s.logger.Warn("write history cache failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return records, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var perr *predict.Error
	if errors.As(err, &perr) {
		return perr.Kind.String()
	}
	return failure.KindOf(err).String()
}
