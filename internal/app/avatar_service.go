package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"medscan/pkg/imaging"
	"medscan/pkg/predict"
)

var ErrNotImage = errors.New("file is not an image")

const (
	avatarMaxEdge  = 512
	avatarMaxBytes = 256 << 10
)

type AvatarService struct {
	blobs        BlobStore
	attempts     int
	retryOptions []predict.RetryOption
	logger       *zap.Logger
}

func NewAvatarService(blobs BlobStore, logger *zap.Logger, retryOptions ...predict.RetryOption) *AvatarService {
	return &AvatarService{
		blobs:        blobs,
		attempts:     predict.DefaultMaxAttempts,
		retryOptions: retryOptions,
		logger:       logger,
	}
}

// Upload shrinks the image to avatar size and stores it. It returns the
// public URL; the profile itself is not changed.
func (s *AvatarService) Upload(ctx context.Context, userID uint, data []byte) (string, error) {
	if userID == 0 || len(data) == 0 {
		return "", ErrInvalidInput
	}
	if !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		return "", ErrNotImage
	}

	out, err := imaging.Compress(data, imaging.Options{MaxBytes: avatarMaxBytes, MaxEdge: avatarMaxEdge})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	key := fmt.Sprintf("avatars/%d/%s%s", userID, uuid.NewString(), mimetype.Detect(out.Data).Extension())
	url, err := predict.UploadWithRetry(ctx, s.attempts, func(ctx context.Context) (string, error) {
		return s.blobs.Put(ctx, key, out.Data)
	}, s.retryOptions...)
	if err != nil {
		return "", err
	}

	s.logger.Info("avatar stored", zap.Uint("user_id", userID), zap.Int("bytes", len(out.Data)))
	return url, nil
}
