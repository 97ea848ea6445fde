package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"medscan/pkg/predict"
)

// PredictionCache keeps recent prediction listings per user in a Redis hash
// keyed by limit. A short-lived dirty marker tells readers that a write is
// still in flight and the database should be consulted instead.
type PredictionCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewPredictionCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *PredictionCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &PredictionCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *PredictionCache) GetHistory(ctx context.Context, userID uint, limit int) ([]predict.Record, bool, error) {
	raw, err := c.client.HGet(ctx, c.historyKey(userID), strconv.Itoa(limit)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var records []predict.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return records, true, nil
}

func (c *PredictionCache) SetHistory(ctx context.Context, userID uint, limit int, records []predict.Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	key := c.historyKey(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(limit), payload)
	pipe.Expire(ctx, key, c.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *PredictionCache) DeleteHistory(ctx context.Context, userID uint) error {
	if err := c.client.Del(ctx, c.historyKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *PredictionCache) MarkDirty(ctx context.Context, userID uint) error {
	if err := c.client.Set(ctx, c.dirtyKey(userID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *PredictionCache) IsDirty(ctx context.Context, userID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *PredictionCache) historyKey(userID uint) string {
	return fmt.Sprintf("prediction:history:%d", userID)
}

func (c *PredictionCache) dirtyKey(userID uint) string {
	return fmt.Sprintf("prediction:history:dirty:%d", userID)
}
