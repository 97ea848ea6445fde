package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan/pkg/predict"
)

func newTestPredictionCache(t *testing.T) (*PredictionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPredictionCache(client, time.Minute, 5*time.Second), mr
}

func sampleRecords() []predict.Record {
	return []predict.Record{{
		ID:              "r2",
		UserID:          "7",
		ModelType:       predict.ModelMRI,
		Label:           "Glioma",
		ConfidenceScore: 0.8,
		ImageURL:        "http://host/blobs/predictions/7/r2.jpg",
		Timestamp:       time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}}
}

func TestPredictionCacheHistoryRoundTrip(t *testing.T) {
	c, mr := newTestPredictionCache(t)
	ctx := context.Background()

	_, hit, err := c.GetHistory(ctx, 7, 10)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetHistory(ctx, 7, 10, sampleRecords()))
	got, hit, err := c.GetHistory(ctx, 7, 10)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, sampleRecords(), got)

	// a different limit is a different entry
	_, hit, err = c.GetHistory(ctx, 7, 5)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Equal(t, time.Minute, mr.TTL("prediction:history:7"))
	mr.FastForward(2 * time.Minute)
	_, hit, err = c.GetHistory(ctx, 7, 10)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPredictionCacheDeleteHistory(t *testing.T) {
	c, _ := newTestPredictionCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetHistory(ctx, 7, 10, sampleRecords()))
	require.NoError(t, c.SetHistory(ctx, 8, 10, sampleRecords()))
	require.NoError(t, c.DeleteHistory(ctx, 7))

	_, hit, err := c.GetHistory(ctx, 7, 10)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = c.GetHistory(ctx, 8, 10)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestPredictionCacheDirtyMarkerExpires(t *testing.T) {
	c, mr := newTestPredictionCache(t)
	ctx := context.Background()

	dirty, err := c.IsDirty(ctx, 7)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, c.MarkDirty(ctx, 7))
	dirty, err = c.IsDirty(ctx, 7)
	require.NoError(t, err)
	assert.True(t, dirty)

	dirty, err = c.IsDirty(ctx, 8)
	require.NoError(t, err)
	assert.False(t, dirty)

	mr.FastForward(6 * time.Second)
	dirty, err = c.IsDirty(ctx, 7)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestPredictionCacheCorruptEntry(t *testing.T) {
	c, mr := newTestPredictionCache(t)
	mr.HSet("prediction:history:7", "10", "not json")

	_, hit, err := c.GetHistory(context.Background(), 7, 10)
	assert.Error(t, err)
	assert.False(t, hit)
}
