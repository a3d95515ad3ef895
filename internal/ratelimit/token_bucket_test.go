package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 20*time.Second, defaultBucketTTL(1, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 10))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 0.5, 1))
	assert.Equal(t, 100*time.Millisecond, retryAfter(false, 0, 10))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, (&Result{}).RetryAfterSeconds())
	assert.Equal(t, 1, (&Result{RetryAfter: 100 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 3, (&Result{RetryAfter: 2500 * time.Millisecond}).RetryAfterSeconds())
}

func TestCastHelpers(t *testing.T) {
	assert.EqualValues(t, 1, castToInt(int64(1)))
	assert.EqualValues(t, 3, castToInt("3"))
	assert.InDelta(t, 0.75, castToFloat("0.75"), 1e-9)
	assert.InDelta(t, 2, castToFloat(int64(2)), 1e-9)
	assert.Zero(t, castToFloat(nil))
}

func TestNilLimiterAllows(t *testing.T) {
	var l *UsageIngestLimiter
	assert.False(t, l.Enabled())

	res, err := l.AllowOrg(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUnconfiguredBucketRejects(t *testing.T) {
	var b *TokenBucket
	res, err := b.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
	assert.False(t, res.Allowed)
}
