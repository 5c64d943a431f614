package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(60, 2)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽后应拒绝")
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketWaitRefills(t *testing.T) {
	tb := NewTokenBucket(6000, 1) // 每秒 100 个令牌
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewRateLimitedLLMModelZeroQPM(t *testing.T) {
	assert.Nil(t, NewRateLimitedLLMModel(nil, 0), "qpm 为 0 时应原样返回")
}
