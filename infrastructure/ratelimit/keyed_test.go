package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryKeyedLimiterPerKeyCeiling(t *testing.T) {
	l := NewMemoryKeyedLimiter(2)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, "worker-a")
	require.NoError(t, err)
	require.False(t, ok, "third request within the burst should be refused")
}

func TestMemoryKeyedLimiterIsolatesKeys(t *testing.T) {
	l := NewMemoryKeyedLimiter(1)
	ctx := context.Background()

	okA, err := l.Allow(ctx, "worker-a")
	require.NoError(t, err)
	require.True(t, okA)

	okB, err := l.Allow(ctx, "worker-b")
	require.NoError(t, err)
	require.True(t, okB, "a different key must not share worker-a's budget")
}
