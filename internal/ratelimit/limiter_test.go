package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_FixedWindow(t *testing.T) {
	l := &Limiter{Counter: NewMemoryCounter(), Max: 5, Window: time.Minute}

	for i := 1; i <= 5; i++ {
		ok, err := l.Allow(context.Background(), "order", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow(context.Background(), "order", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, ok, "sixth request in the window")
}

func TestAllow_IdentitiesAreIndependent(t *testing.T) {
	l := &Limiter{Counter: NewMemoryCounter(), Max: 1, Window: time.Minute}

	ok, err := l.Allow(context.Background(), "order", "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(context.Background(), "order", "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(context.Background(), "order", "b@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "other identities keep their own window")
}

func TestAllow_ScopesAreIndependent(t *testing.T) {
	l := &Limiter{Counter: NewMemoryCounter(), Max: 1, Window: time.Minute}

	ok, _ := l.Allow(context.Background(), "order:ip", "203.0.113.7")
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "order:email", "203.0.113.7")
	assert.True(t, ok)
}

func TestAllow_WindowRollsOver(t *testing.T) {
	l := &Limiter{Counter: NewMemoryCounter(), Max: 1, Window: 25 * time.Millisecond}

	ok, err := l.Allow(context.Background(), "order", "x")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, err = l.Allow(context.Background(), "order", "x")
	require.NoError(t, err)
	assert.True(t, ok, "new window starts a fresh count")
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAllow_FailsOpenOnCounterError(t *testing.T) {
	l := &Limiter{Counter: brokenCounter{}, Max: 5, Window: time.Minute}

	ok, err := l.Allow(context.Background(), "order", "x")
	assert.Error(t, err)
	assert.True(t, ok, "counter outage must not block order creation")
}

func TestMemoryCounter_ResetsAfterExpiry(t *testing.T) {
	c := NewMemoryCounter()
	n, err := c.Incr(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	time.Sleep(20 * time.Millisecond)
	n, err = c.Incr(context.Background(), "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
