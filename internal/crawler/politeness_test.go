package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolitenessSpacesSameHost(t *testing.T) {
	p := NewPoliteness(Config{})
	ctx := context.Background()
	delay := 50 * time.Millisecond

	require.NoError(t, p.Wait(ctx, "Example.edu", delay))
	t1 := time.Now()
	require.NoError(t, p.Wait(ctx, "example.edu", delay))
	t2 := time.Now()
	assert.GreaterOrEqual(t, t2.Sub(t1), delay-5*time.Millisecond)
}

func TestPolitenessPenaltyDelaysNextRequest(t *testing.T) {
	p := NewPoliteness(Config{BackoffBase: 40 * time.Millisecond, BackoffMax: time.Second})
	ctx := context.Background()

	assert.Equal(t, 40*time.Millisecond, p.Penalize("example.edu", 2))
	assert.Positive(t, p.Penalty("EXAMPLE.edu"))

	start := time.Now()
	require.NoError(t, p.Wait(ctx, "example.edu", 0))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	start = time.Now()
	require.NoError(t, p.Wait(ctx, "other.edu", 0))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

func TestPolitenessHonorsContext(t *testing.T) {
	p := NewPoliteness(Config{BackoffBase: time.Minute, BackoffMax: time.Hour})
	p.Penalize("example.edu", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx, "example.edu", 0), context.Canceled)
}
