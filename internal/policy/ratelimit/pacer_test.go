package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/clock/fake"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPacerSpacesRequestsPerKey(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(5*time.Second, clk, clk)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx, "spn2"))
	require.NoError(t, p.Wait(ctx, "spn2"))
	require.NoError(t, p.Wait(ctx, "spn2"))

	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clk.Sleeps())
	require.Equal(t, start.Add(10*time.Second), clk.Now())
}

func TestPacerKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(500*time.Millisecond, clk, clk)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx, "a.example"))
	require.NoError(t, p.Wait(ctx, "b.example"))
	require.Empty(t, clk.Sleeps())

	require.NoError(t, p.Wait(ctx, "a.example"))
	require.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Sleeps())
}

func TestPacerSleepsOnlyTheRemainder(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(5*time.Second, clk, clk)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx, "spn2"))
	clk.Advance(3 * time.Second)
	require.NoError(t, p.Wait(ctx, "spn2"))
	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 1)
	require.InDelta(t, float64(2*time.Second), float64(sleeps[0]), float64(time.Millisecond))

	clk.Advance(time.Minute)
	require.NoError(t, p.Wait(ctx, "spn2"))
	require.Len(t, clk.Sleeps(), 1)
}

func TestPacerDisabled(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(0, clk, clk)
	for range 3 {
		require.NoError(t, p.Wait(context.Background(), "x"))
	}
	require.Empty(t, clk.Sleeps())

	var nilPacer *Pacer
	require.NoError(t, nilPacer.Wait(context.Background(), "x"))
}

func TestPacerCancelledContext(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(time.Second, clk, clk)
	require.NoError(t, p.Wait(context.Background(), "k"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPacerForgetsIdleKeys(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	p := NewPacer(time.Second, clk, clk)
	ctx := context.Background()

	for _, domain := range []string{"a.example", "b.example", "c.example"} {
		require.NoError(t, p.Wait(ctx, domain))
	}
	require.Equal(t, 3, p.keys())

	clk.Advance(500 * time.Millisecond)
	require.NoError(t, p.Wait(ctx, "d.example"))
	require.Equal(t, 4, p.keys(), "keys within the interval are kept")

	clk.Advance(2 * time.Second)
	require.NoError(t, p.Wait(ctx, "a.example"))
	require.Equal(t, 1, p.keys())
	require.Empty(t, clk.Sleeps(), "an idle key starts with a full limiter")

	// Spacing still holds for the key that survived the sweep.
	require.NoError(t, p.Wait(ctx, "a.example"))
	require.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}
