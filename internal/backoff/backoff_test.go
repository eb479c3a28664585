package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitter_BoundsAndCapStickiness(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 500 * time.Millisecond
	rng := NewRNG(42)

	prev := time.Duration(0)
	for range 10 {
		next := Jitter(prev, base, 1.6, capDur, rng)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestJitter_EdgeCases(t *testing.T) {
	t.Run("first call returns base", func(t *testing.T) {
		require.Equal(t, 10*time.Millisecond, Jitter(0, 10*time.Millisecond, 2, time.Second, nil))
	})

	t.Run("cap below base wins", func(t *testing.T) {
		require.Equal(t, 5*time.Millisecond, Jitter(time.Second, 10*time.Millisecond, 2, 5*time.Millisecond, nil))
	})

	t.Run("non-positive base defaults", func(t *testing.T) {
		require.Equal(t, 50*time.Millisecond, Jitter(0, 0, 2, 0, nil))
	})
}

func TestJitter_Deterministic(t *testing.T) {
	a := NewRNG(7)
	b := NewRNG(7)

	prevA, prevB := time.Duration(0), time.Duration(0)
	for range 20 {
		prevA = Jitter(prevA, 10*time.Millisecond, 2, time.Second, a)
		prevB = Jitter(prevB, 10*time.Millisecond, 2, time.Second, b)
		require.Equal(t, prevA, prevB)
	}

	require.Nil(t, NewRNG(0))
}

func TestBetween(t *testing.T) {
	rng := NewRNG(1)
	for range 100 {
		d := Between(10*time.Second, 20*time.Second, rng)
		require.GreaterOrEqual(t, d, 10*time.Second)
		require.LessOrEqual(t, d, 20*time.Second)
	}

	require.Equal(t, 5*time.Second, Between(5*time.Second, 5*time.Second, nil))
	require.Equal(t, 5*time.Second, Between(5*time.Second, time.Second, nil))
}
