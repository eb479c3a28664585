// Package backoff computes jittered retry delays for control-plane operations
// such as bucket and stream creation.
package backoff

import (
	rand "math/rand/v2"
	"time"
)

// Jitter implements decorrelated jitter backoff with a cap.
//
// Given the previous delay, the next delay is drawn from
// [base, prev*multiplier) and clamped to capDur:
//
//	next = min(cap, base + rand(prev*multiplier - base))
//
// Behavior:
//   - If prev <= 0, start from base
//   - Multiplier < 1.0 falls back to 1.0 (no growth)
//   - Cap below base returns cap
//   - A nil rng uses the package-level PRNG
func Jitter(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}

	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// NewRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers use the package-level PRNG.
//
//nolint:gosec
func NewRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

// Between returns a uniformly random duration in [lo, hi]. It returns lo when hi <= lo.
func Between(lo, hi time.Duration, rng *rand.Rand) time.Duration {
	if hi <= lo {
		return lo
	}

	span := int64(hi-lo) + 1
	if rng != nil {
		return lo + time.Duration(rng.Int64N(span))
	}

	return lo + time.Duration(rand.Int64N(span)) //nolint:gosec // non-crypto cadence jitter
}
