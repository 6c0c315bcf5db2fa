package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns how long to wait before the next attempt under the given
// policy. attempt is zero-based and expected to be >= 0.
func Delay(policy string, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case "fixed":
		return minDur(base, max)
	case "linear":
		return minDur(base*time.Duration(maxInt(1, attempt)), max)
	case "exponential":
		return minDur(scale(base, attempt), max)
	case "exp_equal_jitter":
		ceiling := minDur(scale(base, attempt), max)
		half := ceiling / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default: // exp_full_jitter
		ceiling := minDur(scale(base, attempt), max)
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(ceiling) + 1))
	}
}

func scale(base time.Duration, attempt int) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt))
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
