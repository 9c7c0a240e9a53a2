// Package randtime provides randomized timing helpers used for election
// timeouts and jittered backoff.
package randtime

import (
	"math/rand"
	"time"
)

// Timeout generates a random duration in [min, max).
func Timeout(min, max time.Duration) time.Duration {
	n := rand.Int63n(int64(max-min)) + int64(min)
	return time.Duration(n)
}

// Int generates a random integer in [min, max).
func Int(min, max int) int {
	return min + rand.Intn(max-min)
}
