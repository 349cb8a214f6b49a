package proxy

import (
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// backoffDelay returns the inter-attempt delay for retry attempt n
// (0-indexed): an exponential schedule paced through a rate.Limiter
// reservation rather than hand-rolled sleep math, plus up to 250ms of
// jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(base), 1)
	limiter.Allow() // consume the initial burst token so Reserve below must wait a full interval
	delay := limiter.Reserve().Delay()
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	return delay + jitter
}
