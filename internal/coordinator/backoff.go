package coordinator

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// backoffPolicy computes jittered exponential delays between retry attempts
// against the same source.
type backoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoffPolicy() backoffPolicy {
	return backoffPolicy{
		baseDelay: 250 * time.Millisecond,
		maxDelay:  10 * time.Second,
	}
}

// Backoff returns the wait before attempt n (0-based retry count), never less
// than floor, the source's configured inter-request delay.
func (p backoffPolicy) Backoff(attempt int, floor time.Duration) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	wait := time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
	if wait < floor {
		wait = floor
	}
	return wait
}

// retryable classifies a fetch error. Timeouts count as transient; job
// cancellation and permanently unsupported criteria do not.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, pricing.ErrSourceUnsupported):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
