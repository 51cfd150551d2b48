package quota

import (
	"math/rand"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

// jitterFraction bounds the random jitter added to a computed delay so
// concurrent callers do not retry in lockstep.
const jitterFraction = 0.3

type backoffClass struct {
	base time.Duration
	max  time.Duration
}

var backoffClasses = map[domain.ErrorClass]backoffClass{
	domain.ClassNetwork: {base: 500 * time.Millisecond, max: 30 * time.Second},
	domain.ClassTimeout: {base: time.Second, max: time.Minute},
	domain.ClassQuota:   {base: 2 * time.Second, max: 5 * time.Minute},
	domain.ClassModel:   {base: 5 * time.Second, max: 2 * time.Minute},
}

var defaultBackoff = backoffClass{base: time.Second, max: 30 * time.Second}

// BackoffDelay returns the retry delay for the given attempt (0-based) and
// error class: exponential growth from a class-specific base, capped at a
// class-specific maximum, plus bounded random jitter.
func BackoffDelay(attempt int, class domain.ErrorClass) time.Duration {
	d := backoffBase(attempt, class)
	jitter := time.Duration(rand.Int63n(int64(float64(d)*jitterFraction) + 1))
	return d + jitter
}

// backoffBase is the deterministic part of BackoffDelay: non-decreasing in
// attempt up to the class cap.
func backoffBase(attempt int, class domain.ErrorClass) time.Duration {
	c, ok := backoffClasses[class]
	if !ok {
		c = defaultBackoff
	}

	if attempt < 0 {
		attempt = 0
	}

	d := c.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.max {
			return c.max
		}
	}
	if d > c.max {
		return c.max
	}
	return d
}
