// Package retry implements bounded retries with jittered exponential
// backoff for operations that fail transiently.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds the retry loop. Backoff doubles after every failed
// attempt, capped at MaxBackoff, with up to half the current backoff
// added as jitter.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits short lock contention and brief network blips.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// TransientFunc reports whether an error is worth another attempt.
type TransientFunc func(error) bool

// Do runs fn up to p.MaxAttempts times. Non-transient errors return
// immediately; context cancellation wins over any pending backoff.
// The last error is returned when every attempt fails.
func Do(ctx context.Context, p Policy, transient TransientFunc, fn func() error) error {
	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !transient(err) || attempt >= p.MaxAttempts {
			return err
		}

		sleep := backoff + jitter(backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

func jitter(backoff time.Duration) time.Duration {
	half := int64(backoff / 2)
	if half <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(half))
}
