package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls reconnect delays. Multiplier 1 with Jitter 0 gives a
// fixed delay of Initial. MaxRetries 0 retries forever.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    3 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// FixedRetryPolicy retries every delay, forever.
func FixedRetryPolicy(delay time.Duration) RetryPolicy {
	return RetryPolicy{Initial: delay, Max: delay, Multiplier: 1}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	p = p.normalized()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()
	return b
}
