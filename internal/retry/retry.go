// Package retry declares retry policies for outbound provider calls.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// BackoffKind selects how the wait grows between attempts
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Policy describes how often and when to retry a call. MaxAttempts counts
// the first call, so 3 means one call plus up to two retries.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffKind
	Base        time.Duration
	Retryable   func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error from fn is returned as is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 1 {
		return fn(ctx)
	}

	backoff := goretry.WithMaxRetries(uint64(p.MaxAttempts-1), p.backoff())
	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && p.Retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}

func (p Policy) backoff() goretry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}
	switch p.Backoff {
	case BackoffLinear:
		return linear(base)
	case BackoffExponential:
		return goretry.NewExponential(base)
	default:
		return goretry.NewConstant(base)
	}
}

// linear waits base, 2*base, 3*base and so on
func linear(base time.Duration) goretry.Backoff {
	var n int64
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * time.Duration(n), false
	})
}
