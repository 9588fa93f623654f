package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: BackoffLinear, Base: time.Millisecond, Retryable: isBusy},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: BackoffLinear, Base: time.Millisecond, Retryable: isBusy},
		func(context.Context) error {
			calls++
			return errBusy
		})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	other := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Base: time.Millisecond, Retryable: isBusy},
		func(context.Context) error {
			calls++
			return other
		})

	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 1, Retryable: isBusy}, func(context.Context) error {
		calls++
		return errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_LinearBackoffWaits(t *testing.T) {
	start := time.Now()
	_ = Do(context.Background(), Policy{MaxAttempts: 3, Backoff: BackoffLinear, Base: 20 * time.Millisecond, Retryable: isBusy},
		func(context.Context) error { return errBusy })

	// 20ms then 40ms
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 10, Backoff: BackoffConstant, Base: 50 * time.Millisecond, Retryable: isBusy},
		func(context.Context) error {
			calls++
			cancel()
			return errBusy
		})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
