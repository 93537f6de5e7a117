package shared

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: number taken", ErrConcurrency)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return fmt.Errorf("%w: still racing", ErrConcurrency)
	})
	require.ErrorIs(t, err, ErrConcurrency)
	require.Equal(t, 3, calls)
}

func TestRetryDoesNotRetryOtherKinds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetry, func(context.Context) error {
		calls++
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{Attempts: 5, BaseDelay: 10 * time.Millisecond}, func(context.Context) error {
		return fmt.Errorf("%w", ErrConcurrency)
	})
	require.ErrorIs(t, err, context.Canceled)
}
