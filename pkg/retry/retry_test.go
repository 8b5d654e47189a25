package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialBackoff)
	assert.Equal(t, 10*time.Second, p.MaxBackoff)
}

func TestDo_SucceedsFirstTime(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3).WithOnRetry(func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
	})
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.ErrCodeOracleTransient, "rate limited")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return apperrors.New(apperrors.ErrCodeOracleTransient, "unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeOracleTransient))
}

func TestDo_ContractViolationNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return apperrors.New(apperrors.ErrCodeInvalidDegreeValue, "very_high")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsContractViolation(err))
}

func TestDo_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	sentinel := errors.New("flaky")
	p := fastPolicy(4)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_ = fastPolicy(0).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return apperrors.New(apperrors.ErrCodeOracleTransient, "x")
	})
	assert.Equal(t, 1, calls)
}

func TestGenericDo(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (float64, error) {
		calls++
		if calls == 1 {
			return 0, apperrors.New(apperrors.ErrCodeTimeout, "slow")
		}
		return 0.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, 2, calls)
}
