package util

import (
	"context"
	"errors"
	"testing"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(0),
		retry.MaxDelay(0),
		retry.Context(ctx),
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOptions(ctx)...)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return errors.New("permanent")
	}, fastOptions(ctx)...)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	got, err := RetryWithResult(ctx, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, fastOptions(ctx)...)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestIsDatabaseLocked(t *testing.T) {
	t.Parallel()

	assert.False(t, IsDatabaseLocked(nil))
	assert.False(t, IsDatabaseLocked(errors.New("disk I/O error")))
	assert.True(t, IsDatabaseLocked(errors.New("database is locked")))
	assert.True(t, IsDatabaseLocked(errors.New("step failed: database is locked (5)")))
}
