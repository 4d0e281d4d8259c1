package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{Interval: time.Millisecond, Timeout: 50 * time.Millisecond}
}

func TestUntil(t *testing.T) {
	t.Run("returns once condition holds", func(t *testing.T) {
		calls := 0
		err := Until(context.Background(), fastPolicy(), "ready", func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("checks before sleeping", func(t *testing.T) {
		p := Policy{Interval: time.Hour, Timeout: 2 * time.Hour}
		err := Until(context.Background(), p, "ready", func(context.Context) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
	})

	t.Run("propagates condition errors", func(t *testing.T) {
		boom := errors.New("boom")
		err := Until(context.Background(), fastPolicy(), "ready", func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("times out", func(t *testing.T) {
		err := Until(context.Background(), fastPolicy(), "never", func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "never")
	})

	t.Run("forever ignores timeout", func(t *testing.T) {
		p := Policy{Interval: time.Millisecond, Timeout: time.Millisecond, Forever: true}
		calls := 0
		err := Until(context.Background(), p, "slow", func(context.Context) (bool, error) {
			calls++
			return calls == 20, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 20, calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{Interval: time.Millisecond, Forever: true}
		calls := 0
		err := Until(ctx, p, "cancelled", func(context.Context) (bool, error) {
			calls++
			if calls == 2 {
				cancel()
			}
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPolicyDefaults(t *testing.T) {
	assert.Equal(t, DefaultInterval, Policy{}.Delay())
	assert.Equal(t, DefaultTimeout, Policy{}.MaxWait())
	assert.Equal(t, 5*time.Minute, Policy{Timeout: 5 * time.Minute}.MaxWait())
	assert.Greater(t, Policy{Forever: true}.MaxWait(), 24*time.Hour)
	assert.Equal(t, "every 10s, up to 30m0s", DefaultPolicy().String())
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
