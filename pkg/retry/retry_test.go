package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gqlerrors "github.com/c360/gqlpool/errors"
)

func fast(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	cause := errors.New("connection refused")
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked", NonRetryable(errors.New("bad address"))},
		{"fatal", gqlerrors.WrapFatal(errors.New("no such driver"), "Store", "Open", "select driver")},
		{"invalid", gqlerrors.WrapInvalid(errors.New("bad frame"), "Client", "Do", "encode")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fast(5), func() error {
				attempts++
				return tt.err
			})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, 1, attempts)
		})
	}

	assert.Nil(t, NonRetryable(nil))
	assert.False(t, IsNonRetryable(errors.New("plain")))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("not yet")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2}.normalized()
	require.NoError(t, err)

	sleep, next := cfg.backoff(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, sleep)
	assert.Equal(t, 20*time.Millisecond, next)

	_, next = cfg.backoff(next)
	assert.Equal(t, 25*time.Millisecond, next, "delay is capped")

	cfg.AddJitter = true
	sleep, _ = cfg.backoff(100 * time.Millisecond)
	assert.GreaterOrEqual(t, sleep, 100*time.Millisecond)
	assert.Less(t, sleep, 125*time.Millisecond)
}

func TestConfig_Normalized(t *testing.T) {
	cfg, err := Config{}.normalized()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, DefaultConfig().InitialDelay, cfg.InitialDelay)

	_, err = Config{InitialDelay: -1}.normalized()
	assert.Error(t, err)

	_, err = Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}.normalized()
	assert.Error(t, err)

	for _, preset := range []Config{DefaultConfig(), Bind(), Dial()} {
		_, err := preset.normalized()
		assert.NoError(t, err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fast(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("retry me")
		}
		return "127.0.0.1:4000", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", got)
}
