package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quickRetry keeps backoff in the low milliseconds so exhaustion tests finish
// fast.
func quickRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// --- Do ---

func TestDo_FirstTrySucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversWithinBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("listing page 503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(3), func(context.Context) error {
		calls++
		return NewTransientError(fmt.Errorf("attempt %d failed", calls), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "attempt 3", "last failure should win")
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickRetry(5), func(context.Context) error {
		calls++
		return errors.New("malformed archive entry")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors should not burn retry budget")
}

func TestDo_ShouldRetryOverridesClassification(t *testing.T) {
	cfg := quickRetry(3)
	cfg.ShouldRetry = func(err error) bool {
		return err.Error() == "worth another pass"
	}

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("worth another pass")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := Do(ctx, quickRetry(10), func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("still down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "still down", "the call's error should surface, not the context's")
}

func TestDo_OnRetryReportsFailedAttempts(t *testing.T) {
	cfg := quickRetry(3)
	var reported []int
	cfg.OnRetry = func(attempt int, err error) {
		reported = append(reported, attempt)
	}

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})

	// Two retries follow three attempts; the final failure gets no callback.
	assert.Equal(t, []int{1, 2}, reported)
}

func TestDo_ZeroConfigGetsDefaults(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// --- DoVal ---

func TestDoVal_DeliversValue(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), quickRetry(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("cold cache"), 503)
		}
		return "sha256:abc123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc123", got)
	assert.Equal(t, 2, calls)
}

func TestDoVal_ZeroValueOnFailure(t *testing.T) {
	got, err := DoVal(context.Background(), quickRetry(2), func(context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, got, "partial results must not leak out of a failed retry loop")
}

// --- backoff schedule ---

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}.withDefaults()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		assert.Equal(t, w, cfg.backoff(i+1), "attempt %d", i+1)
	}
}

func TestBackoff_CappedAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
	}.withDefaults()

	assert.Equal(t, 5*time.Second, cfg.backoff(6))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	}.withDefaults()

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 200; i++ {
		d := cfg.backoff(1)
		seen[d] = struct{}{}
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1, "jitter should vary the delay")
}

// --- RetryLogger ---

func TestRetryLogger_Callable(t *testing.T) {
	t.Parallel()
	hook := RetryLogger("fetch", "download")
	hook(1, errors.New("connection reset by peer"))
}
