package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"wrapped transient", fmt.Errorf("send: %w", Transient(errors.New("503"), 503)), true},
		{"connection reset text", errors.New("read tcp: connection reset by peer"), true},
		{"timeout text", errors.New("dial tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckStatus("webhook", http.StatusNoContent))

	err := CheckStatus("webhook", http.StatusServiceUnavailable)
	require.Error(t, err)
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)

	err = CheckStatus("webhook", http.StatusBadRequest)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "400")
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	t.Parallel()

	var calls int
	var retried []int
	b := fastBackoff(3)
	b.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), b, func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("busy"), 429)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	t.Parallel()

	var calls int
	err := Retry(context.Background(), fastBackoff(5), func(context.Context) error {
		calls++
		return errors.New("bad payload")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var calls int
	err := Retry(context.Background(), fastBackoff(4), func(context.Context) error {
		calls++
		return Transient(errors.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}
	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, b, func(context.Context) error {
		calls++
		return Transient(errors.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 300*time.Millisecond, b.Delay(5))

	b.Jitter = 0.5
	for range 20 {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	var changes []string
	b := NewBreaker(BreakerConfig{
		Failures: 2,
		Cooldown: time.Minute,
		OnStateChange: func(from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})
	b.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("fail") }
	ok := func(context.Context) error { return nil }

	_ = b.Do(context.Background(), fail)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Failures())

	_ = b.Do(context.Background(), fail)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, changes)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Failures: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(time.Second)
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, Open, b.State())
}

func TestGuard_OpenBreakerStopsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := NewGuard("webhook", GuardConfig{
		Backoff: fastBackoff(5),
		Breaker: BreakerConfig{Failures: 2, Cooldown: time.Hour},
	})

	err := g.Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		return Transient(errors.New("down"), 503)
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, Open, g.Breaker().State())
	assert.Equal(t, "webhook", g.Name())
}

func TestGuard_RateLimited(t *testing.T) {
	t.Parallel()

	g := NewGuard("pixel", GuardConfig{RatePerSec: 1000, Burst: 1, Backoff: fastBackoff(1)})
	for range 3 {
		require.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewGuard("slow", GuardConfig{RatePerSec: 0.001, Burst: 1, Backoff: fastBackoff(1)})
	require.NoError(t, slow.Do(context.Background(), func(context.Context) error { return nil }))
	assert.Error(t, slow.Do(ctx, func(context.Context) error { return nil }))
}
