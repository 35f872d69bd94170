package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retries with exponential backoff and jitter.
type Backoff struct {
	// Attempts counts the first try. 1 disables retries.
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Initial  time.Duration `mapstructure:"initial" yaml:"initial"`
	Max      time.Duration `mapstructure:"max" yaml:"max"`
	// Multiplier scales the delay after each attempt.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`
	// Jitter is the +/- fraction of random noise added to each delay.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`

	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool `mapstructure:"-" yaml:"-"`
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error) `mapstructure:"-" yaml:"-"`
}

// DefaultBackoff suits outbound webhook and API calls.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts:   3,
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = def.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Multiplier <= 0 {
		b.Multiplier = def.Multiplier
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.ShouldRetry == nil {
		b.ShouldRetry = IsTransient
	}
	return b
}

// Delay returns the sleep before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done. The last error is returned.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	b = b.withDefaults()

	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !b.ShouldRetry(err) || attempt == b.Attempts-1 {
			return err
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// LogRetries returns an OnRetry hook that logs at warn level.
func LogRetries(target string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying delivery",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
