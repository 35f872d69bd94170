package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Guard combines a rate limit, a breaker and retries for one destination.
// Every attempt waits on the limiter and passes through the breaker; an
// open breaker ends the retry loop.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *Breaker
	backoff Backoff
}

// GuardConfig configures a Guard. RatePerSec <= 0 disables the limiter.
type GuardConfig struct {
	RatePerSec float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int           `mapstructure:"burst" yaml:"burst"`
	Backoff    Backoff       `mapstructure:"retry" yaml:"retry"`
	Breaker    BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// NewGuard builds a Guard named after its destination.
func NewGuard(name string, cfg GuardConfig) *Guard {
	g := &Guard{
		name:    name,
		breaker: NewBreaker(cfg.Breaker),
		backoff: cfg.Backoff,
	}
	if g.backoff.OnRetry == nil {
		g.backoff.OnRetry = LogRetries(name)
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g
}

// Name returns the destination name.
func (g *Guard) Name() string { return g.name }

// Breaker exposes the breaker for health reporting.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, g.backoff, func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return eris.Wrapf(err, "%s: rate limit wait", g.name)
			}
		}
		return g.breaker.Do(ctx, fn)
	})
}
