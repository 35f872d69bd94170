package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/config"
)

// Checker collects, evaluates and alerts on an interval. An alert type that
// was delivered is not delivered again until the lookback window has
// passed, so a persistent condition pages once per window.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker wires a collector to an alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		lastSent:  make(map[AlertType]time.Time),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

func (c *Checker) repeatAfter() time.Duration {
	if c.cfg.LookbackWindowHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.cfg.LookbackWindowHours) * time.Hour
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("funnel health checks enabled", zap.Duration("every", c.interval()))

	t := time.NewTicker(c.interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one round and returns every alert the snapshot raised,
// including ones suppressed as repeats.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("health snapshot failed", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	fresh := c.unsent(alerts)
	if len(fresh) == 0 {
		log.Debug("funnel healthy", zap.Int("conversions", snap.Conversions), zap.Int("raised", len(alerts)))
		return alerts
	}

	if sent := c.alerter.SendAlerts(ctx, fresh); sent > 0 {
		c.markSent(fresh)
	}
	return alerts
}

func (c *Checker) unsent(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && a.Timestamp.Sub(last) < c.repeatAfter() {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range alerts {
		c.lastSent[a.Type] = a.Timestamp
	}
}
