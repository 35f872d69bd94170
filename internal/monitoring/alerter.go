package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/config"
	"github.com/sells-group/quiz-funnel/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConversionDrought AlertType = "conversion_drought"
	AlertTrackingFailures  AlertType = "tracking_failure_rate"
	AlertTrackingDropped   AlertType = "tracking_dropped"
)

// minTrackingSample is the number of finished deliveries below which the
// failure rate is too noisy to alert on.
const minTrackingSample = 20

// Alert is one raised condition.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and reports whether its condition holds.
type rule func(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool)

var rules = []rule{
	func(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
		if cfg.MinConversions <= 0 || snap.Conversions >= cfg.MinConversions {
			return Alert{}, false
		}
		return Alert{
			Type:     AlertConversionDrought,
			Severity: "high",
			Message: fmt.Sprintf("only %d checkouts in the last %dh (minimum %d)",
				snap.Conversions, snap.LookbackHours, cfg.MinConversions),
			Details: map[string]any{"conversions": snap.Conversions, "by_tier": snap.ConversionsByTier},
		}, true
	},
	func(cfg config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
		finished := snap.TrackingDelivered + snap.TrackingFailed
		if cfg.FailureRateThreshold <= 0 || finished < minTrackingSample || snap.TrackingFailRate <= cfg.FailureRateThreshold {
			return Alert{}, false
		}
		return Alert{
			Type:     AlertTrackingFailures,
			Severity: "medium",
			Message: fmt.Sprintf("tracking sinks failing on %.1f%% of events (%d of %d)",
				snap.TrackingFailRate*100, snap.TrackingFailed, finished),
			Details: map[string]any{"failure_rate": snap.TrackingFailRate, "threshold": cfg.FailureRateThreshold},
		}, true
	},
	func(_ config.MonitoringConfig, snap *Snapshot) (Alert, bool) {
		if snap.TrackingDropped == 0 {
			return Alert{}, false
		}
		return Alert{
			Type:     AlertTrackingDropped,
			Severity: "medium",
			Message:  fmt.Sprintf("%d tracking events dropped on a full queue", snap.TrackingDropped),
			Details:  map[string]any{"dropped": snap.TrackingDropped},
		}, true
	},
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	guard  *resilience.Guard
	now    func() time.Time
}

// NewAlerter creates an Alerter. Delivery retries once on transient
// failures.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		guard: resilience.NewGuard("alert_webhook", resilience.GuardConfig{
			Backoff: resilience.Backoff{Attempts: 2, Initial: 100 * time.Millisecond, Max: time.Second},
			Breaker: resilience.DefaultBreakerConfig(),
		}),
		now: time.Now,
	}
}

// Evaluate returns the alerts the snapshot raises, in rule order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := a.now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring"))

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert not delivered", zap.String("type", string(alert.Type)), zap.Error(err))
			continue
		}
		log.Info("alert delivered", zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	return a.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "monitoring: build alert request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.Transient(eris.Wrap(err, "monitoring: post alert"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck
		return resilience.CheckStatus("alert_webhook", resp.StatusCode)
	})
}
