package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/resilience"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink logs through l, or the global logger when l is nil.
func NewLogSink(l *zap.Logger) *LogSink {
	if l == nil {
		l = zap.L()
	}
	return &LogSink{log: l.With(zap.String("component", "tracking"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, e Event) error {
	s.log.Info("track",
		zap.String("event", e.Name),
		zap.String("session_id", e.SessionID),
		zap.Any("params", e.Params),
	)
	return nil
}

// MetricsSink counts events per name.
type MetricsSink struct {
	rec interface{ TrackingEvent(name string) }
}

// NewMetricsSink counts through rec.
func NewMetricsSink(rec interface{ TrackingEvent(name string) }) *MetricsSink {
	return &MetricsSink{rec: rec}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Emit(_ context.Context, e Event) error {
	s.rec.TrackingEvent(e.Name)
	return nil
}

// HTTPConfig configures an outbound HTTP sink.
type HTTPConfig struct {
	URL     string                 `mapstructure:"url" yaml:"url"`
	Timeout time.Duration          `mapstructure:"timeout" yaml:"timeout"`
	Guard   resilience.GuardConfig `mapstructure:"guard" yaml:"guard"`
}

type poster struct {
	name   string
	url    string
	client *http.Client
	guard  *resilience.Guard
}

func newPoster(name string, cfg HTTPConfig, client *http.Client) poster {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return poster{
		name:   name,
		url:    cfg.URL,
		client: client,
		guard:  resilience.NewGuard(name, cfg.Guard),
	}
}

func (p poster) post(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrapf(err, "%s: marshal", p.name)
	}
	return p.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrapf(err, "%s: create request", p.name)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return resilience.Transient(eris.Wrapf(err, "%s: post", p.name), 0)
		}
		defer resp.Body.Close() //nolint:errcheck
		return resilience.CheckStatus(p.name, resp.StatusCode)
	})
}

// WebhookSink posts each event as JSON to a collector endpoint.
type WebhookSink struct {
	poster
}

// NewWebhookSink creates a webhook sink. client may be nil.
func NewWebhookSink(cfg HTTPConfig, client *http.Client) *WebhookSink {
	return &WebhookSink{poster: newPoster("webhook", cfg, client)}
}

func (s *WebhookSink) Name() string { return s.name }

func (s *WebhookSink) Emit(ctx context.Context, e Event) error {
	return s.post(ctx, e)
}

// Pixel call methods.
const (
	PixelTrack       = "track"
	PixelTrackCustom = "trackCustom"
)

var standardEvents = map[string]bool{
	"PageView":             true,
	"ViewContent":          true,
	"InitiateCheckout":     true,
	"Lead":                 true,
	"CompleteRegistration": true,
}

// PixelMethod returns how the ad pixel should receive an event: standard
// events as track, everything else as trackCustom.
func PixelMethod(name string) string {
	if standardEvents[name] {
		return PixelTrack
	}
	return PixelTrackCustom
}

// PixelPayload is what the pixel relay receives.
type PixelPayload struct {
	PixelID   string         `json:"pixel_id,omitempty"`
	Method    string         `json:"method"`
	EventName string         `json:"event_name"`
	EventTime int64          `json:"event_time"`
	EventID   string         `json:"event_id,omitempty"`
	Params    map[string]any `json:"custom_data,omitempty"`
}

// PixelSink relays events to an ad pixel endpoint.
type PixelSink struct {
	poster
	pixelID string
}

// NewPixelSink creates a pixel sink. client may be nil.
func NewPixelSink(cfg HTTPConfig, pixelID string, client *http.Client) *PixelSink {
	return &PixelSink{poster: newPoster("pixel", cfg, client), pixelID: pixelID}
}

func (s *PixelSink) Name() string { return s.name }

func (s *PixelSink) Emit(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.post(ctx, PixelPayload{
		PixelID:   s.pixelID,
		Method:    PixelMethod(e.Name),
		EventName: e.Name,
		EventTime: at.Unix(),
		EventID:   e.SessionID + ":" + e.Name,
		Params:    e.Params,
	})
}
