package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/config"
	"github.com/sells-group/quiz-funnel/internal/leads"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/monitoring"
	"github.com/sells-group/quiz-funnel/internal/resilience"
	"github.com/sells-group/quiz-funnel/internal/server"
	"github.com/sells-group/quiz-funnel/internal/session"
	"github.com/sells-group/quiz-funnel/internal/tracking"
)

const leadQueueSize = 256

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quiz HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := monitoring.MustNewMetrics(promReg, cfg.Metrics.Namespace)

		dispatcher := tracking.NewDispatcher(buildSinks(cfg.Tracking, metrics), tracking.DispatcherConfig{
			QueueSize: cfg.Tracking.QueueSize,
			Workers:   cfg.Tracking.Workers,
			Timeout:   time.Duration(cfg.Tracking.TimeoutSecs) * time.Second,
		}, metrics)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
			defer cancel()
			if err := dispatcher.Close(closeCtx); err != nil {
				zap.L().Warn("tracking dispatcher close", zap.Error(err))
			}
		}()

		var onConversion func(model.Conversion)
		if cfg.Notion.PushOnCheckout {
			client := leads.NewClient(cfg.Notion.Token, leads.WithRateLimit(cfg.Notion.RatePerSec))
			q := leads.NewQueue(leads.NewPusher(client, cfg.Notion.LeadDB, st), leadQueueSize)
			defer q.Close()
			onConversion = q.Enqueue
		}

		source, watcher, err := loadDefinition(cfg.Funnel)
		if err != nil {
			return err
		}
		if watcher != nil {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					zap.L().Error("definition watcher stopped", zap.Error(err))
				}
			}()
		}

		sessions, err := session.NewRegistry(source, session.Options{
			AnswerDelay:   time.Duration(cfg.Funnel.AnswerDelayMS) * time.Millisecond,
			CheckoutBase:  cfg.Checkout.BaseURL,
			RedirectDelay: time.Duration(cfg.Checkout.RedirectDelayMS) * time.Millisecond,
			Tracker:       dispatcher,
			Attribution:   st,
			Conversions:   st,
			Metrics:       metrics,
			OnConversion:  onConversion,
		}, cfg.Server.SessionCacheSize)
		if err != nil {
			return err
		}
		defer sessions.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, dispatcher),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		srvCfg := server.Config{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			VisitorCookie:  cfg.Server.VisitorCookie,
			Health:         st.Ping,
		}
		if cfg.Metrics.Enabled {
			srvCfg.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
		}
		handler := server.New(sessions, st, srvCfg).Handler()

		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// buildSinks assembles the tracking fan-out from config. The metrics sink
// is always present.
func buildSinks(tc config.TrackingConfig, rec interface{ TrackingEvent(name string) }) tracking.Multi {
	sinks := tracking.Multi{tracking.NewMetricsSink(rec)}
	if tc.Log {
		sinks = append(sinks, tracking.NewLogSink(zap.L()))
	}

	httpCfg := func(url string) tracking.HTTPConfig {
		backoff := resilience.DefaultBackoff()
		if tc.RetryAttempts > 0 {
			backoff.Attempts = tc.RetryAttempts
		}
		return tracking.HTTPConfig{
			URL:     url,
			Timeout: time.Duration(tc.TimeoutSecs) * time.Second,
			Guard: resilience.GuardConfig{
				RatePerSec: tc.RatePerSec,
				Burst:      tc.Burst,
				Backoff:    backoff,
				Breaker:    resilience.DefaultBreakerConfig(),
			},
		}
	}
	if tc.WebhookURL != "" {
		sinks = append(sinks, tracking.NewWebhookSink(httpCfg(tc.WebhookURL), nil))
	}
	if tc.PixelURL != "" {
		sinks = append(sinks, tracking.NewPixelSink(httpCfg(tc.PixelURL), tc.PixelID, nil))
	}
	return sinks
}

// resolvePort prefers the flag over the config value.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func shutdownTimeout() time.Duration {
	if cfg == nil || cfg.Server.ShutdownTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
}

// startServer serves handler on port until ctx is cancelled, then drains
// in-flight requests.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
