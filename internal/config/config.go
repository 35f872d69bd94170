// Package config loads quiz-funnel settings from config.yaml and FUNNEL_*
// environment variables, and sets up the global logger.
package config

import (
	"net/url"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Funnel     FunnelConfig     `yaml:"funnel" mapstructure:"funnel"`
	Checkout   CheckoutConfig   `yaml:"checkout" mapstructure:"checkout"`
	Tracking   TrackingConfig   `yaml:"tracking" mapstructure:"tracking"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Path is the SQLite file used when Driver is sqlite.
	Path     string `yaml:"path" mapstructure:"path"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	VisitorCookie       string   `yaml:"visitor_cookie" mapstructure:"visitor_cookie"`
	SessionCacheSize    int      `yaml:"session_cache_size" mapstructure:"session_cache_size"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FunnelConfig picks the funnel definition. Empty overrides keep the
// definition's own values.
type FunnelConfig struct {
	// Definition is a YAML file; when empty the built-in Variant is used.
	Definition     string `yaml:"definition" mapstructure:"definition"`
	Variant        string `yaml:"variant" mapstructure:"variant"`
	RiskModel      string `yaml:"risk_model" mapstructure:"risk_model"`
	Thresholds     string `yaml:"thresholds" mapstructure:"thresholds"`
	TotalQuestions int    `yaml:"total_questions" mapstructure:"total_questions"`
	AnswerDelayMS  int    `yaml:"answer_delay_ms" mapstructure:"answer_delay_ms"`
	// Watch reloads Definition when the file changes.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

// CheckoutConfig configures the payment redirect.
type CheckoutConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	RedirectDelayMS int    `yaml:"redirect_delay_ms" mapstructure:"redirect_delay_ms"`
}

// TrackingConfig configures analytics delivery.
type TrackingConfig struct {
	Log           bool    `yaml:"log" mapstructure:"log"`
	WebhookURL    string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	PixelURL      string  `yaml:"pixel_url" mapstructure:"pixel_url"`
	PixelID       string  `yaml:"pixel_id" mapstructure:"pixel_id"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	QueueSize     int     `yaml:"queue_size" mapstructure:"queue_size"`
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig configures the lead CRM push.
type NotionConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	LeadDB     string  `yaml:"lead_db" mapstructure:"lead_db"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	// PushOnCheckout pushes each conversion as it happens.
	PushOnCheckout bool `yaml:"push_on_checkout" mapstructure:"push_on_checkout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinConversions       int     `yaml:"min_conversions" mapstructure:"min_conversions"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// Load reads config.yaml from the working directory (optional) and
// FUNNEL_* environment variables over the defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.path", "quiz-funnel.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.visitor_cookie", "qf_visitor")
	v.SetDefault("server.session_cache_size", 10000)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("funnel.definition", "")
	v.SetDefault("funnel.variant", "adjusted")
	v.SetDefault("funnel.risk_model", "")
	v.SetDefault("funnel.thresholds", "")
	v.SetDefault("funnel.total_questions", 0)
	v.SetDefault("funnel.answer_delay_ms", 300)
	v.SetDefault("funnel.watch", false)
	v.SetDefault("checkout.base_url", "https://pay.ticto.com.br/CHECKOUT_ID")
	v.SetDefault("checkout.redirect_delay_ms", 300)
	v.SetDefault("tracking.log", true)
	v.SetDefault("tracking.webhook_url", "")
	v.SetDefault("tracking.pixel_url", "")
	v.SetDefault("tracking.pixel_id", "")
	v.SetDefault("tracking.rate_per_sec", 20.0)
	v.SetDefault("tracking.burst", 5)
	v.SetDefault("tracking.queue_size", 1024)
	v.SetDefault("tracking.workers", 4)
	v.SetDefault("tracking.retry_attempts", 3)
	v.SetDefault("tracking.timeout_secs", 5)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.lead_db", "")
	v.SetDefault("notion.rate_per_sec", 3.0)
	v.SetDefault("notion.push_on_checkout", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "quiz_funnel")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_conversions", 0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Modes: serve, simulate,
// store, leads.
func (c *Config) Validate(mode string) error {
	var errs []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				errs = append(errs, "store.path is required for sqlite")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
	}
	funnelChecks := func() {
		if c.Funnel.Definition == "" && !slices.Contains([]string{"classic", "adjusted"}, c.Funnel.Variant) {
			errs = append(errs, "funnel.variant must be classic or adjusted")
		}
		if c.Funnel.RiskModel != "" && !slices.Contains([]string{"fixed", "adjusted"}, c.Funnel.RiskModel) {
			errs = append(errs, "funnel.risk_model must be fixed or adjusted")
		}
		if c.Funnel.Thresholds != "" && !slices.Contains([]string{"quantity", "active_units"}, c.Funnel.Thresholds) {
			errs = append(errs, "funnel.thresholds must be quantity or active_units")
		}
		if c.Funnel.AnswerDelayMS < 0 {
			errs = append(errs, "funnel.answer_delay_ms must be >= 0")
		}
		if c.Funnel.Watch && c.Funnel.Definition == "" {
			errs = append(errs, "funnel.watch requires funnel.definition")
		}
	}
	checkoutChecks := func() {
		if c.Checkout.BaseURL == "" {
			errs = append(errs, "checkout.base_url is required")
		} else if u, err := url.Parse(c.Checkout.BaseURL); err != nil || !u.IsAbs() {
			errs = append(errs, "checkout.base_url must be an absolute URL")
		}
	}
	notionChecks := func() {
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.LeadDB == "" {
			errs = append(errs, "notion.lead_db is required")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.SessionCacheSize <= 0 {
			errs = append(errs, "server.session_cache_size must be > 0")
		}
		storeChecks()
		funnelChecks()
		checkoutChecks()
		if c.Notion.PushOnCheckout {
			notionChecks()
		}
	case "simulate":
		funnelChecks()
		checkoutChecks()
	case "store":
		storeChecks()
	case "leads":
		storeChecks()
		notionChecks()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger builds a zap logger from cfg and installs it globally.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
