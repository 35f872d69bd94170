package model

import "time"

// Tier is the profile bucket a respondent lands in.
type Tier string

const (
	TierConstruction Tier = "construction"
	TierExpansion    Tier = "expansion"
	TierScale        Tier = "scale"
)

// ExposureMetrics holds the capital-at-risk figures.
type ExposureMetrics struct {
	Quantity  float64 `json:"quantity"`
	UnitValue float64 `json:"unit_value"`
	Exposure  float64 `json:"exposure"`
	RiskRate  float64 `json:"risk_rate"`
	Risk      float64 `json:"risk"`
}

// ChurnMetrics holds base-loss figures.
type ChurnMetrics struct {
	ActiveUnits              float64 `json:"active_units"`
	LostUnits                float64 `json:"lost_units"`
	ChurnPct                 float64 `json:"churn_pct"`
	MonthlyProfit            float64 `json:"monthly_profit"`
	RetentionMonths          float64 `json:"retention_months"`
	LifetimeValue            float64 `json:"lifetime_value"`
	AnnualizedLoss           float64 `json:"annualized_loss"`
	HoursLostToReacquisition float64 `json:"hours_lost_to_reacquisition"`
}

// TimeMetrics holds the time-loss figures.
type TimeMetrics struct {
	TimePerUnit  float64 `json:"time_per_unit"`
	TotalMinutes float64 `json:"total_minutes"`
	Hours        float64 `json:"hours"`
	HoursDisplay string  `json:"hours_display"`
}

// DerivedMetrics is the last computed snapshot. It is always rebuilt from the
// current answers, never accumulated.
type DerivedMetrics struct {
	Exposure ExposureMetrics `json:"exposure"`
	Churn    ChurnMetrics    `json:"churn"`
	Time     TimeMetrics     `json:"time"`
}

// SessionState is a read-only snapshot of one visit.
type SessionState struct {
	ID            string            `json:"id"`
	VisitorID     string            `json:"visitor_id"`
	Answers       map[string]Answer `json:"answers"`
	CurrentIndex  int               `json:"current_index"`
	CurrentScreen string            `json:"current_screen"`
	Derived       DerivedMetrics    `json:"derived"`
	Tier          Tier              `json:"tier"`
	Profile       string            `json:"profile"`
	HighestStep   float64           `json:"highest_step"`
	StartedAt     time.Time         `json:"started_at"`
}

// Conversion is what survives a checkout: the outcome and attribution,
// never the raw answers.
type Conversion struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	VisitorID   string            `json:"visitor_id"`
	Variant     string            `json:"variant"`
	Profile     string            `json:"profile"`
	Tier        Tier              `json:"tier"`
	Bottleneck  string            `json:"bottleneck"`
	Metrics     DerivedMetrics    `json:"metrics"`
	Attribution map[string]string `json:"attribution,omitempty"`
	CheckoutURL string            `json:"checkout_url"`
	// LeadPageID is set once the conversion has been pushed to the CRM.
	LeadPageID string    `json:"lead_page_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
