// Package calc turns recorded answers into the figures shown on insight,
// result, and offer screens. Every function is pure: missing or non-numeric
// inputs fall back to documented defaults and nothing ever errors.
package calc

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// Answers is the read side of the answer store.
type Answers interface {
	Number(questionID string) model.Number
	Label(questionID string) string
	Tag(questionID string) string
}

// RiskModel selects how the per-cycle risk rate is derived.
type RiskModel string

const (
	// RiskFixed applies the base rate unchanged.
	RiskFixed RiskModel = "fixed"
	// RiskAdjusted moves the base rate by cycle time and declared control.
	RiskAdjusted RiskModel = "adjusted"
)

// Bindings names the questions that feed each calculator input.
type Bindings struct {
	Quantity              string   `yaml:"quantity" mapstructure:"quantity"`
	UnitValue             string   `yaml:"unit_value" mapstructure:"unit_value"`
	CycleTime             string   `yaml:"cycle_time" mapstructure:"cycle_time"`
	Control               []string `yaml:"control" mapstructure:"control"`
	ActiveUnits           string   `yaml:"active_units" mapstructure:"active_units"`
	LostUnits             string   `yaml:"lost_units" mapstructure:"lost_units"`
	MonthlyProfit         string   `yaml:"monthly_profit" mapstructure:"monthly_profit"`
	RetentionMonths       string   `yaml:"retention_months" mapstructure:"retention_months"`
	HoursPerReacquisition string   `yaml:"hours_per_reacquisition" mapstructure:"hours_per_reacquisition"`
	TimePerUnit           string   `yaml:"time_per_unit" mapstructure:"time_per_unit"`
	DecisionMethod        string   `yaml:"decision_method" mapstructure:"decision_method"`
	Concentration         string   `yaml:"concentration" mapstructure:"concentration"`
}

// DefaultBindings returns the question layout of the reseller funnel.
func DefaultBindings() Bindings {
	return Bindings{
		Quantity:              "q2",
		UnitValue:             "q3",
		CycleTime:             "q4",
		Control:               []string{"q1", "q5"},
		ActiveUnits:           "q2",
		LostUnits:             "q6",
		MonthlyProfit:         "q7",
		RetentionMonths:       "q9",
		HoursPerReacquisition: "q10",
		TimePerUnit:           "q8",
		DecisionMethod:        "q11",
		Concentration:         "q12",
	}
}

// Defaults holds the fallbacks used when an input is unanswered.
type Defaults struct {
	Quantity              float64 `yaml:"quantity" mapstructure:"quantity"`
	UnitValue             float64 `yaml:"unit_value" mapstructure:"unit_value"`
	BaseRiskRate          float64 `yaml:"base_risk_rate" mapstructure:"base_risk_rate"`
	ActiveUnits           float64 `yaml:"active_units" mapstructure:"active_units"`
	LostUnits             float64 `yaml:"lost_units" mapstructure:"lost_units"`
	MonthlyProfit         float64 `yaml:"monthly_profit" mapstructure:"monthly_profit"`
	RetentionMonths       float64 `yaml:"retention_months" mapstructure:"retention_months"`
	HoursPerReacquisition float64 `yaml:"hours_per_reacquisition" mapstructure:"hours_per_reacquisition"`
	TimePerUnit           float64 `yaml:"time_per_unit" mapstructure:"time_per_unit"`
	TimeMultiplier        float64 `yaml:"time_multiplier" mapstructure:"time_multiplier"`
}

// DefaultDefaults returns the documented fallbacks.
func DefaultDefaults() Defaults {
	return Defaults{
		Quantity:              10,
		UnitValue:             800,
		BaseRiskRate:          0.15,
		ActiveUnits:           10,
		LostUnits:             0,
		MonthlyProfit:         150,
		RetentionMonths:       3,
		HoursPerReacquisition: 4,
		TimePerUnit:           15,
		TimeMultiplier:        10,
	}
}

// Risk rate bounds for the adjusted model.
const (
	MinRiskRate = 0.06
	MaxRiskRate = 0.25
)

type rateBand struct {
	pattern *regexp.Regexp
	rate    float64
}

// cycleBands are checked in order; shorter cycles carry lower risk.
var cycleBands = []rateBand{
	{regexp.MustCompile(`Até 15`), 0.08},
	{regexp.MustCompile(`16 a 30`), 0.12},
	{regexp.MustCompile(`31 a 45`), 0.15},
	{regexp.MustCompile(`Mais de 45`), 0.20},
}

var (
	inControl = regexp.MustCompile(`(?i)totalmente sob controle|Sim, rapidamente`)
	noControl = regexp.MustCompile(`(?i)prefiro não pensar|Não com precisão|Não$`)
)

// Calculator computes derived metrics for one funnel configuration.
type Calculator struct {
	model    RiskModel
	bindings Bindings
	defaults Defaults
}

// NewCalculator creates a Calculator. An unknown risk model behaves as
// RiskAdjusted; zero-valued defaults are filled from DefaultDefaults.
func NewCalculator(m RiskModel, b Bindings, d Defaults) *Calculator {
	if m != RiskFixed {
		m = RiskAdjusted
	}
	return &Calculator{model: m, bindings: b, defaults: fillDefaults(d)}
}

func fillDefaults(d Defaults) Defaults {
	def := DefaultDefaults()
	if d.Quantity <= 0 {
		d.Quantity = def.Quantity
	}
	if d.UnitValue <= 0 {
		d.UnitValue = def.UnitValue
	}
	if d.BaseRiskRate <= 0 {
		d.BaseRiskRate = def.BaseRiskRate
	}
	if d.ActiveUnits <= 0 {
		d.ActiveUnits = def.ActiveUnits
	}
	if d.MonthlyProfit <= 0 {
		d.MonthlyProfit = def.MonthlyProfit
	}
	if d.RetentionMonths <= 0 {
		d.RetentionMonths = def.RetentionMonths
	}
	if d.HoursPerReacquisition <= 0 {
		d.HoursPerReacquisition = def.HoursPerReacquisition
	}
	if d.TimePerUnit <= 0 {
		d.TimePerUnit = def.TimePerUnit
	}
	if d.TimeMultiplier <= 0 {
		d.TimeMultiplier = def.TimeMultiplier
	}
	return d
}

// Model returns the configured risk model.
func (c *Calculator) Model() RiskModel { return c.model }

// Bindings returns the question bindings.
func (c *Calculator) Bindings() Bindings { return c.bindings }

// Defaults returns the resolved defaults.
func (c *Calculator) Defaults() Defaults { return c.defaults }

// Exposure is the total value out with the base.
func Exposure(quantity, unitValue float64) float64 {
	return quantity * unitValue
}

// AdjustedRiskRate derives the per-cycle risk rate from the cycle-time label
// and the combined text of the perceived-control answers.
func AdjustedRiskRate(base float64, cycleLabel, controlText string) float64 {
	rate := base
	for _, b := range cycleBands {
		if b.pattern.MatchString(cycleLabel) {
			rate = b.rate
			break
		}
	}
	if inControl.MatchString(controlText) {
		rate = math.Max(MinRiskRate, rate-0.02)
	}
	if noControl.MatchString(controlText) {
		rate = math.Min(MaxRiskRate, rate+0.03)
	}
	return math.Min(MaxRiskRate, math.Max(MinRiskRate, rate))
}

// RiskRate returns the rate for the configured model.
func (c *Calculator) RiskRate(a Answers) float64 {
	if c.model == RiskFixed {
		return c.defaults.BaseRiskRate
	}
	return AdjustedRiskRate(c.defaults.BaseRiskRate, a.Label(c.bindings.CycleTime), c.controlText(a))
}

func (c *Calculator) controlText(a Answers) string {
	parts := make([]string, 0, len(c.bindings.Control))
	for _, id := range c.bindings.Control {
		parts = append(parts, a.Label(id))
	}
	return strings.Join(parts, " ")
}

// Quantity resolves the volume input; zero counts as unanswered.
func (c *Calculator) Quantity(a Answers) float64 {
	return a.Number(c.bindings.Quantity).NonZeroOr(c.defaults.Quantity)
}

// ExposureMetrics computes exposure and risk.
func (c *Calculator) ExposureMetrics(a Answers) model.ExposureMetrics {
	qty := c.Quantity(a)
	val := a.Number(c.bindings.UnitValue).NonZeroOr(c.defaults.UnitValue)
	rate := c.RiskRate(a)
	exposure := Exposure(qty, val)
	return model.ExposureMetrics{
		Quantity:  qty,
		UnitValue: val,
		Exposure:  exposure,
		RiskRate:  rate,
		Risk:      exposure * rate,
	}
}

// ChurnPct is lost/active as a percentage, 0 when there is no active base.
func ChurnPct(active, lost float64) float64 {
	if active == 0 {
		return 0
	}
	return lost / active * 100
}

// ChurnMetrics computes churn, lifetime value, and reacquisition losses.
// Zero is a legitimate answer here, so only absent values take defaults.
func (c *Calculator) ChurnMetrics(a Answers) model.ChurnMetrics {
	active := a.Number(c.bindings.ActiveUnits).Or(c.defaults.ActiveUnits)
	lost := a.Number(c.bindings.LostUnits).Or(c.defaults.LostUnits)
	profit := a.Number(c.bindings.MonthlyProfit).Or(c.defaults.MonthlyProfit)
	retention := a.Number(c.bindings.RetentionMonths).Or(c.defaults.RetentionMonths)
	hours := a.Number(c.bindings.HoursPerReacquisition).Or(c.defaults.HoursPerReacquisition)

	ltv := profit * retention
	return model.ChurnMetrics{
		ActiveUnits:              active,
		LostUnits:                lost,
		ChurnPct:                 ChurnPct(active, lost),
		MonthlyProfit:            profit,
		RetentionMonths:          retention,
		LifetimeValue:            ltv,
		AnnualizedLoss:           12 * lost * ltv,
		HoursLostToReacquisition: lost * hours,
	}
}

// TimeMetrics computes the weekly time lost to manual handling.
func (c *Calculator) TimeMetrics(a Answers) model.TimeMetrics {
	per := a.Number(c.bindings.TimePerUnit).NonZeroOr(c.defaults.TimePerUnit)
	total := per * c.defaults.TimeMultiplier
	hours := RoundTo(total/60, 1)
	return model.TimeMetrics{
		TimePerUnit:  per,
		TotalMinutes: total,
		Hours:        hours,
		HoursDisplay: strconv.FormatFloat(hours, 'f', 1, 64),
	}
}

// Compute builds a fresh snapshot of every metric family.
func (c *Calculator) Compute(a Answers) model.DerivedMetrics {
	return model.DerivedMetrics{
		Exposure: c.ExposureMetrics(a),
		Churn:    c.ChurnMetrics(a),
		Time:     c.TimeMetrics(a),
	}
}

// RoundTo rounds v half away from zero to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
