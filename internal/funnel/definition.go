// Package funnel describes a quiz funnel: its screens, what runs when each
// screen becomes active, and the calculator and classifier settings.
package funnel

import (
	"strconv"

	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/profile"
	"github.com/sells-group/quiz-funnel/internal/progress"
)

// Calculator kinds a screen or answer can trigger.
const (
	CalcExposure = "exposure"
	CalcTime     = "time"
	CalcChurn    = "churn"
	CalcVisuals  = "visuals"
)

var knownCalculators = map[string]bool{
	CalcExposure: true,
	CalcTime:     true,
	CalcChurn:    true,
	CalcVisuals:  true,
}

// Tracking event names shared by every funnel.
const (
	EventView         = "quiz_view"
	EventOptionPrefix = "quiz_option_"
	EventCalcStart    = "quiz_calc_view"
	EventCalcDone     = "quiz_calc_done"
	EventResultView   = "quiz_result_view"
	EventCheckout     = "InitiateCheckout"
)

// OtherQuestion stands in for question ids the funnel does not define when
// they are used as metric labels or event names.
const OtherQuestion = "other"

// ScreenSpec is one row of the screen table: the screen plus what happens
// when it becomes active.
type ScreenSpec struct {
	ID           string   `yaml:"id"`
	Step         string   `yaml:"step"`
	Calculators  []string `yaml:"calculators,omitempty"`
	Events       []string `yaml:"events,omitempty"`
	SuppressView bool     `yaml:"suppress_view,omitempty"`
}

// Screen returns the sequencer view of the spec.
func (s ScreenSpec) Screen() model.Screen {
	return model.Screen{ID: s.ID, Step: s.Step}
}

// Calculating configures the simulated-latency screen shown before the result.
type Calculating struct {
	ScreenID      string   `yaml:"screen_id"`
	Steps         []string `yaml:"steps"`
	MinDurationMS int      `yaml:"min_duration_ms"`
	MaxDurationMS int      `yaml:"max_duration_ms"`
	Ticks         int      `yaml:"ticks"`
}

// Elements names the display targets for each figure. Empty means the
// funnel has no such target.
type Elements struct {
	ProgressBar  string `yaml:"progress_bar"`
	ProgressText string `yaml:"progress_text"`

	RiskQuantity  string `yaml:"risk_quantity"`
	RiskUnitValue string `yaml:"risk_unit_value"`
	RiskExposure  string `yaml:"risk_exposure"`
	RiskFinal     string `yaml:"risk_final"`

	OfferCapital    string `yaml:"offer_capital"`
	OfferRisk       string `yaml:"offer_risk"`
	OfferRate       string `yaml:"offer_rate"`
	OfferRiskBar    string `yaml:"offer_risk_bar"`
	OfferControlBar string `yaml:"offer_control_bar"`

	TimePerUnit string `yaml:"time_per_unit"`
	TimeTotal   string `yaml:"time_total"`

	ChurnPct       string `yaml:"churn_pct"`
	LifetimeValue  string `yaml:"lifetime_value"`
	AnnualizedLoss string `yaml:"annualized_loss"`
	HoursLost      string `yaml:"hours_lost"`

	ResultTitle      string `yaml:"result_title"`
	ResultText       string `yaml:"result_text"`
	ResultGoodNews   string `yaml:"result_good_news"`
	ResultTeam       string `yaml:"result_team"`
	ResultCTA        string `yaml:"result_cta"`
	ResultBottleneck string `yaml:"result_bottleneck"`

	DonutPct     string `yaml:"donut_pct"`
	Donut        string `yaml:"donut"`
	BarRiskValue string `yaml:"bar_risk_value"`
	BarRiskFill  string `yaml:"bar_risk_fill"`
	ScoreRisk    string `yaml:"score_risk"`
	ScoreControl string `yaml:"score_control"`
	ScoreScale   string `yaml:"score_scale"`

	CalcFill    string `yaml:"calc_fill"`
	CalcText    string `yaml:"calc_text"`
	CalcPercent string `yaml:"calc_percent"`
}

// IDs returns every non-empty element id.
func (e Elements) IDs() []string {
	all := []string{
		e.ProgressBar, e.ProgressText,
		e.RiskQuantity, e.RiskUnitValue, e.RiskExposure, e.RiskFinal,
		e.OfferCapital, e.OfferRisk, e.OfferRate, e.OfferRiskBar, e.OfferControlBar,
		e.TimePerUnit, e.TimeTotal,
		e.ChurnPct, e.LifetimeValue, e.AnnualizedLoss, e.HoursLost,
		e.ResultTitle, e.ResultText, e.ResultGoodNews, e.ResultTeam, e.ResultCTA, e.ResultBottleneck,
		e.DonutPct, e.Donut, e.BarRiskValue, e.BarRiskFill, e.ScoreRisk, e.ScoreControl, e.ScoreScale,
		e.CalcFill, e.CalcText, e.CalcPercent,
	}
	ids := make([]string, 0, len(all))
	for _, id := range all {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Definition is a complete funnel.
type Definition struct {
	Name         string                  `yaml:"name"`
	Extends      string                  `yaml:"extends,omitempty"`
	RiskModel    calc.RiskModel          `yaml:"risk_model"`
	Thresholds   string                  `yaml:"thresholds"`
	Screens      []ScreenSpec            `yaml:"screens"`
	ResultScreen string                  `yaml:"result_screen"`
	Calculating  Calculating             `yaml:"calculating"`
	Progress     progress.Config         `yaml:"progress"`
	Bindings     calc.Bindings           `yaml:"bindings"`
	Defaults     calc.Defaults           `yaml:"defaults"`
	Bottleneck   profile.BottleneckRules `yaml:"bottleneck"`
	Elements     Elements                `yaml:"elements"`
	// AnswerTriggers runs calculators as soon as a question is answered.
	AnswerTriggers map[string][]string `yaml:"answer_triggers,omitempty"`
	// CalcEvents names the event emitted after a calculator renders.
	CalcEvents map[string]string `yaml:"calc_events,omitempty"`
}

// ScreenSequence returns the ordered screens.
func (d *Definition) ScreenSequence() []model.Screen {
	out := make([]model.Screen, len(d.Screens))
	for i, s := range d.Screens {
		out[i] = s.Screen()
	}
	return out
}

// Spec returns the table row for a screen id.
func (d *Definition) Spec(id string) (ScreenSpec, bool) {
	for _, s := range d.Screens {
		if s.ID == id {
			return s, true
		}
	}
	return ScreenSpec{}, false
}

// HasQuestion reports whether id names one of the funnel's questions: qN
// for each numbered step screen, or any id a binding or answer trigger
// reads.
func (d *Definition) HasQuestion(id string) bool {
	key := model.QuestionKey(id)
	if key == "" {
		return false
	}
	for _, s := range d.Screens {
		if n, err := strconv.Atoi(s.Step); err == nil && key == "q"+strconv.Itoa(n) {
			return true
		}
	}
	if _, ok := d.AnswerTriggers[key]; ok {
		return true
	}
	b := d.Bindings
	bound := append([]string{
		b.Quantity, b.UnitValue, b.CycleTime, b.ActiveUnits, b.LostUnits, b.MonthlyProfit,
		b.RetentionMonths, b.HoursPerReacquisition, b.TimePerUnit, b.DecisionMethod, b.Concentration,
	}, b.Control...)
	for _, q := range bound {
		if q != "" && model.QuestionKey(q) == key {
			return true
		}
	}
	return false
}

// Calculator builds the metric calculator for this funnel.
func (d *Definition) Calculator() *calc.Calculator {
	return calc.NewCalculator(d.RiskModel, d.Bindings, d.Defaults)
}

// Classifier builds the profile classifier for this funnel.
func (d *Definition) Classifier() *profile.Classifier {
	return profile.NewClassifier(profile.ThresholdsFor(d.Thresholds))
}

// ClassifierInput picks the metric the classifier reads.
func (d *Definition) ClassifierInput(m model.DerivedMetrics, rawQuantity float64) float64 {
	if d.Thresholds == profile.ActiveUnitsThresholds.Metric {
		return m.Churn.ActiveUnits
	}
	return rawQuantity
}
