package funnel

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/profile"
	"github.com/sells-group/quiz-funnel/internal/progress"
)

// Built-in variant names.
const (
	VariantClassic  = "classic"
	VariantAdjusted = "adjusted"
)

// Variant returns a fresh copy of a built-in definition.
func Variant(name string) (*Definition, error) {
	switch name {
	case VariantClassic:
		return Classic(), nil
	case VariantAdjusted, "":
		return Adjusted(), nil
	default:
		return nil, eris.Errorf("funnel: unknown variant %q", name)
	}
}

func questionScreens(from, to int) []ScreenSpec {
	out := make([]ScreenSpec, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, ScreenSpec{ID: fmt.Sprintf("screen_q%d", i), Step: fmt.Sprint(i)})
	}
	return out
}

func concat(parts ...[]ScreenSpec) []ScreenSpec {
	var out []ScreenSpec
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Classic is the fixed-rate funnel: a flat 15% risk rate, a randomized
// 1.8 to 2.6 second calculation with three captions, and live insight
// screens after the third and eighth questions.
func Classic() *Definition {
	return &Definition{
		Name:       VariantClassic,
		RiskModel:  calc.RiskFixed,
		Thresholds: profile.QuantityThresholds.Metric,
		Screens: concat(
			[]ScreenSpec{{ID: "screen_intro", Step: "intro"}},
			questionScreens(1, 3),
			[]ScreenSpec{{ID: "screen_insight3_risk", Step: "insight", Calculators: []string{CalcExposure}, Events: []string{"quiz_insight_risk_view"}}},
			questionScreens(4, 8),
			[]ScreenSpec{{ID: "screen_b2_insight1", Step: "insight", Calculators: []string{CalcTime}, Events: []string{"quiz_insight_time_view"}}},
			questionScreens(9, 12),
			[]ScreenSpec{
				{ID: "screen_calculating", SuppressView: true},
				{ID: "screen_result", Step: "result", Calculators: []string{CalcVisuals, CalcChurn}},
				{ID: "screen_offer", Step: "offer"},
			},
		),
		ResultScreen: "screen_result",
		Calculating: Calculating{
			ScreenID:      "screen_calculating",
			Steps:         []string{"Estimando capital exposto...", "Calculando risco por ciclo...", "Montando seu diagnóstico..."},
			MinDurationMS: 1800,
			MaxDurationMS: 2600,
		},
		Progress:   progress.DefaultConfig(),
		Bindings:   calc.DefaultBindings(),
		Defaults:   calc.DefaultDefaults(),
		Bottleneck: profile.DefaultBottleneckRules(),
		Elements: Elements{
			ProgressBar:      "progress_bar",
			ProgressText:     "progress_text",
			RiskQuantity:     "live_risk_qtd",
			RiskUnitValue:    "live_risk_val",
			RiskExposure:     "live_risk_total",
			RiskFinal:        "live_risk_final",
			TimePerUnit:      "live_time_bag",
			TimeTotal:        "live_time_calc",
			ChurnPct:         "churn_pct",
			LifetimeValue:    "churn_ltv",
			AnnualizedLoss:   "churn_annual_loss",
			HoursLost:        "churn_hours_lost",
			ResultTitle:      "result_title",
			ResultText:       "result_text",
			ResultGoodNews:   "result_good_news",
			ResultBottleneck: "result_bottleneck",
			DonutPct:         "visual_donut_pct",
			Donut:            "visual_donut",
			BarRiskValue:     "visual_bar_risk_val",
			BarRiskFill:      "visual_bar_risk_fill",
			ScoreRisk:        "score_risk",
			ScoreControl:     "score_control",
			ScoreScale:       "score_scale",
			CalcFill:         "calc_fill",
			CalcText:         "calc_text_step",
		},
		CalcEvents: map[string]string{
			CalcExposure: "quiz_insight_risk_calc_done",
			CalcTime:     "quiz_insight_time_calc_done",
		},
	}
}

// Adjusted is the cycle-aware funnel: the risk rate moves with cycle time
// and declared control, the calculation takes a fixed 1.5 seconds, and the
// offer screen repeats the risk figures.
func Adjusted() *Definition {
	return &Definition{
		Name:       VariantAdjusted,
		RiskModel:  calc.RiskAdjusted,
		Thresholds: profile.QuantityThresholds.Metric,
		Screens: concat(
			[]ScreenSpec{{ID: "screen_intro", Step: "intro"}},
			questionScreens(1, 3),
			[]ScreenSpec{{ID: "screen_b1_insight", Step: "insight", Calculators: []string{CalcExposure}}},
			questionScreens(4, 8),
			[]ScreenSpec{{ID: "screen_b2_insight", Step: "insight", Calculators: []string{CalcTime}}},
			questionScreens(9, 12),
			[]ScreenSpec{
				{ID: "screen_calculating", Step: "calc", SuppressView: true},
				{ID: "screen_result", Step: "result", Calculators: []string{CalcExposure, CalcChurn}},
				{ID: "screen_offer", Step: "offer", Calculators: []string{CalcExposure}},
			},
		),
		ResultScreen: "screen_result",
		Calculating: Calculating{
			ScreenID:      "screen_calculating",
			MinDurationMS: 1500,
			MaxDurationMS: 1500,
			Ticks:         10,
		},
		Progress:   progress.DefaultConfig(),
		Bindings:   calc.DefaultBindings(),
		Defaults:   calc.DefaultDefaults(),
		Bottleneck: profile.DefaultBottleneckRules(),
		Elements: Elements{
			ProgressBar:      "progress_bar",
			ProgressText:     "progress_text",
			RiskQuantity:     "risk_qtd",
			RiskUnitValue:    "risk_val",
			RiskExposure:     "risk_total",
			RiskFinal:        "risk_final",
			OfferCapital:     "offer_capital_out",
			OfferRisk:        "offer_risk_cycle",
			OfferRate:        "offer_risk_rate",
			OfferRiskBar:     "offer_bar_risk",
			OfferControlBar:  "offer_bar_control",
			TimePerUnit:      "dynamic_time_per_bag",
			TimeTotal:        "dynamic_time_calc",
			ChurnPct:         "churn_pct",
			LifetimeValue:    "churn_ltv",
			AnnualizedLoss:   "churn_annual_loss",
			HoursLost:        "churn_hours_lost",
			ResultTitle:      "result_title",
			ResultText:       "result_text",
			ResultGoodNews:   "result_good_news",
			ResultTeam:       "result_team",
			ResultCTA:        "result_cta",
			ResultBottleneck: "result_bottleneck",
			CalcFill:         "calc_progress_fill",
			CalcPercent:      "calc_percent",
		},
		AnswerTriggers: map[string][]string{
			"q3": {CalcExposure},
			"q8": {CalcTime},
		},
	}
}
