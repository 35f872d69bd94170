package calc

import (
	"math"
	"regexp"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// Badge is one scorecard cell on the result screen.
type Badge struct {
	Text  string `json:"text"`
	Level string `json:"level"`
}

// Badge levels double as CSS modifiers.
const (
	LevelGood = "good"
	LevelMid  = "mid"
	LevelBad  = "bad"
)

// Visuals are the chart inputs for the result and offer screens.
type Visuals struct {
	ControlPct          float64 `json:"control_pct"`
	OutOfControlPct     float64 `json:"out_of_control_pct"`
	DonutDegrees        float64 `json:"donut_degrees"`
	Risk                Badge   `json:"risk"`
	Control             Badge   `json:"control"`
	Scale               Badge   `json:"scale"`
	RiskRatePct         int     `json:"risk_rate_pct"`
	RiskBarPct          int     `json:"risk_bar_pct"`
	PerceivedControlPct int     `json:"perceived_control_pct"`
}

type controlRule struct {
	first  *regexp.Regexp
	second *regexp.Regexp
	pct    int
}

// perceivedControl rules run in order and the last match wins.
var perceivedControl = []controlRule{
	{regexp.MustCompile(`(?i)totalmente sob controle`), regexp.MustCompile(`(?i)Sim, rapidamente`), 80},
	{regexp.MustCompile(`(?i)controlo mais ou menos`), regexp.MustCompile(`(?i)dá trabalho`), 55},
	{regexp.MustCompile(`(?i)não sei exatamente`), regexp.MustCompile(`(?i)Não com precisão`), 35},
	{regexp.MustCompile(`(?i)prefiro não pensar`), regexp.MustCompile(`(?i)^Não$`), 20},
}

const defaultPerceivedControl = 55

// ControlShare returns the share of the base still under control for a
// given volume: 90% at ten units, eroding 0.2 points per extra unit, never
// below 15%.
func ControlShare(quantity float64) float64 {
	pct := 90.0
	if quantity > 10 {
		pct -= (quantity - 10) * 0.2
	}
	return math.Max(15, pct)
}

// Scorecard grades risk, control, and scalability by volume.
func Scorecard(quantity float64) (risk, control, scale Badge) {
	switch {
	case quantity > 50:
		return Badge{"ALTO", LevelBad}, Badge{"CRÍTICO", LevelBad}, Badge{"TRAVADO", LevelBad}
	case quantity > 20:
		return Badge{"MÉDIO", LevelMid}, Badge{"ATENÇÃO", LevelMid}, Badge{"AJUSTÁVEL", LevelMid}
	default:
		return Badge{"BAIXO", LevelGood}, Badge{"BOM", LevelGood}, Badge{"PRONTO", LevelGood}
	}
}

// PerceivedControl maps the two self-assessment answers to a bar width.
func PerceivedControl(first, second string) int {
	pct := defaultPerceivedControl
	for _, r := range perceivedControl {
		if r.first.MatchString(first) || r.second.MatchString(second) {
			pct = r.pct
		}
	}
	return pct
}

// Visuals derives chart inputs from the answers and a metrics snapshot.
func (c *Calculator) Visuals(a Answers, m model.DerivedMetrics) Visuals {
	qty := c.Quantity(a)
	control := ControlShare(qty)
	out := 100 - control
	risk, ctrl, scale := Scorecard(qty)

	ratePct := int(math.Round(m.Exposure.RiskRate * 100))
	bar := min(95, max(5, ratePct))

	var first, second string
	if len(c.bindings.Control) > 0 {
		first = a.Label(c.bindings.Control[0])
	}
	if len(c.bindings.Control) > 1 {
		second = a.Label(c.bindings.Control[1])
	}

	return Visuals{
		ControlPct:          control,
		OutOfControlPct:     out,
		DonutDegrees:        out / 100 * 360,
		Risk:                risk,
		Control:             ctrl,
		Scale:               scale,
		RiskRatePct:         ratePct,
		RiskBarPct:          bar,
		PerceivedControlPct: PerceivedControl(first, second),
	}
}
