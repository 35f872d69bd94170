// Package progress maps screen step tokens to the progress bar state.
package progress

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// Labels are the status texts shown next to the bar.
type Labels struct {
	Generic     string `yaml:"generic" mapstructure:"generic"`
	Calculating string `yaml:"calculating" mapstructure:"calculating"`
	Done        string `yaml:"done" mapstructure:"done"`
	// StepFormat receives the step number and the question total.
	StepFormat string `yaml:"step_format" mapstructure:"step_format"`
}

// DefaultLabels returns the Portuguese labels.
func DefaultLabels() Labels {
	return Labels{
		Generic:     "DIAGNÓSTICO",
		Calculating: "CALCULANDO",
		Done:        "CONCLUSÃO",
		StepFormat:  "ETAPA %s DE %d",
	}
}

// Config controls the mapping.
type Config struct {
	TotalQuestions int      `yaml:"total_questions" mapstructure:"total_questions"`
	IntroTokens    []string `yaml:"intro_tokens" mapstructure:"intro_tokens"`
	IntroPercent   float64  `yaml:"intro_percent" mapstructure:"intro_percent"`
	CalcFloor      float64  `yaml:"calc_floor" mapstructure:"calc_floor"`
	Labels         Labels   `yaml:"labels" mapstructure:"labels"`
}

// DefaultConfig returns the stock twelve-question layout.
func DefaultConfig() Config {
	return Config{
		TotalQuestions: 12,
		IntroTokens:    []string{model.StepIntro, "0", "0.1"},
		IntroPercent:   5,
		CalcFloor:      85,
		Labels:         DefaultLabels(),
	}
}

// Display is what the bar and its caption should show.
type Display struct {
	Percent float64 `json:"percent"`
	Text    string  `json:"text"`
}

// Mapper converts step tokens into Display values. It remembers the highest
// numbered step seen so insight screens never move the bar backwards.
type Mapper struct {
	cfg     Config
	highest float64
	last    Display
}

// NewMapper creates a Mapper. Missing config values take the defaults.
func NewMapper(cfg Config) *Mapper {
	def := DefaultConfig()
	if cfg.TotalQuestions <= 0 {
		cfg.TotalQuestions = def.TotalQuestions
	}
	if cfg.IntroTokens == nil {
		cfg.IntroTokens = def.IntroTokens
	}
	if cfg.IntroPercent <= 0 {
		cfg.IntroPercent = def.IntroPercent
	}
	if cfg.CalcFloor <= 0 {
		cfg.CalcFloor = def.CalcFloor
	}
	if cfg.Labels == (Labels{}) {
		cfg.Labels = def.Labels
	}
	return &Mapper{cfg: cfg}
}

// Highest returns the highest numbered step reached so far.
func (m *Mapper) Highest() float64 { return m.highest }

// Last returns the most recent Display.
func (m *Mapper) Last() Display { return m.last }

// Map returns the Display for a step token and updates the mapper state.
func (m *Mapper) Map(step string) Display {
	d := m.compute(strings.TrimSpace(step))
	m.last = d
	return d
}

func (m *Mapper) compute(step string) Display {
	total := float64(m.cfg.TotalQuestions)
	l := m.cfg.Labels

	switch {
	case step == "":
		// Transitional screen: the bar stays where it was, caption cleared.
		return Display{Percent: m.last.Percent}
	case slices.Contains(m.cfg.IntroTokens, step):
		return Display{Percent: m.cfg.IntroPercent, Text: l.Generic}
	case step == model.StepResult || step == model.StepOffer:
		return Display{Percent: 100, Text: l.Done}
	case step == model.StepInsight:
		d := Display{Percent: clampPct(m.highest / total * 100), Text: l.Generic}
		if m.highest > 0 {
			d.Text = m.stepText(m.highest)
		}
		return d
	case step == model.StepCalc:
		return Display{Percent: math.Max(m.cfg.CalcFloor, clampPct(m.highest/total*100)), Text: l.Calculating}
	}

	n, err := strconv.ParseFloat(step, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return Display{Percent: m.last.Percent, Text: l.Generic}
	}
	m.highest = math.Max(m.highest, n)
	return Display{Percent: clampPct(n / total * 100), Text: m.stepText(n)}
}

func (m *Mapper) stepText(n float64) string {
	return fmt.Sprintf(m.cfg.Labels.StepFormat, strconv.FormatFloat(n, 'f', -1, 64), m.cfg.TotalQuestions)
}

func clampPct(p float64) float64 {
	return math.Min(100, math.Max(0, p))
}
