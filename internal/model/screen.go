package model

// Screen is one step of the funnel.
type Screen struct {
	ID   string `yaml:"id" json:"id"`
	Step string `yaml:"step" json:"step"`
}

// Step tokens with fixed meaning. Anything parseable as a number is a
// question step; empty marks a transitional screen.
const (
	StepIntro   = "intro"
	StepInsight = "insight"
	StepCalc    = "calc"
	StepResult  = "result"
	StepOffer   = "offer"
)
