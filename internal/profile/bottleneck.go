package profile

import "strings"

// Bottleneck labels, in check order.
const (
	BottleneckLeakingBase   = "Base vazando: você perde revendedoras mais rápido do que consegue repor"
	BottleneckEarlyDecision = "Decidindo cedo demais: a escolha de quem entra é feita no sentimento"
	BottleneckConcentration = "Dependência perigosa de poucas revendedoras"
	BottleneckGeneric       = "Falta de critério claro para organizar a base"
)

// BottleneckRules configure the secondary classifier.
type BottleneckRules struct {
	ChurnThreshold   float64 `yaml:"churn_threshold" mapstructure:"churn_threshold"`
	DecisionTag      string  `yaml:"decision_tag" mapstructure:"decision_tag"`
	ConcentrationTag string  `yaml:"concentration_tag" mapstructure:"concentration_tag"`
}

// DefaultBottleneckRules returns the stock rules.
func DefaultBottleneckRules() BottleneckRules {
	return BottleneckRules{
		ChurnThreshold:   20,
		DecisionTag:      "feeling",
		ConcentrationTag: "concentracao",
	}
}

// Primary returns the first matching bottleneck label.
func (r BottleneckRules) Primary(churnPct float64, decisionTag, concentrationTag string) string {
	switch {
	case churnPct > r.ChurnThreshold:
		return BottleneckLeakingBase
	case r.DecisionTag != "" && strings.EqualFold(strings.TrimSpace(decisionTag), r.DecisionTag):
		return BottleneckEarlyDecision
	case r.ConcentrationTag != "" && strings.EqualFold(strings.TrimSpace(concentrationTag), r.ConcentrationTag):
		return BottleneckConcentration
	default:
		return BottleneckGeneric
	}
}
