// Package profile assigns a respondent to one of three tiers and picks the
// primary bottleneck shown on the result screen.
package profile

import (
	"github.com/sells-group/quiz-funnel/internal/model"
)

// Thresholds are the two ordered cut points over one volume metric.
// Comparisons are strict, so a value equal to a cut point stays in the
// lower tier.
type Thresholds struct {
	Metric string  `yaml:"metric" mapstructure:"metric"`
	Upper  float64 `yaml:"upper" mapstructure:"upper"`
	Lower  float64 `yaml:"lower" mapstructure:"lower"`
}

var (
	// QuantityThresholds classify on the number of resellers.
	QuantityThresholds = Thresholds{Metric: "quantity", Upper: 70, Lower: 30}
	// ActiveUnitsThresholds classify on the active base.
	ActiveUnitsThresholds = Thresholds{Metric: "active_units", Upper: 100, Lower: 30}
)

// ThresholdsFor returns the named threshold set, defaulting to quantity.
func ThresholdsFor(name string) Thresholds {
	if name == ActiveUnitsThresholds.Metric {
		return ActiveUnitsThresholds
	}
	return QuantityThresholds
}

// Profile is a tier with its narrative.
type Profile struct {
	Tier      model.Tier `json:"tier"`
	Name      string     `json:"name"`
	Diagnosis string     `json:"diagnosis"`
	GoodNews  string     `json:"good_news"`
	Team      []string   `json:"team,omitempty"`
	CTA       string     `json:"cta,omitempty"`
}

var profiles = map[model.Tier]Profile{
	model.TierConstruction: {
		Tier:      model.TierConstruction,
		Name:      "Empresário em Construção",
		Diagnosis: "O seu diagnóstico é claro: <strong>Você ainda está montando sua base.</strong> E hoje, cada nova revendedora consome seu tempo e aumenta seu medo de errar.",
		GoodNews:  "Você está no melhor momento possível para acertar isso. Quem organiza a base cedo sofre menos.",
		Team:      []string{"Revendedoras de entrada com kit reduzido", "Poucas revendedoras de confiança com kit completo"},
		CTA:       "Quero montar minha base do jeito certo",
	},
	model.TierExpansion: {
		Tier:      model.TierExpansion,
		Name:      "Empresário em Expansão",
		Diagnosis: "Seu diagnóstico mostra um alerta importante: <strong>Você já vende. Você já cresceu. Mas o controle não acompanhou.</strong> Hoje, o estoque sai e o risco aumenta.",
		GoodNews:  "Você não precisa desacelerar. Precisa organizar os perfis dentro da base.",
		Team:      []string{"Revendedoras em teste com limite de peças", "Revendedoras consolidadas", "Uma líder para acompanhar os acertos"},
		CTA:       "Quero organizar minha base",
	},
	model.TierScale: {
		Tier:      model.TierScale,
		Name:      "Empresário em Escala",
		Diagnosis: "Seu diagnóstico é direto: <strong>Você já opera em volume.</strong> Mas paga um preço alto por isso. Revendedoras entram e saem, o controle depende de equipe e o risco se dilui, mas não desaparece.",
		GoodNews:  "Você não precisa de mais gente. Precisa decidir melhor quem entra, quanto recebe e onde se encaixa.",
		Team:      []string{"Líderes por região", "Revendedoras de alto giro", "Revendedoras em teste com limite de peças", "Equipe de conferência de acertos"},
		CTA:       "Quero escalar com controle",
	},
}

// ForTier returns the profile of a tier. Unknown tiers map to Construction.
func ForTier(t model.Tier) Profile {
	p, ok := profiles[t]
	if !ok {
		p = profiles[model.TierConstruction]
	}
	p.Team = append([]string(nil), p.Team...)
	return p
}

// Default is the profile before the first classification.
func Default() Profile {
	return ForTier(model.TierConstruction)
}

// ByName finds a profile by its display name.
func ByName(name string) (Profile, bool) {
	for t, p := range profiles {
		if p.Name == name {
			return ForTier(t), true
		}
	}
	return Profile{}, false
}

// Classifier maps a volume metric to a Profile.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a Classifier with the given cut points.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Thresholds returns the configured cut points.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Tier returns the bucket for count.
func (c *Classifier) Tier(count float64) model.Tier {
	switch {
	case count > c.thresholds.Upper:
		return model.TierScale
	case count > c.thresholds.Lower:
		return model.TierExpansion
	default:
		return model.TierConstruction
	}
}

// Classify returns the full profile for count.
func (c *Classifier) Classify(count float64) Profile {
	return ForTier(c.Tier(count))
}
