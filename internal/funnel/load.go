package funnel

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/profile"
)

// Load reads a YAML definition. A file with `extends: classic` (or
// adjusted) starts from that built-in and overrides only the keys it sets.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var head struct {
		Extends string `yaml:"extends"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "funnel: parse definition")
	}

	def := &Definition{}
	if head.Extends != "" {
		base, err := Variant(head.Extends)
		if err != nil {
			return nil, eris.Wrap(err, "funnel: resolve extends")
		}
		def = base
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(def); err != nil {
		return nil, eris.Wrap(err, "funnel: decode definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks the definition is internally consistent.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return eris.New("funnel: name is required")
	}
	if len(d.Screens) == 0 {
		return eris.New("funnel: at least one screen is required")
	}

	seen := make(map[string]bool, len(d.Screens))
	for i, s := range d.Screens {
		if s.ID == "" {
			return eris.Errorf("funnel: screen %d has no id", i)
		}
		if seen[s.ID] {
			return eris.Errorf("funnel: duplicate screen id %q", s.ID)
		}
		seen[s.ID] = true
		for _, c := range s.Calculators {
			if !knownCalculators[c] {
				return eris.Errorf("funnel: screen %q uses unknown calculator %q", s.ID, c)
			}
		}
	}

	if !seen[d.ResultScreen] {
		return eris.Errorf("funnel: result screen %q is not in the sequence", d.ResultScreen)
	}
	if d.Calculating.ScreenID != "" && !seen[d.Calculating.ScreenID] {
		return eris.Errorf("funnel: calculating screen %q is not in the sequence", d.Calculating.ScreenID)
	}
	if d.Calculating.MinDurationMS < 0 || d.Calculating.MaxDurationMS < d.Calculating.MinDurationMS {
		return eris.Errorf("funnel: calculating duration range [%d, %d] is invalid",
			d.Calculating.MinDurationMS, d.Calculating.MaxDurationMS)
	}

	switch d.RiskModel {
	case calc.RiskFixed, calc.RiskAdjusted:
	default:
		return eris.Errorf("funnel: unknown risk model %q", d.RiskModel)
	}
	switch d.Thresholds {
	case profile.QuantityThresholds.Metric, profile.ActiveUnitsThresholds.Metric:
	default:
		return eris.Errorf("funnel: unknown thresholds %q", d.Thresholds)
	}

	for q, calcs := range d.AnswerTriggers {
		for _, c := range calcs {
			if !knownCalculators[c] {
				return eris.Errorf("funnel: answer trigger %q uses unknown calculator %q", q, c)
			}
		}
	}
	return nil
}
