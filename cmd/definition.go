package main

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/config"
	"github.com/sells-group/quiz-funnel/internal/funnel"
)

// loadDefinition returns the configured definition source. When fc.Watch is
// set the returned watcher must be Run by the caller.
func loadDefinition(fc config.FunnelConfig) (funnel.Source, *funnel.Watcher, error) {
	if fc.Definition != "" {
		if fc.Watch {
			w, err := funnel.NewWatcher(fc.Definition)
			if err != nil {
				return nil, nil, err
			}
			return w, w, nil
		}
		def, err := funnel.Load(fc.Definition)
		if err != nil {
			return nil, nil, err
		}
		return funnel.NewStatic(def), nil, nil
	}

	def, err := funnel.Variant(fc.Variant)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load definition")
	}
	applyOverrides(def, fc)
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	zap.L().Debug("using built-in funnel",
		zap.String("variant", def.Name),
		zap.String("risk_model", string(def.RiskModel)),
		zap.String("thresholds", def.Thresholds),
	)
	return funnel.NewStatic(def), nil, nil
}

// applyOverrides layers the non-empty config knobs over a built-in variant.
func applyOverrides(def *funnel.Definition, fc config.FunnelConfig) {
	if fc.RiskModel != "" {
		def.RiskModel = calc.RiskModel(fc.RiskModel)
	}
	if fc.Thresholds != "" {
		def.Thresholds = fc.Thresholds
	}
	if fc.TotalQuestions > 0 {
		def.Progress.TotalQuestions = fc.TotalQuestions
	}
}
