//go:build !integration

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/config"
)

func TestParseAnswers(t *testing.T) {
	store, err := parseAnswers([]string{"q2=40", "3=1000", "q4=Mais de 60 dias"})
	require.NoError(t, err)

	assert.InDelta(t, 40, store.Number("q2").Value, 0.001)
	assert.InDelta(t, 1000, store.Number("q3").Value, 0.001)
	assert.False(t, store.Number("q4").Valid)
	assert.Equal(t, "Mais de 60 dias", store.Label("q4"))
}

func TestParseAnswers_Invalid(t *testing.T) {
	for _, in := range []string{"q2", "=40"} {
		_, err := parseAnswers([]string{in})
		assert.Error(t, err, in)
	}
}

func TestFormatMetrics(t *testing.T) {
	store, err := parseAnswers([]string{"q2=40", "q3=1000"})
	require.NoError(t, err)
	m := calc.NewCalculator(calc.RiskFixed, calc.DefaultBindings(), calc.DefaultDefaults()).Compute(store)

	var buf bytes.Buffer
	formatMetrics(&buf, m)
	out := buf.String()

	assert.Contains(t, out, "Exposure:")
	assert.Contains(t, out, "R$ 40.000,00")
	assert.Contains(t, out, "R$ 6.000,00")
	assert.Contains(t, out, "15%")
}

func TestClassifierThresholds(t *testing.T) {
	assert.Equal(t, "quantity", classifierThresholds(nil))
	assert.Equal(t, "quantity", classifierThresholds(&config.Config{}))
	assert.Equal(t, "active_units", classifierThresholds(&config.Config{Funnel: config.FunnelConfig{Thresholds: "active_units"}}))
}
