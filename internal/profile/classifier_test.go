package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/quiz-funnel/internal/model"
)

func TestClassify_QuantityBoundaries(t *testing.T) {
	t.Parallel()
	c := NewClassifier(QuantityThresholds)

	tests := []struct {
		count float64
		want  model.Tier
	}{
		{0, model.TierConstruction},
		{30, model.TierConstruction},
		{31, model.TierExpansion},
		{70, model.TierExpansion},
		{71, model.TierScale},
		{500, model.TierScale},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.count).Tier, "count=%v", tt.count)
	}
}

func TestClassify_ActiveUnitsBoundaries(t *testing.T) {
	t.Parallel()
	c := NewClassifier(ActiveUnitsThresholds)

	assert.Equal(t, model.TierConstruction, c.Tier(30))
	assert.Equal(t, model.TierExpansion, c.Tier(31))
	assert.Equal(t, model.TierExpansion, c.Tier(70))
	assert.Equal(t, model.TierExpansion, c.Tier(100))
	assert.Equal(t, model.TierScale, c.Tier(101))
}

func TestClassify_Narrative(t *testing.T) {
	t.Parallel()
	p := NewClassifier(QuantityThresholds).Classify(80)

	assert.Equal(t, "Empresário em Escala", p.Name)
	assert.Contains(t, p.Diagnosis, "<strong>")
	assert.NotEmpty(t, p.GoodNews)
	assert.NotEmpty(t, p.Team)
	assert.NotEmpty(t, p.CTA)
}

func TestForTier_ReturnsCopies(t *testing.T) {
	t.Parallel()
	p := ForTier(model.TierScale)
	p.Team[0] = "changed"

	assert.NotEqual(t, "changed", ForTier(model.TierScale).Team[0])
	assert.Equal(t, model.TierConstruction, ForTier("unknown").Tier)
	assert.Equal(t, "Empresário em Construção", Default().Name)
}

func TestByName(t *testing.T) {
	t.Parallel()

	p, ok := ByName("Empresário em Expansão")
	assert.True(t, ok)
	assert.Equal(t, model.TierExpansion, p.Tier)

	_, ok = ByName("nope")
	assert.False(t, ok)
}

func TestThresholdsFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ActiveUnitsThresholds, ThresholdsFor("active_units"))
	assert.Equal(t, QuantityThresholds, ThresholdsFor("quantity"))
	assert.Equal(t, QuantityThresholds, ThresholdsFor(""))
}
