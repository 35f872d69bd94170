package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    any
		valid bool
		want  float64
	}{
		{"nil", nil, false, 0},
		{"float", 12.5, true, 12.5},
		{"int", 7, true, 7},
		{"numeric string", " 40 ", true, 40},
		{"comma decimal", "2,5", true, 2.5},
		{"garbage string", "muitas", false, 0},
		{"empty string", "", false, 0},
		{"bool", true, false, 0},
		{"json number", json.Number("150"), true, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := ParseNumber(tt.in)
			assert.Equal(t, tt.valid, n.Valid)
			if tt.valid {
				assert.InDelta(t, tt.want, n.Value, 0.0001)
			}
		})
	}
}

func TestNumber_Defaults(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 10, Number{}.Or(10), 0.0001)
	assert.InDelta(t, 0, Num(0).Or(10), 0.0001)
	assert.InDelta(t, 10, Num(0).NonZeroOr(10), 0.0001)
	assert.InDelta(t, 10, Num(math.NaN()).Or(10), 0.0001)
	assert.InDelta(t, 10, Num(math.Inf(1)).NonZeroOr(10), 0.0001)
	assert.InDelta(t, 42, Num(42).NonZeroOr(10), 0.0001)
}

func TestNumber_JSON(t *testing.T) {
	t.Parallel()

	var a Answer
	require.NoError(t, json.Unmarshal([]byte(`{"question_id":"q2","label":"x","numeric":"35"}`), &a))
	assert.True(t, a.Numeric.Valid)
	assert.InDelta(t, 35, a.Numeric.Value, 0.0001)

	require.NoError(t, json.Unmarshal([]byte(`{"question_id":"q2","numeric":null}`), &a))
	assert.False(t, a.Numeric.Valid)

	b, err := json.Marshal(Answer{QuestionID: "q1"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"numeric":null`)
}

func TestQuestionKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "q2", QuestionKey("2"))
	assert.Equal(t, "q2", QuestionKey("q2"))
	assert.Equal(t, "feeling", QuestionKey(" feeling "))
	assert.Equal(t, "", QuestionKey(""))
}
