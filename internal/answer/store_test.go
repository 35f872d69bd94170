package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quiz-funnel/internal/model"
)

func TestStore_RecordOverwrites(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Record("q2", "Até 10", model.Num(10), "")
	s.Record("q2", "Mais de 70", model.Num(80), "volume")

	a, ok := s.Get("q2")
	require.True(t, ok)
	assert.Equal(t, "Mais de 70", a.Label)
	assert.InDelta(t, 80, a.Numeric.Value, 0.001)
	assert.Equal(t, "volume", a.Tag)
	assert.Equal(t, 1, s.Len())
}

func TestStore_NumericAndPrefixedIDsMatch(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Record("3", "R$ 800", model.Num(800), "")

	a, ok := s.Get("q3")
	require.True(t, ok)
	assert.Equal(t, "q3", a.QuestionID)
	assert.InDelta(t, 800, s.Number("3").Value, 0.001)
}

func TestStore_Absent(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_, ok := s.Get("q9")
	assert.False(t, ok)
	assert.False(t, s.Number("q9").Valid)
	assert.Empty(t, s.Label("q9"))
	assert.Empty(t, s.Tag("q9"))
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Record("q1", "Sim", model.Number{}, "")

	snap := s.Snapshot()
	delete(snap, "q1")

	_, ok := s.Get("q1")
	assert.True(t, ok)
}
