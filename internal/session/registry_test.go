package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quiz-funnel/internal/funnel"
	"github.com/sells-group/quiz-funnel/internal/monitoring"
)

func TestNewRegistry_NilSource(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry(nil, Options{}, 10)
	require.Error(t, err)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry(funnel.NewStatic(funnel.Classic()), Options{Scheduler: NewManual()}, 0)
	require.NoError(t, err)
	defer reg.Close()

	ctl := reg.Create("visitor-1")
	assert.Equal(t, "screen_intro", ctl.Snapshot().CurrentScreen)
	assert.Equal(t, "classic", ctl.Definition().Name)

	got, ok := reg.Get(ctl.ID())
	require.True(t, ok)
	assert.Same(t, ctl, got)

	assert.True(t, reg.Remove(ctl.ID()))
	_, ok = reg.Get(ctl.ID())
	assert.False(t, ok)
	assert.True(t, ctl.closed)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	promReg := prometheus.NewRegistry()
	metrics := monitoring.MustNewMetrics(promReg, "test")

	reg, err := NewRegistry(funnel.NewStatic(funnel.Adjusted()), Options{Scheduler: NewManual(), Metrics: metrics}, 2)
	require.NoError(t, err)
	defer reg.Close()

	first := reg.Create("a")
	second := reg.Create("b")
	_, _ = reg.Get(first.ID())
	third := reg.Create("c")

	assert.Equal(t, 2, reg.Len())
	_, ok := reg.Get(second.ID())
	assert.False(t, ok, "second was least recently used")
	assert.True(t, second.closed)
	_, ok = reg.Get(first.ID())
	assert.True(t, ok)
	_, ok = reg.Get(third.ID())
	assert.True(t, ok)

	families, err := promReg.Gather()
	require.NoError(t, err)
	var active float64
	for _, f := range families {
		if f.GetName() == "test_sessions_active" {
			active = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.InDelta(t, 2, active, 0.001)
}

func TestRegistry_UsesCurrentDefinition(t *testing.T) {
	t.Parallel()
	src := &swapSource{def: funnel.Classic()}
	reg, err := NewRegistry(src, Options{Scheduler: NewManual()}, 4)
	require.NoError(t, err)
	defer reg.Close()

	before := reg.Create("a")
	src.def = funnel.Adjusted()
	after := reg.Create("b")

	assert.Equal(t, "classic", before.Definition().Name)
	assert.Equal(t, "adjusted", after.Definition().Name)
}

type swapSource struct{ def *funnel.Definition }

func (s *swapSource) Current() *funnel.Definition { return s.def }

func TestManual_OrderAndStop(t *testing.T) {
	t.Parallel()
	m := NewManual()
	var got []string
	m.AfterFunc(20*time.Millisecond, func() { got = append(got, "b") })
	m.AfterFunc(10*time.Millisecond, func() {
		got = append(got, "a")
		m.AfterFunc(5*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := m.AfterFunc(15*time.Millisecond, func() { got = append(got, "never") })
	m.AfterFunc(20*time.Millisecond, func() { got = append(got, "c") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 3, m.Pending())

	assert.Equal(t, 2, m.Advance(15*time.Millisecond))
	assert.Equal(t, []string{"a", "a2"}, got)
	assert.Equal(t, 15*time.Millisecond, m.Now())

	assert.Equal(t, 2, m.Flush())
	assert.Equal(t, []string{"a", "a2", "b", "c"}, got)
	assert.Equal(t, 20*time.Millisecond, m.Now())
	assert.Zero(t, m.Pending())
}
