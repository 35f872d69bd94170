// Package sequencer walks the fixed, ordered list of funnel screens.
package sequencer

import (
	"github.com/sells-group/quiz-funnel/internal/model"
)

// Transition describes a change of the active screen.
type Transition struct {
	From     model.Screen
	To       model.Screen
	FromIdx  int
	ToIdx    int
	Changed  bool
	JumpedTo string
}

// Sequencer holds the screen order and the current position. The order is
// fixed at construction.
type Sequencer struct {
	screens []model.Screen
	index   map[string]int
	current int
}

// New creates a Sequencer positioned at the first screen. Duplicate ids
// resolve to their first occurrence.
func New(screens []model.Screen) *Sequencer {
	s := &Sequencer{
		screens: append([]model.Screen(nil), screens...),
		index:   make(map[string]int, len(screens)),
	}
	for i, sc := range s.screens {
		if _, dup := s.index[sc.ID]; !dup {
			s.index[sc.ID] = i
		}
	}
	return s
}

// Len returns the number of screens.
func (s *Sequencer) Len() int { return len(s.screens) }

// Index returns the current position.
func (s *Sequencer) Index() int { return s.current }

// Current returns the active screen. An empty sequence yields the zero Screen.
func (s *Sequencer) Current() model.Screen {
	if len(s.screens) == 0 {
		return model.Screen{}
	}
	return s.screens[s.current]
}

// AtEnd reports whether the active screen is the terminal one.
func (s *Sequencer) AtEnd() bool {
	return s.current >= len(s.screens)-1
}

// Screens returns a copy of the ordered screens.
func (s *Sequencer) Screens() []model.Screen {
	return append([]model.Screen(nil), s.screens...)
}

// Lookup returns the position of id.
func (s *Sequencer) Lookup(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Advance moves one screen forward. At the last screen it does nothing and
// reports Changed=false.
func (s *Sequencer) Advance() Transition {
	t := Transition{From: s.Current(), FromIdx: s.current}
	if !s.AtEnd() {
		s.current++
		t.Changed = true
	}
	t.To, t.ToIdx = s.Current(), s.current
	return t
}

// JumpTo moves directly to the screen with the given id. The second return
// is false when the id is unknown, in which case nothing moves.
func (s *Sequencer) JumpTo(id string) (Transition, bool) {
	t := Transition{From: s.Current(), FromIdx: s.current, JumpedTo: id}
	i, ok := s.index[id]
	if !ok {
		t.To, t.ToIdx = t.From, t.FromIdx
		return t, false
	}
	s.current = i
	t.To, t.ToIdx = s.Current(), s.current
	t.Changed = true
	return t, true
}
