// Package answer holds the per-session answer store.
package answer

import (
	"maps"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// Store maps question ids to the latest recorded answer. It does no
// validation; calculators apply their own defaults.
type Store struct {
	answers map[string]model.Answer
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{answers: make(map[string]model.Answer)}
}

// Record overwrites any existing answer for questionID.
func (s *Store) Record(questionID, label string, numeric model.Number, tag string) model.Answer {
	key := model.QuestionKey(questionID)
	a := model.Answer{
		QuestionID: key,
		Label:      label,
		Numeric:    numeric,
		Tag:        tag,
	}
	s.answers[key] = a
	return a
}

// Get returns the stored answer and whether one exists.
func (s *Store) Get(questionID string) (model.Answer, bool) {
	a, ok := s.answers[model.QuestionKey(questionID)]
	return a, ok
}

// Number returns the numeric value of an answer, absent when unanswered.
func (s *Store) Number(questionID string) model.Number {
	a, ok := s.Get(questionID)
	if !ok {
		return model.Number{}
	}
	return a.Numeric
}

// Label returns the label of an answer, or "" when unanswered.
func (s *Store) Label(questionID string) string {
	a, _ := s.Get(questionID)
	return a.Label
}

// Tag returns the category tag of an answer, or "" when unanswered.
func (s *Store) Tag(questionID string) string {
	a, _ := s.Get(questionID)
	return a.Tag
}

// Len returns the number of answered questions.
func (s *Store) Len() int {
	return len(s.answers)
}

// Snapshot returns a copy of all answers.
func (s *Store) Snapshot() map[string]model.Answer {
	return maps.Clone(s.answers)
}
