package core

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"deadline/pkg/domain"
)

// Unanswered marks a question without a selected option.
const Unanswered = -1

// Session is one profile working through the questionnaire. The aggregate
// is recomputed from the full selection set on every change.
type Session struct {
	engine  *Engine
	country domain.Country
	age     domain.Age
	sex     domain.Sex
	start   time.Time
	base    float64
	set     QuestionSet

	mu         sync.RWMutex
	selections []int
	summary    AltSummary
}

// Suggestion tells a profile how much life the best answers would add back.
type Suggestion struct {
	// Good is true when no selected answer costs life.
	Good bool `json:"good"`
	// Extend is the gain in years from switching every losing or
	// unanswered question to its best option.
	Extend float64 `json:"extend"`
	// Questions lists the questions whose selected answer costs life.
	Questions []int `json:"questions"`
}

func newSession(ctx context.Context, e *Engine, country domain.Country, age domain.Age, sex domain.Sex, start time.Time) (*Session, error) {
	base, err := e.life.BaseLife(country, age, sex)
	if err != nil {
		return nil, err
	}
	set, err := e.Questions(ctx, country, age, sex)
	if err != nil {
		return nil, err
	}
	s := &Session{
		engine:     e,
		country:    country,
		age:        age,
		sex:        sex,
		start:      start,
		base:       base,
		set:        set,
		selections: make([]int, len(set.Alts)),
	}
	for i := range s.selections {
		s.selections[i] = Unanswered
	}
	if s.summary, err = e.life.ProcessAlt(base, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Country is the profile country the session was opened for.
func (s *Session) Country() domain.Country { return s.country }

// Age is the profile age the session was opened for.
func (s *Session) Age() domain.Age { return s.age }

// Sex is the profile sex the session was opened for.
func (s *Session) Sex() domain.Sex { return s.sex }

// Start is the moment the countdown was anchored to.
func (s *Session) Start() time.Time { return s.start }

// Base is the remaining years before any answer is applied.
func (s *Session) Base() float64 { return s.base }

// Questions returns the texts and outcome matrix the session answers.
func (s *Session) Questions() QuestionSet {
	out := QuestionSet{
		Questions: slices.Clone(s.set.Questions),
		Alts:      make([][]float64, len(s.set.Alts)),
	}
	for i, row := range s.set.Alts {
		out.Alts[i] = slices.Clone(row)
	}
	return out
}

// Select records option for question and recomputes the aggregate.
// Unanswered clears the selection.
func (s *Session) Select(question, option int) error {
	if question < 0 || question >= len(s.set.Alts) {
		return fmt.Errorf("%w: question %d", domain.ErrUnknownEntity, question)
	}
	if option != Unanswered && (option < 0 || option >= len(s.set.Alts[question])) {
		return fmt.Errorf("%w: option %d of question %d", domain.ErrUnknownEntity, option, question)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.selections[question]
	s.selections[question] = option
	summary, err := s.engine.life.ProcessAlt(s.base, s.selectedAlts(s.selections))
	if err != nil {
		s.selections[question] = prev
		return err
	}
	s.summary = summary
	return nil
}

// selectedAlts lists the deltas of answered questions in question order.
func (s *Session) selectedAlts(selections []int) []float64 {
	alts := make([]float64, 0, len(selections))
	for i, opt := range selections {
		if opt == Unanswered {
			continue
		}
		alts = append(alts, s.set.Alts[i][opt])
	}
	return alts
}

// Selection returns the selected option of question.
func (s *Session) Selection(question int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if question < 0 || question >= len(s.selections) {
		return 0, false
	}
	return s.selections[question], true
}

// Selections returns a copy of every selection, Unanswered where unset.
func (s *Session) Selections() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.selections)
}

// Summary is the alteration aggregate of the current selections.
func (s *Session) Summary() AltSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Life is the current expected remaining years: base plus alterations.
func (s *Session) Life() float64 {
	return s.base + s.Summary().Alt
}

// Complete reports whether every question has an answer.
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !slices.Contains(s.selections, Unanswered)
}

// PercentBefore is the share of the population expected to die before this
// profile's current expected age of death.
func (s *Session) PercentBefore() (string, error) {
	return s.engine.life.PercentBefore(s.Life(), s.country, s.age, s.sex)
}

// Remaining decomposes the life left at now, counted from the session start.
// It never goes below zero.
func (s *Session) Remaining(now time.Time) (LifeSpan, error) {
	total, err := s.engine.life.LifeSeconds(s.Life())
	if err != nil {
		return LifeSpan{}, err
	}
	elapsed := math.Floor(now.Sub(s.start).Seconds())
	return s.engine.life.CalcLife(math.Max(total-elapsed, 0))
}

// Achievements returns every achievement whose condition holds for the
// session, sorted by ascending grade. Ties keep dataset order.
func (s *Session) Achievements(ctx context.Context) ([]domain.Achievement, error) {
	facts := s.Facts(ctx)
	var out []domain.Achievement
	for _, a := range s.engine.data.Achievements() {
		ok, err := Check(a.Condition, facts)
		if err != nil {
			return nil, fmt.Errorf("achievement %s: %w", a.Achievement, err)
		}
		if ok {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Achievement) int {
		switch {
		case a.Grade < b.Grade:
			return -1
		case a.Grade > b.Grade:
			return 1
		}
		return 0
	})
	return out, nil
}

// Suggest compares the current answers with the best answer of every
// question that currently costs life or is unanswered.
func (s *Session) Suggest() (Suggestion, error) {
	s.mu.RLock()
	selections := slices.Clone(s.selections)
	current := s.summary
	s.mu.RUnlock()

	out := Suggestion{Good: current.Worst >= 0, Questions: []int{}}
	improved := slices.Clone(selections)
	for i, opt := range selections {
		if opt != Unanswered && s.set.Alts[i][opt] >= 0 {
			continue
		}
		if opt != Unanswered {
			out.Questions = append(out.Questions, i)
		}
		if best := bestOption(s.set.Alts[i]); best != Unanswered {
			improved[i] = best
		}
	}
	summary, err := s.engine.life.ProcessAlt(s.base, s.selectedAlts(improved))
	if err != nil {
		return Suggestion{}, err
	}
	out.Extend = summary.Alt - current.Alt
	return out, nil
}

func bestOption(row []float64) int {
	best := Unanswered
	for j, v := range row {
		if best == Unanswered || v > row[best] {
			best = j
		}
	}
	return best
}
