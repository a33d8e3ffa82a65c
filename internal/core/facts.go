package core

import (
	"context"
	"math"
	"strconv"

	"deadline/pkg/domain"
)

// SessionFacts resolves achievement condition paths against a session:
//
//	life.born | life.death | life.total
//	average.country | average.high
//	alt.worst | alt.best
//	question.<index>   selected option index, -1 when unanswered
//	random.<id>        global random fact
//
// Any other path resolves to NaN, which no comparison matches.
type SessionFacts struct {
	ctx     context.Context
	session *Session
}

// Facts returns the resolver for s. Random facts are read through ctx.
func (s *Session) Facts(ctx context.Context) *SessionFacts {
	return &SessionFacts{ctx: ctx, session: s}
}

func (f *SessionFacts) Resolve(path []domain.Scalar) (domain.Scalar, error) {
	nan := domain.Number(math.NaN())
	if len(path) != 2 {
		return nan, nil
	}
	group, ok := path[0].Text()
	if !ok {
		return nan, nil
	}
	s := f.session
	switch group {
	case "life":
		name, _ := path[1].Text()
		born := float64(s.start.Year() - s.age.Value)
		total := float64(s.age.Value) + s.Life()
		switch name {
		case "born":
			return domain.Number(born), nil
		case "total":
			return domain.Number(total), nil
		case "death":
			return domain.Number(born + total), nil
		}
	case "average":
		name, _ := path[1].Text()
		switch name {
		case "country":
			v, _ := s.country.Life.For(s.sex.Value)
			return domain.Number(v), nil
		case "high":
			return domain.Number(f.highest()), nil
		}
	case "alt":
		name, _ := path[1].Text()
		summary := s.Summary()
		switch name {
		case "worst":
			return domain.Number(summary.Worst), nil
		case "best":
			return domain.Number(summary.Best), nil
		}
	case "question":
		i, ok := pathIndex(path[1])
		if !ok {
			return nan, nil
		}
		opt, ok := s.Selection(i)
		if !ok {
			return nan, nil
		}
		return domain.Number(float64(opt)), nil
	case "random":
		v, err := s.engine.Random(f.ctx, path[1].String())
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.Number(v), nil
	}
	return nan, nil
}

func (f *SessionFacts) highest() float64 {
	high := math.Inf(-1)
	for _, c := range f.session.engine.data.Countries() {
		if v, ok := c.Life.For(f.session.sex.Value); ok && v > high {
			high = v
		}
	}
	return high
}

// pathIndex accepts a numeric segment or its decimal text form.
func pathIndex(seg domain.Scalar) (int, bool) {
	if n, ok := seg.Float(); ok {
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	text, _ := seg.Text()
	i, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return i, true
}
