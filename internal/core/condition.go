package core

import (
	"errors"
	"math"

	"deadline/pkg/domain"
)

// FactResolver maps a Value path to the runtime value it names.
type FactResolver interface {
	Resolve(path []domain.Scalar) (domain.Scalar, error)
}

// FactResolverFunc adapts a function to FactResolver.
type FactResolverFunc func(path []domain.Scalar) (domain.Scalar, error)

// Resolve implements FactResolver.
func (f FactResolverFunc) Resolve(path []domain.Scalar) (domain.Scalar, error) { return f(path) }

var errNoResolver = errors.New("condition references a value but no fact resolver was given")

// Check evaluates rule. or/and short-circuit left to right; an empty or is
// false and an empty and is true. Comparisons between a number and a string
// are false, and NaN compares false against everything. The resolver is only
// called for Value operands that are actually reached.
func Check(rule domain.Rule, resolver FactResolver) (bool, error) {
	switch rule.Op {
	case domain.OpOr:
		for _, child := range rule.Children {
			ok, err := Check(child, resolver)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case domain.OpAnd:
		for _, child := range rule.Children {
			ok, err := Check(child, resolver)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case domain.OpNot:
		if len(rule.Children) != 1 {
			return false, &domain.RuleError{Op: rule.Op}
		}
		ok, err := Check(rule.Children[0], resolver)
		return !ok && err == nil, err
	case domain.OpEq, domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		left, err := resolve(rule.Left, resolver)
		if err != nil {
			return false, err
		}
		right, err := resolve(rule.Right, resolver)
		if err != nil {
			return false, err
		}
		return compare(rule.Op, left, right), nil
	case domain.OpIn:
		subject, err := resolve(rule.Left, resolver)
		if err != nil {
			return false, err
		}
		for _, candidate := range rule.Candidates {
			v, err := resolve(candidate, resolver)
			if err != nil {
				return false, err
			}
			if compare(domain.OpEq, subject, v) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &domain.RuleError{Op: rule.Op}
	}
}

func resolve(o domain.Operand, resolver FactResolver) (domain.Scalar, error) {
	if !o.IsRef() {
		return o.Literal(), nil
	}
	if resolver == nil {
		return domain.Scalar{}, errNoResolver
	}
	return resolver.Resolve(o.Path())
}

func compare(op domain.RuleOp, a, b domain.Scalar) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	var c int
	if x, ok := a.Float(); ok {
		y, _ := b.Float()
		if math.IsNaN(x) || math.IsNaN(y) {
			return false
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	} else {
		x, _ := a.Text()
		y, _ := b.Text()
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	}
	switch op {
	case domain.OpEq:
		return c == 0
	case domain.OpGt:
		return c > 0
	case domain.OpGte:
		return c >= 0
	case domain.OpLt:
		return c < 0
	case domain.OpLte:
		return c <= 0
	}
	return false
}
