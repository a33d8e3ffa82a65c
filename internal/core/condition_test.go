package core

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"deadline/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapFacts resolves "a.b" style paths from a map and counts calls.
type mapFacts struct {
	values map[string]domain.Scalar
	calls  int
}

func (m *mapFacts) Resolve(path []domain.Scalar) (domain.Scalar, error) {
	m.calls++
	key := ""
	for i, seg := range path {
		if i > 0 {
			key += "."
		}
		key += seg.String()
	}
	v, ok := m.values[key]
	if !ok {
		return domain.Number(math.NaN()), nil
	}
	return v, nil
}

func TestCheckEmptyConnectives(t *testing.T) {
	ok, err := Check(domain.Or(), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Check(domain.And(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckLiteralComparisons(t *testing.T) {
	cases := []struct {
		name string
		rule domain.Rule
		want bool
	}{
		{"eq numbers", domain.Eq(domain.Num(1), domain.Num(1)), true},
		{"gt", domain.Gt(domain.Num(2), domain.Num(1)), true},
		{"gte equal", domain.Gte(domain.Num(1), domain.Num(1)), true},
		{"lt", domain.Lt(domain.Num(2), domain.Num(1)), false},
		{"lte", domain.Lte(domain.Num(1), domain.Num(2)), true},
		{"strings lexicographic", domain.Lt(domain.Str("apple"), domain.Str("banana")), true},
		{"mixed kinds never equal", domain.Eq(domain.Num(1), domain.Str("1")), false},
		{"mixed kinds unordered", domain.Gt(domain.Str("2"), domain.Num(1)), false},
		{"nan never equal", domain.Eq(domain.Num(math.NaN()), domain.Num(math.NaN())), false},
		{"nan unordered", domain.Lte(domain.Num(math.NaN()), domain.Num(1)), false},
		{"not", domain.Not(domain.Eq(domain.Num(1), domain.Num(2))), true},
		{"in hit", domain.In(domain.Num(2), domain.Num(1), domain.Num(2)), true},
		{"in miss", domain.In(domain.Num(3), domain.Num(1), domain.Num(2)), false},
		{"in empty", domain.In(domain.Num(3)), false},
		{"and", domain.And(domain.Eq(domain.Num(1), domain.Num(1)), domain.Gt(domain.Num(2), domain.Num(1))), true},
		{"or", domain.Or(domain.Eq(domain.Num(1), domain.Num(2)), domain.Eq(domain.Str("a"), domain.Str("a"))), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := Check(tc.rule, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestCheckResolvesReferences(t *testing.T) {
	facts := &mapFacts{values: map[string]domain.Scalar{
		"life.total":  domain.Number(101),
		"question.0":  domain.Number(2),
		"country.tag": domain.String("jp"),
	}}
	rule := domain.And(
		domain.Gte(domain.RefPath("life", "total"), domain.Num(100)),
		domain.In(domain.RefPath("question", 0), domain.Num(1), domain.Num(2)),
		domain.Eq(domain.RefPath("country", "tag"), domain.Str("jp")),
	)
	ok, err := Check(rule, facts)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, facts.calls)

	ok, err = Check(domain.Eq(domain.RefPath("missing", "path"), domain.Num(0)), facts)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckShortCircuits(t *testing.T) {
	facts := &mapFacts{}
	ok, err := Check(domain.Or(domain.Eq(domain.Num(1), domain.Num(1)), domain.Eq(domain.RefPath("x", "y"), domain.Num(0))), facts)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Check(domain.And(domain.Eq(domain.Num(1), domain.Num(2)), domain.Eq(domain.RefPath("x", "y"), domain.Num(0))), facts)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, facts.calls)
}

func TestCheckLiteralTreeNeverCallsResolver(t *testing.T) {
	resolver := FactResolverFunc(func([]domain.Scalar) (domain.Scalar, error) {
		t.Fatal("resolver called for a literal-only tree")
		return domain.Scalar{}, nil
	})
	ok, err := Check(domain.Not(domain.In(domain.Str("b"), domain.Str("a"))), resolver)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckRejectsUnknownRule(t *testing.T) {
	_, err := Check(domain.Rule{Op: "xor"}, nil)
	var ruleErr *domain.RuleError
	require.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, domain.RuleOp("xor"), ruleErr.Op)
	assert.ErrorIs(t, err, domain.ErrUnknownRuleVariant)

	_, err = Check(domain.Rule{Op: domain.OpNot}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownRuleVariant)

	_, err = Check(domain.And(domain.Eq(domain.Num(1), domain.Num(1)), domain.Rule{Op: "nand"}), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownRuleVariant)
}

func TestCheckUnknownRuleDecodedFromBundle(t *testing.T) {
	var rule domain.Rule
	require.NoError(t, json.Unmarshal([]byte(`{"rule":"between","args":[1,2]}`), &rule))
	_, err := Check(rule, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownRuleVariant)
}

func TestCheckPropagatesResolverErrors(t *testing.T) {
	boom := errors.New("boom")
	resolver := FactResolverFunc(func([]domain.Scalar) (domain.Scalar, error) {
		return domain.Scalar{}, boom
	})
	_, err := Check(domain.Eq(domain.RefPath("life", "total"), domain.Num(1)), resolver)
	assert.ErrorIs(t, err, boom)

	_, err = Check(domain.Not(domain.Eq(domain.RefPath("life", "total"), domain.Num(1))), resolver)
	assert.ErrorIs(t, err, boom)

	_, err = Check(domain.Eq(domain.RefPath("life", "total"), domain.Num(1)), nil)
	assert.ErrorIs(t, err, errNoResolver)
}
