package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ScalarKind discriminates Scalar values.
type ScalarKind uint8

const (
	KindNumber ScalarKind = iota
	KindString
)

// Scalar is the value type rules compare: a number or a string.
type Scalar struct {
	kind ScalarKind
	num  float64
	str  string
}

// Number wraps a float as a Scalar.
func Number(v float64) Scalar { return Scalar{kind: KindNumber, num: v} }

// String wraps a string as a Scalar.
func String(v string) Scalar { return Scalar{kind: KindString, str: v} }

// Kind reports whether the scalar is a number or a string.
func (s Scalar) Kind() ScalarKind { return s.kind }

// Float returns the numeric value; false for strings.
func (s Scalar) Float() (float64, bool) { return s.num, s.kind == KindNumber }

// Text returns the string value; false for numbers.
func (s Scalar) Text() (string, bool) { return s.str, s.kind == KindString }

func (s Scalar) String() string {
	if s.kind == KindString {
		return s.str
	}
	return strconv.FormatFloat(s.num, 'g', -1, 64)
}

// MarshalJSON encodes the scalar as a bare JSON number or string.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.kind == KindString {
		return json.Marshal(s.str)
	}
	return json.Marshal(s.num)
}

// UnmarshalJSON accepts a JSON number or string.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = String(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("scalar must be a number or string: %w", err)
	}
	*s = Number(v)
	return nil
}

// Operand is one side of a comparison: a literal or a Value reference whose
// path the caller's fact resolver maps to a runtime value.
type Operand struct {
	literal Scalar
	path    []Scalar
	ref     bool
}

// Lit builds a literal operand.
func Lit(v Scalar) Operand { return Operand{literal: v} }

// Num is shorthand for a numeric literal operand.
func Num(v float64) Operand { return Lit(Number(v)) }

// Str is shorthand for a string literal operand.
func Str(v string) Operand { return Lit(String(v)) }

// Ref builds a Value reference operand. Segments are literal keys, e.g. ("life", "born").
func Ref(path ...Scalar) Operand {
	cp := make([]Scalar, len(path))
	copy(cp, path)
	return Operand{path: cp, ref: true}
}

// RefPath builds a reference from mixed string/int segments.
func RefPath(segments ...any) Operand {
	path := make([]Scalar, 0, len(segments))
	for _, seg := range segments {
		switch v := seg.(type) {
		case string:
			path = append(path, String(v))
		case int:
			path = append(path, Number(float64(v)))
		case float64:
			path = append(path, Number(v))
		default:
			panic(fmt.Sprintf("domain: unsupported path segment %T", seg))
		}
	}
	return Operand{path: path, ref: true}
}

// IsRef reports whether the operand needs resolving.
func (o Operand) IsRef() bool { return o.ref }

// Literal returns the literal scalar of a non-reference operand.
func (o Operand) Literal() Scalar { return o.literal }

// Path returns a copy of the reference path.
func (o Operand) Path() []Scalar {
	cp := make([]Scalar, len(o.path))
	copy(cp, o.path)
	return cp
}

type valueJSON struct {
	Rule string   `json:"rule"`
	Args []Scalar `json:"args"`
}

// MarshalJSON encodes a literal bare and a reference as {"rule":"value","args":[...]}.
func (o Operand) MarshalJSON() ([]byte, error) {
	if !o.ref {
		return json.Marshal(o.literal)
	}
	return json.Marshal(valueJSON{Rule: "value", Args: o.path})
}

// UnmarshalJSON decodes either form.
func (o *Operand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var v valueJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if v.Rule != "value" {
			return fmt.Errorf("operand object must be a value reference, got %q", v.Rule)
		}
		*o = Ref(v.Args...)
		return nil
	}
	var s Scalar
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Lit(s)
	return nil
}

// RuleOp names a rule variant.
type RuleOp string

const (
	OpOr  RuleOp = "or"
	OpAnd RuleOp = "and"
	OpNot RuleOp = "not"
	OpEq  RuleOp = "eq"
	OpGt  RuleOp = "gt"
	OpGte RuleOp = "gte"
	OpLt  RuleOp = "lt"
	OpLte RuleOp = "lte"
	OpIn  RuleOp = "in"
)

// Rule is a node of the boolean condition tree. Which fields are populated
// depends on Op: Children for or/and/not (not uses exactly one child),
// Left/Right for comparisons, Left/Candidates for in.
type Rule struct {
	Op         RuleOp
	Children   []Rule
	Left       Operand
	Right      Operand
	Candidates []Operand
}

func Or(children ...Rule) Rule  { return Rule{Op: OpOr, Children: children} }
func And(children ...Rule) Rule { return Rule{Op: OpAnd, Children: children} }
func Not(child Rule) Rule       { return Rule{Op: OpNot, Children: []Rule{child}} }

func Eq(a, b Operand) Rule  { return Rule{Op: OpEq, Left: a, Right: b} }
func Gt(a, b Operand) Rule  { return Rule{Op: OpGt, Left: a, Right: b} }
func Gte(a, b Operand) Rule { return Rule{Op: OpGte, Left: a, Right: b} }
func Lt(a, b Operand) Rule  { return Rule{Op: OpLt, Left: a, Right: b} }
func Lte(a, b Operand) Rule { return Rule{Op: OpLte, Left: a, Right: b} }

// In matches when subject equals any candidate.
func In(subject Operand, candidates ...Operand) Rule {
	return Rule{Op: OpIn, Left: subject, Candidates: candidates}
}

type ruleJSON struct {
	Rule RuleOp          `json:"rule"`
	Args json.RawMessage `json:"args"`
}

// MarshalJSON encodes the bundle form {"rule":...,"args":...}.
func (r Rule) MarshalJSON() ([]byte, error) {
	var args any
	switch r.Op {
	case OpOr, OpAnd:
		children := r.Children
		if children == nil {
			children = []Rule{}
		}
		args = children
	case OpNot:
		if len(r.Children) != 1 {
			return nil, fmt.Errorf("not rule needs exactly one child, has %d", len(r.Children))
		}
		args = r.Children[0]
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		args = [2]Operand{r.Left, r.Right}
	case OpIn:
		candidates := r.Candidates
		if candidates == nil {
			candidates = []Operand{}
		}
		args = []any{r.Left, candidates}
	default:
		return nil, &RuleError{Op: r.Op}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{Rule: r.Op, Args: raw})
}

// UnmarshalJSON decodes the bundle form. Unknown variants decode without
// error and keep their op so evaluation can reject them.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Rule{Op: raw.Rule}
	switch raw.Rule {
	case OpOr, OpAnd:
		if err := json.Unmarshal(raw.Args, &out.Children); err != nil {
			return fmt.Errorf("%s args: %w", raw.Rule, err)
		}
	case OpNot:
		var child Rule
		if err := json.Unmarshal(raw.Args, &child); err != nil {
			return fmt.Errorf("not args: %w", err)
		}
		out.Children = []Rule{child}
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		var pair [2]Operand
		if err := json.Unmarshal(raw.Args, &pair); err != nil {
			return fmt.Errorf("%s args: %w", raw.Rule, err)
		}
		out.Left, out.Right = pair[0], pair[1]
	case OpIn:
		var parts []json.RawMessage
		if err := json.Unmarshal(raw.Args, &parts); err != nil {
			return fmt.Errorf("in args: %w", err)
		}
		if len(parts) != 2 {
			return fmt.Errorf("in args: want [subject, candidates], got %d elements", len(parts))
		}
		if err := json.Unmarshal(parts[0], &out.Left); err != nil {
			return fmt.Errorf("in subject: %w", err)
		}
		if err := json.Unmarshal(parts[1], &out.Candidates); err != nil {
			return fmt.Errorf("in candidates: %w", err)
		}
	}
	*r = out
	return nil
}
