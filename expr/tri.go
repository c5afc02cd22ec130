package expr

import (
	"strings"

	"dorm/host"
)

// Tri is a SQL three-valued truth value. Check constraints evaluate under
// this logic and reject a write only on False; Unknown passes.
type Tri int

const (
	Unknown Tri = iota
	True
	False
)

// String names the truth value.
func (t Tri) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

// Not applies three-valued negation: not UNKNOWN is UNKNOWN.
func (t Tri) Not() Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// EvaluateTri runs three-valued evaluation of e against one document. Any
// comparison touching null or undefined yields Unknown. A nil expression is
// True.
func EvaluateTri(e Expr, doc host.Document) Tri {
	if e == nil {
		return True
	}
	v, err := e.Accept(&triVisitor{doc: doc})
	if err != nil {
		return Unknown
	}
	t, ok := v.(Tri)
	if !ok {
		return Unknown
	}
	return t
}

type triVisitor struct {
	doc host.Document
}

func (v *triVisitor) VisitLogical(l *Logical) (any, error) {
	if l.Op == OpAnd {
		out := True
		for _, op := range l.Operands {
			switch EvaluateTri(op, v.doc) {
			case False:
				return False, nil
			case Unknown:
				out = Unknown
			}
		}
		return out, nil
	}
	out := False
	for _, op := range l.Operands {
		switch EvaluateTri(op, v.doc) {
		case True:
			return True, nil
		case Unknown:
			out = Unknown
		}
	}
	return out, nil
}

func (v *triVisitor) VisitUnary(u *Unary) (any, error) {
	switch u.Op {
	case OpNot:
		return EvaluateTri(u.Operand, v.doc).Not(), nil
	case OpIsNull:
		fv, present := v.doc[u.Field.Name]
		return tri(!present || fv == nil || host.IsUndefined(fv)), nil
	default:
		fv, present := v.doc[u.Field.Name]
		return tri(present && fv != nil && !host.IsUndefined(fv)), nil
	}
}

func (v *triVisitor) VisitBinary(b *Binary) (any, error) {
	fv, present := v.doc[b.Field.Name]
	if !present || fv == nil || host.IsUndefined(fv) {
		return Unknown, nil
	}
	switch b.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if b.Value == nil || host.IsUndefined(b.Value) {
			return Unknown, nil
		}
		switch b.Op {
		case OpEq:
			return tri(host.ValueEq(fv, b.Value)), nil
		case OpNe:
			return tri(!host.ValueEq(fv, b.Value)), nil
		case OpGt:
			return tri(host.ValueCompare(fv, b.Value) > 0), nil
		case OpGte:
			return tri(host.ValueCompare(fv, b.Value) >= 0), nil
		case OpLt:
			return tri(host.ValueCompare(fv, b.Value) < 0), nil
		default:
			return tri(host.ValueCompare(fv, b.Value) <= 0), nil
		}
	case OpInArray, OpNotInArray:
		in := triIn(fv, b.Values)
		if b.Op == OpNotInArray {
			return in.Not(), nil
		}
		return in, nil
	case OpBetween, OpNotBetween:
		if len(b.Values) != 2 || hasNullish(b.Values) {
			return Unknown, nil
		}
		in := tri(host.ValueCompare(fv, b.Values[0]) >= 0 && host.ValueCompare(fv, b.Values[1]) <= 0)
		if b.Op == OpNotBetween {
			return in.Not(), nil
		}
		return in, nil
	case OpLike, OpIlike, OpNotLike, OpNotIlike:
		s, ok := fv.(string)
		pattern, ok2 := b.Value.(string)
		if !ok || !ok2 {
			return Unknown, nil
		}
		if b.Op == OpIlike || b.Op == OpNotIlike {
			s = asciiLower(s)
			pattern = asciiLower(pattern)
		}
		matched := tri(matchLike(s, pattern))
		if b.Op == OpNotLike || b.Op == OpNotIlike {
			return matched.Not(), nil
		}
		return matched, nil
	case OpStartsWith:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		if !ok || !ok2 {
			return Unknown, nil
		}
		return tri(strings.HasPrefix(s, p)), nil
	case OpEndsWith:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		if !ok || !ok2 {
			return Unknown, nil
		}
		return tri(strings.HasSuffix(s, p)), nil
	case OpContains:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		if !ok || !ok2 {
			return Unknown, nil
		}
		return tri(strings.Contains(s, p)), nil
	default:
		// Array set operators follow the two-valued result once the field
		// itself is known.
		return tri(evalBinary(b, fv)), nil
	}
}

// triIn implements SQL IN: a match is True; no match with a null in the
// list is Unknown; otherwise False.
func triIn(fv any, list []any) Tri {
	sawNull := false
	for _, v := range list {
		if v == nil || host.IsUndefined(v) {
			sawNull = true
			continue
		}
		if host.ValueEq(fv, v) {
			return True
		}
	}
	if sawNull {
		return Unknown
	}
	return False
}

func hasNullish(vs []any) bool {
	for _, v := range vs {
		if v == nil || host.IsUndefined(v) {
			return true
		}
	}
	return false
}

func tri(b bool) Tri {
	if b {
		return True
	}
	return False
}
