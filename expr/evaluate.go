package expr

import (
	"strings"

	"dorm/host"
)

// Evaluate runs two-valued boolean evaluation of e against one document.
// Missing fields read as null. A nil expression matches everything.
func Evaluate(e Expr, doc host.Document) bool {
	if e == nil {
		return true
	}
	v, err := e.Accept(&evalVisitor{doc: doc})
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

type evalVisitor struct {
	doc host.Document
}

func (v *evalVisitor) VisitBinary(b *Binary) (any, error) {
	fv := v.doc[b.Field.Name]
	return evalBinary(b, fv), nil
}

func (v *evalVisitor) VisitLogical(l *Logical) (any, error) {
	if l.Op == OpAnd {
		for _, op := range l.Operands {
			if !Evaluate(op, v.doc) {
				return false, nil
			}
		}
		return true, nil
	}
	for _, op := range l.Operands {
		if Evaluate(op, v.doc) {
			return true, nil
		}
	}
	return false, nil
}

func (v *evalVisitor) VisitUnary(u *Unary) (any, error) {
	switch u.Op {
	case OpNot:
		return !Evaluate(u.Operand, v.doc), nil
	case OpIsNull:
		fv, present := v.doc[u.Field.Name]
		return !present || fv == nil, nil
	default:
		fv, present := v.doc[u.Field.Name]
		return present && fv != nil, nil
	}
}

func evalBinary(b *Binary, fv any) bool {
	switch b.Op {
	case OpEq:
		return host.ValueEq(fv, b.Value)
	case OpNe:
		return !host.ValueEq(fv, b.Value)
	case OpGt:
		return orderedCompare(fv, b.Value, func(c int) bool { return c > 0 })
	case OpGte:
		return orderedCompare(fv, b.Value, func(c int) bool { return c >= 0 })
	case OpLt:
		return orderedCompare(fv, b.Value, func(c int) bool { return c < 0 })
	case OpLte:
		return orderedCompare(fv, b.Value, func(c int) bool { return c <= 0 })
	case OpInArray:
		for _, v := range b.Values {
			if host.ValueEq(fv, v) {
				return true
			}
		}
		return false
	case OpNotInArray:
		for _, v := range b.Values {
			if host.ValueEq(fv, v) {
				return false
			}
		}
		return true
	case OpArrayContains:
		arr, ok := fv.([]any)
		if !ok {
			return false
		}
		for _, want := range b.Values {
			if !arrayHas(arr, want) {
				return false
			}
		}
		return true
	case OpArrayContained:
		arr, ok := fv.([]any)
		if !ok {
			return false
		}
		for _, have := range arr {
			if !arrayHas(b.Values, have) {
				return false
			}
		}
		return true
	case OpArrayOverlaps:
		arr, ok := fv.([]any)
		if !ok {
			return false
		}
		for _, have := range arr {
			if arrayHas(b.Values, have) {
				return true
			}
		}
		return false
	case OpLike, OpIlike, OpNotLike, OpNotIlike:
		s, ok := fv.(string)
		if !ok {
			return false
		}
		pattern, _ := b.Value.(string)
		if b.Op == OpIlike || b.Op == OpNotIlike {
			s = asciiLower(s)
			pattern = asciiLower(pattern)
		}
		matched := matchLike(s, pattern)
		if b.Op == OpNotLike || b.Op == OpNotIlike {
			return !matched
		}
		return matched
	case OpStartsWith:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		return ok && ok2 && strings.HasPrefix(s, p)
	case OpEndsWith:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		return ok && ok2 && strings.HasSuffix(s, p)
	case OpContains:
		s, ok := fv.(string)
		p, ok2 := b.Value.(string)
		return ok && ok2 && strings.Contains(s, p)
	case OpBetween:
		return betweenClosed(fv, b.Values)
	case OpNotBetween:
		if fv == nil || host.IsUndefined(fv) {
			return false
		}
		return !betweenClosed(fv, b.Values)
	default:
		return false
	}
}

// orderedCompare guards the four order comparisons: null and undefined never
// satisfy them under two-valued evaluation.
func orderedCompare(fv, v any, ok func(int) bool) bool {
	if fv == nil || v == nil || host.IsUndefined(fv) || host.IsUndefined(v) {
		return false
	}
	return ok(host.ValueCompare(fv, v))
}

func betweenClosed(fv any, bounds []any) bool {
	if len(bounds) != 2 {
		return false
	}
	return orderedCompare(fv, bounds[0], func(c int) bool { return c >= 0 }) &&
		orderedCompare(fv, bounds[1], func(c int) bool { return c <= 0 })
}

func arrayHas(arr []any, want any) bool {
	for _, v := range arr {
		if host.ValueEq(v, want) {
			return true
		}
	}
	return false
}

// asciiLower lowercases ASCII letters only; non-ASCII code points pass
// through untouched.
func asciiLower(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// matchLike matches s against a LIKE pattern where % matches any run of
// code points. "%x%" is substring, "x%" is prefix, "%x" is suffix, and a
// pattern without wildcards is an exact match. Substring matching is
// code-point based.
func matchLike(s, pattern string) bool {
	segments := strings.Split(pattern, "%")
	if len(segments) == 1 {
		return s == pattern
	}
	// Leading segment anchors at the start, trailing at the end; the
	// middle segments must appear in order.
	if first := segments[0]; first != "" {
		if !strings.HasPrefix(s, first) {
			return false
		}
		s = s[len(first):]
	}
	last := segments[len(segments)-1]
	middle := segments[1 : len(segments)-1]
	for _, seg := range middle {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	if last == "" {
		return true
	}
	return strings.HasSuffix(s, last)
}
