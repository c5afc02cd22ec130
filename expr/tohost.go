package expr

import (
	"dorm/host"
)

// ToHostFilter lowers e to the host filter DSL. The second result reports
// whether the lowering is exact: when false, the host filter passes a
// superset of the matching documents (string and array operators the host
// cannot express become always-true) and the caller must re-apply the full
// expression in memory after the fetch.
//
// Inexact sub-trees under a NOT are widened to always-true as a whole:
// negating a superset would wrongly exclude rows.
func ToHostFilter(e Expr) (host.Filter, bool) {
	if e == nil {
		return host.True(), true
	}
	v, err := e.Accept(&lowerVisitor{})
	if err != nil {
		return host.True(), false
	}
	lf := v.(lowered)
	return lf.filter, lf.exact
}

type lowered struct {
	filter host.Filter
	exact  bool
}

type lowerVisitor struct{}

func (lv *lowerVisitor) VisitBinary(b *Binary) (any, error) {
	f := host.Field(b.Field.Name)
	switch b.Op {
	case OpEq:
		return lowered{host.Eq(f, host.Literal(b.Value)), true}, nil
	case OpNe:
		return lowered{host.Neq(f, host.Literal(b.Value)), true}, nil
	case OpGt:
		return lowered{host.Gt(f, host.Literal(b.Value)), true}, nil
	case OpGte:
		return lowered{host.Gte(f, host.Literal(b.Value)), true}, nil
	case OpLt:
		return lowered{host.Lt(f, host.Literal(b.Value)), true}, nil
	case OpLte:
		return lowered{host.Lte(f, host.Literal(b.Value)), true}, nil
	case OpInArray:
		ops := make([]host.Filter, len(b.Values))
		for i, v := range b.Values {
			ops[i] = host.Eq(f, host.Literal(v))
		}
		return lowered{host.Or(ops...), true}, nil
	case OpNotInArray:
		ops := make([]host.Filter, len(b.Values))
		for i, v := range b.Values {
			ops[i] = host.Neq(f, host.Literal(v))
		}
		return lowered{host.And(ops...), true}, nil
	case OpBetween:
		return lowered{host.And(
			host.Gte(f, host.Literal(b.Values[0])),
			host.Lte(f, host.Literal(b.Values[1])),
		), true}, nil
	case OpNotBetween:
		return lowered{host.Or(
			host.Lt(f, host.Literal(b.Values[0])),
			host.Gt(f, host.Literal(b.Values[1])),
		), true}, nil
	default:
		// String and array-set operators have no host DSL form; they are
		// re-applied in memory post-fetch.
		return lowered{host.True(), false}, nil
	}
}

func (lv *lowerVisitor) VisitLogical(l *Logical) (any, error) {
	ops := make([]host.Filter, 0, len(l.Operands))
	exact := true
	for _, op := range l.Operands {
		v, err := op.Accept(lv)
		if err != nil {
			return nil, err
		}
		lf := v.(lowered)
		ops = append(ops, lf.filter)
		exact = exact && lf.exact
	}
	// An AND of supersets and an OR of supersets are both supersets, so
	// host-expressible conjuncts are kept even when siblings are not.
	if l.Op == OpAnd {
		return lowered{host.And(ops...), exact}, nil
	}
	return lowered{host.Or(ops...), exact}, nil
}

func (lv *lowerVisitor) VisitUnary(u *Unary) (any, error) {
	switch u.Op {
	case OpNot:
		v, err := u.Operand.Accept(lv)
		if err != nil {
			return nil, err
		}
		lf := v.(lowered)
		if !lf.exact {
			return lowered{host.True(), false}, nil
		}
		return lowered{host.Not(lf.filter), true}, nil
	case OpIsNull:
		return lowered{host.Eq(host.Field(u.Field.Name), host.Literal(nil)), true}, nil
	default:
		return lowered{host.Neq(host.Field(u.Field.Name), host.Literal(nil)), true}, nil
	}
}
