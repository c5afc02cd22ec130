package schema

import (
	"dorm/expr"
)

// exprFields collects every field name referenced by an expression tree.
func exprFields(e expr.Expr) []string {
	if e == nil {
		return nil
	}
	v := &fieldCollector{}
	_, _ = e.Accept(v)
	return v.fields
}

type fieldCollector struct {
	fields []string
}

func (c *fieldCollector) VisitBinary(b *expr.Binary) (any, error) {
	c.fields = append(c.fields, b.Field.Name)
	return nil, nil
}

func (c *fieldCollector) VisitLogical(l *expr.Logical) (any, error) {
	for _, op := range l.Operands {
		_, _ = op.Accept(c)
	}
	return nil, nil
}

func (c *fieldCollector) VisitUnary(u *expr.Unary) (any, error) {
	if u.Op == expr.OpNot {
		_, _ = u.Operand.Accept(c)
		return nil, nil
	}
	c.fields = append(c.fields, u.Field.Name)
	return nil, nil
}
