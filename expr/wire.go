package expr

import (
	"fmt"

	"dorm/host"
)

// ToWire serializes e to a JSON-shaped map for scheduler payloads.
// Undefined values inside operand data are sentinel-encoded, because the
// transport strips plain undefined. FromWire is the exact inverse.
func ToWire(e Expr) map[string]any {
	if e == nil {
		return nil
	}
	v, _ := e.Accept(wireVisitor{})
	return v.(map[string]any)
}

type wireVisitor struct{}

func (wireVisitor) VisitBinary(b *Binary) (any, error) {
	m := map[string]any{
		"type":  "binary",
		"op":    string(b.Op),
		"field": b.Field.Name,
	}
	if b.Values != nil {
		m["values"] = host.EncodeValues(b.Values)
	} else {
		m["value"] = host.EncodeValue(b.Value)
	}
	return m, nil
}

func (w wireVisitor) VisitLogical(l *Logical) (any, error) {
	ops := make([]any, len(l.Operands))
	for i, op := range l.Operands {
		v, err := op.Accept(w)
		if err != nil {
			return nil, err
		}
		ops[i] = v
	}
	return map[string]any{
		"type":     "logical",
		"op":       string(l.Op),
		"operands": ops,
	}, nil
}

func (w wireVisitor) VisitUnary(u *Unary) (any, error) {
	m := map[string]any{
		"type": "unary",
		"op":   string(u.Op),
	}
	if u.Op == OpNot {
		v, err := u.Operand.Accept(w)
		if err != nil {
			return nil, err
		}
		m["operand"] = v
	} else {
		m["field"] = u.Field.Name
	}
	return m, nil
}

// FromWire deserializes a tree produced by ToWire.
func FromWire(m map[string]any) (Expr, error) {
	if m == nil {
		return nil, nil
	}
	typ, _ := m["type"].(string)
	switch typ {
	case "binary":
		op, _ := m["op"].(string)
		field, _ := m["field"].(string)
		b := &Binary{Op: BinaryOp(op), Field: Ref(field)}
		if vs, ok := m["values"].([]any); ok {
			b.Values = host.DecodeValues(vs)
		} else {
			b.Value = host.DecodeValue(m["value"])
		}
		return b, nil
	case "logical":
		op, _ := m["op"].(string)
		raw, _ := m["operands"].([]any)
		ops := make([]Expr, 0, len(raw))
		for _, r := range raw {
			rm, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expr: wire operand is not an object")
			}
			e, err := FromWire(rm)
			if err != nil {
				return nil, err
			}
			ops = append(ops, e)
		}
		return &Logical{Op: LogicalOp(op), Operands: ops}, nil
	case "unary":
		op, _ := m["op"].(string)
		u := &Unary{Op: UnaryOp(op)}
		if u.Op == OpNot {
			rm, ok := m["operand"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expr: wire not-operand is not an object")
			}
			e, err := FromWire(rm)
			if err != nil {
				return nil, err
			}
			u.Operand = e
		} else {
			field, _ := m["field"].(string)
			u.Field = Ref(field)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("expr: unknown wire node type %q", typ)
	}
}
