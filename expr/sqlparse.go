// SQL front end for the expression tree. Schema files declare check
// constraints and policy filters as SQL boolean expressions; this file
// lowers them to the tree using TiDB's parser, so the accepted syntax is
// MySQL's.

package expr

import (
	"fmt"
	"strconv"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// ParseSQL parses a SQL boolean expression such as
//
//	age >= 21 AND status IN ('active', 'pending')
//
// into an expression tree. Supported constructs: the six comparison
// operators, AND/OR/NOT, IS [NOT] NULL, [NOT] BETWEEN, [NOT] IN,
// [NOT] LIKE, parentheses, column references, and string/number/NULL
// literals. Anything else is an error.
func ParseSQL(src string) (Expr, error) {
	stmt, err := parser.New().ParseOneStmt("SELECT "+src, "", "")
	if err != nil {
		return nil, fmt.Errorf("expr: parse %q: %w", src, err)
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || sel.Fields == nil || len(sel.Fields.Fields) != 1 {
		return nil, fmt.Errorf("expr: %q is not a single expression", src)
	}
	return convertNode(sel.Fields.Fields[0].Expr)
}

func convertNode(node ast.ExprNode) (Expr, error) {
	switch n := node.(type) {
	case *ast.ParenthesesExpr:
		return convertNode(n.Expr)
	case *ast.BinaryOperationExpr:
		return convertBinary(n)
	case *ast.UnaryOperationExpr:
		if n.Op != opcode.Not && n.Op != opcode.Not2 {
			return nil, fmt.Errorf("expr: unsupported unary operator %s", n.Op)
		}
		inner, err := convertNode(n.V)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case *ast.IsNullExpr:
		field, err := columnRef(n.Expr)
		if err != nil {
			return nil, err
		}
		if n.Not {
			return IsNotNull(field), nil
		}
		return IsNull(field), nil
	case *ast.BetweenExpr:
		field, err := columnRef(n.Expr)
		if err != nil {
			return nil, err
		}
		lo, err := literalValue(n.Left)
		if err != nil {
			return nil, err
		}
		hi, err := literalValue(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Not {
			return NotBetween(field, lo, hi), nil
		}
		return Between(field, lo, hi), nil
	case *ast.PatternInExpr:
		field, err := columnRef(n.Expr)
		if err != nil {
			return nil, err
		}
		values := make([]any, 0, len(n.List))
		for _, item := range n.List {
			v, err := literalValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		if n.Not {
			return NotInArray(field, values), nil
		}
		return InArray(field, values), nil
	case *ast.PatternLikeOrIlikeExpr:
		field, err := columnRef(n.Expr)
		if err != nil {
			return nil, err
		}
		pat, err := literalValue(n.Pattern)
		if err != nil {
			return nil, err
		}
		s, ok := pat.(string)
		if !ok {
			return nil, fmt.Errorf("expr: LIKE pattern must be a string literal")
		}
		if n.Not {
			return NotLike(field, s), nil
		}
		return Like(field, s), nil
	default:
		return nil, fmt.Errorf("expr: unsupported expression node %T", node)
	}
}

func convertBinary(n *ast.BinaryOperationExpr) (Expr, error) {
	switch n.Op {
	case opcode.LogicAnd:
		l, err := convertNode(n.L)
		if err != nil {
			return nil, err
		}
		r, err := convertNode(n.R)
		if err != nil {
			return nil, err
		}
		return And(l, r), nil
	case opcode.LogicOr:
		l, err := convertNode(n.L)
		if err != nil {
			return nil, err
		}
		r, err := convertNode(n.R)
		if err != nil {
			return nil, err
		}
		return Or(l, r), nil
	}

	field, err := columnRef(n.L)
	if err != nil {
		return nil, err
	}
	value, err := literalValue(n.R)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case opcode.EQ:
		return Eq(field, value), nil
	case opcode.NE:
		return Ne(field, value), nil
	case opcode.GT:
		return Gt(field, value), nil
	case opcode.GE:
		return Gte(field, value), nil
	case opcode.LT:
		return Lt(field, value), nil
	case opcode.LE:
		return Lte(field, value), nil
	default:
		return nil, fmt.Errorf("expr: unsupported binary operator %s", n.Op)
	}
}

func columnRef(node ast.ExprNode) (FieldRef, error) {
	if p, ok := node.(*ast.ParenthesesExpr); ok {
		return columnRef(p.Expr)
	}
	col, ok := node.(*ast.ColumnNameExpr)
	if !ok {
		return FieldRef{}, fmt.Errorf("expr: expected a column reference, got %T", node)
	}
	return Ref(col.Name.Name.O), nil
}

func literalValue(node ast.ExprNode) (any, error) {
	if p, ok := node.(*ast.ParenthesesExpr); ok {
		return literalValue(p.Expr)
	}
	ve, ok := node.(ast.ValueExpr)
	if !ok {
		return nil, fmt.Errorf("expr: expected a literal, got %T", node)
	}
	switch v := ve.GetValue().(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return v, nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		// Decimal literals such as 1.0 arrive as the parser's decimal type.
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("expr: unsupported literal type %T", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expr: unsupported literal type %T", v)
	}
}
