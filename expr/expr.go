// Package expr contains the filter expression tree the ORM runtime plans
// and evaluates queries with. Trees are immutable once built; the factory
// functions are the only constructors. Three visitors consume the tree:
// the in-memory evaluator, the three-valued evaluator used by check
// constraints, and the lowering to the host filter DSL.
package expr

// FieldRef is a branded reference to a column of the table the expression
// is evaluated against. Column descriptors produce these; Ref builds one
// directly.
type FieldRef struct {
	Name string
}

// Ref builds a field reference by column name.
func Ref(name string) FieldRef { return FieldRef{Name: name} }

// Expr is one node of the filter tree.
type Expr interface {
	// Accept dispatches on the node variant.
	Accept(v Visitor) (any, error)
	isExpr()
}

// Visitor has one method per tree variant.
type Visitor interface {
	VisitBinary(b *Binary) (any, error)
	VisitLogical(l *Logical) (any, error)
	VisitUnary(u *Unary) (any, error)
}

// BinaryOp enumerates the comparison operators.
type BinaryOp string

const (
	OpEq             BinaryOp = "eq"
	OpNe             BinaryOp = "ne"
	OpGt             BinaryOp = "gt"
	OpGte            BinaryOp = "gte"
	OpLt             BinaryOp = "lt"
	OpLte            BinaryOp = "lte"
	OpInArray        BinaryOp = "inArray"
	OpNotInArray     BinaryOp = "notInArray"
	OpArrayContains  BinaryOp = "arrayContains"
	OpArrayContained BinaryOp = "arrayContained"
	OpArrayOverlaps  BinaryOp = "arrayOverlaps"
	OpLike           BinaryOp = "like"
	OpIlike          BinaryOp = "ilike"
	OpNotLike        BinaryOp = "notLike"
	OpNotIlike       BinaryOp = "notIlike"
	OpStartsWith     BinaryOp = "startsWith"
	OpEndsWith       BinaryOp = "endsWith"
	OpContains       BinaryOp = "contains"
	OpBetween        BinaryOp = "between"
	OpNotBetween     BinaryOp = "notBetween"
)

// Binary is a comparison between a field and a value (or value list for the
// set and range operators).
type Binary struct {
	Op    BinaryOp
	Field FieldRef
	// Value carries the operand of the single-value operators.
	Value any
	// Values carries the operand list for inArray/notInArray, the two range
	// ends for between/notBetween, and the element set for the array
	// operators.
	Values []any
}

func (b *Binary) isExpr() {}

// Accept dispatches to VisitBinary.
func (b *Binary) Accept(v Visitor) (any, error) { return v.VisitBinary(b) }

// LogicalOp enumerates the n-ary connectives.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Logical is an and/or over any number of sub-expressions.
type Logical struct {
	Op       LogicalOp
	Operands []Expr
}

func (l *Logical) isExpr() {}

// Accept dispatches to VisitLogical.
func (l *Logical) Accept(v Visitor) (any, error) { return v.VisitLogical(l) }

// UnaryOp enumerates the unary operators.
type UnaryOp string

const (
	OpNot       UnaryOp = "not"
	OpIsNull    UnaryOp = "isNull"
	OpIsNotNull UnaryOp = "isNotNull"
)

// Unary is not(expr), isNull(field), or isNotNull(field). Operand is set
// only for OpNot; Field only for the null tests.
type Unary struct {
	Op      UnaryOp
	Operand Expr
	Field   FieldRef
}

func (u *Unary) isExpr() {}

// Accept dispatches to VisitUnary.
func (u *Unary) Accept(v Visitor) (any, error) { return v.VisitUnary(u) }

// Eq compares a field for equality with a value.
func Eq(f FieldRef, v any) Expr { return &Binary{Op: OpEq, Field: f, Value: v} }

// Ne compares a field for inequality with a value.
func Ne(f FieldRef, v any) Expr { return &Binary{Op: OpNe, Field: f, Value: v} }

// Gt compares a field with > against a value.
func Gt(f FieldRef, v any) Expr { return &Binary{Op: OpGt, Field: f, Value: v} }

// Gte compares a field with >= against a value.
func Gte(f FieldRef, v any) Expr { return &Binary{Op: OpGte, Field: f, Value: v} }

// Lt compares a field with < against a value.
func Lt(f FieldRef, v any) Expr { return &Binary{Op: OpLt, Field: f, Value: v} }

// Lte compares a field with <= against a value.
func Lte(f FieldRef, v any) Expr { return &Binary{Op: OpLte, Field: f, Value: v} }

// InArray tests membership of the field value in vs.
func InArray(f FieldRef, vs []any) Expr { return &Binary{Op: OpInArray, Field: f, Values: vs} }

// NotInArray tests non-membership of the field value in vs.
func NotInArray(f FieldRef, vs []any) Expr { return &Binary{Op: OpNotInArray, Field: f, Values: vs} }

// ArrayContains tests that the field's array value contains every element
// of vs.
func ArrayContains(f FieldRef, vs []any) Expr {
	return &Binary{Op: OpArrayContains, Field: f, Values: vs}
}

// ArrayContained tests that every element of the field's array value is in
// vs.
func ArrayContained(f FieldRef, vs []any) Expr {
	return &Binary{Op: OpArrayContained, Field: f, Values: vs}
}

// ArrayOverlaps tests that the field's array value shares at least one
// element with vs.
func ArrayOverlaps(f FieldRef, vs []any) Expr {
	return &Binary{Op: OpArrayOverlaps, Field: f, Values: vs}
}

// Like matches the field against a SQL LIKE pattern, case sensitive.
func Like(f FieldRef, pattern string) Expr { return &Binary{Op: OpLike, Field: f, Value: pattern} }

// Ilike matches the field against a SQL LIKE pattern, ASCII case
// insensitive.
func Ilike(f FieldRef, pattern string) Expr { return &Binary{Op: OpIlike, Field: f, Value: pattern} }

// NotLike negates Like.
func NotLike(f FieldRef, pattern string) Expr {
	return &Binary{Op: OpNotLike, Field: f, Value: pattern}
}

// NotIlike negates Ilike.
func NotIlike(f FieldRef, pattern string) Expr {
	return &Binary{Op: OpNotIlike, Field: f, Value: pattern}
}

// StartsWith tests a string prefix.
func StartsWith(f FieldRef, prefix string) Expr {
	return &Binary{Op: OpStartsWith, Field: f, Value: prefix}
}

// EndsWith tests a string suffix.
func EndsWith(f FieldRef, suffix string) Expr {
	return &Binary{Op: OpEndsWith, Field: f, Value: suffix}
}

// Contains tests a code-point substring.
func Contains(f FieldRef, sub string) Expr { return &Binary{Op: OpContains, Field: f, Value: sub} }

// Between tests lo <= field <= hi, inclusive on both ends.
func Between(f FieldRef, lo, hi any) Expr {
	return &Binary{Op: OpBetween, Field: f, Values: []any{lo, hi}}
}

// NotBetween tests field < lo || field > hi, strictly outside the closed
// range.
func NotBetween(f FieldRef, lo, hi any) Expr {
	return &Binary{Op: OpNotBetween, Field: f, Values: []any{lo, hi}}
}

// And conjoins sub-expressions. Nil operands are filtered out; a single
// surviving operand is returned unwrapped; zero survivors yield nil.
func And(ops ...Expr) Expr { return logical(OpAnd, ops) }

// Or disjoins sub-expressions, with the same nil-filtering as And.
func Or(ops ...Expr) Expr { return logical(OpOr, ops) }

func logical(op LogicalOp, ops []Expr) Expr {
	kept := make([]Expr, 0, len(ops))
	for _, e := range ops {
		if e != nil {
			kept = append(kept, e)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Logical{Op: op, Operands: kept}
	}
}

// Not negates an expression. Not(nil) is nil.
func Not(e Expr) Expr {
	if e == nil {
		return nil
	}
	return &Unary{Op: OpNot, Operand: e}
}

// IsNull tests that the field is null (or absent).
func IsNull(f FieldRef) Expr { return &Unary{Op: OpIsNull, Field: f} }

// IsNotNull tests that the field is present and non-null.
func IsNotNull(f FieldRef) Expr { return &Unary{Op: OpIsNotNull, Field: f} }
