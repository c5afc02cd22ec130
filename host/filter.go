package host

// Filter is an expression in the host's post-index filter DSL. The runtime
// lowers the portions of a where-clause the chosen index cannot enforce into
// this form; stores evaluate it per document during the scan.
//
// The DSL mirrors the primitives the host exposes: field access, literals,
// eq/neq and the four order comparisons, and and/or/not composition.
type Filter struct {
	Kind     FilterKind
	Field    string   // FilterField
	Value    any      // FilterLiteral
	Operands []Filter // comparisons take two, and/or take any number, not takes one
}

// FilterKind discriminates Filter nodes.
type FilterKind string

const (
	FilterField   FilterKind = "field"
	FilterLiteral FilterKind = "literal"
	FilterEq      FilterKind = "eq"
	FilterNeq     FilterKind = "neq"
	FilterGt      FilterKind = "gt"
	FilterGte     FilterKind = "gte"
	FilterLt      FilterKind = "lt"
	FilterLte     FilterKind = "lte"
	FilterAnd     FilterKind = "and"
	FilterOr      FilterKind = "or"
	FilterNot     FilterKind = "not"
)

// Field references a document field.
func Field(name string) Filter { return Filter{Kind: FilterField, Field: name} }

// Literal wraps a constant value.
func Literal(v any) Filter { return Filter{Kind: FilterLiteral, Value: v} }

// Eq compares two operands for equality.
func Eq(l, r Filter) Filter { return Filter{Kind: FilterEq, Operands: []Filter{l, r}} }

// Neq compares two operands for inequality.
func Neq(l, r Filter) Filter { return Filter{Kind: FilterNeq, Operands: []Filter{l, r}} }

// Gt compares two operands with >.
func Gt(l, r Filter) Filter { return Filter{Kind: FilterGt, Operands: []Filter{l, r}} }

// Gte compares two operands with >=.
func Gte(l, r Filter) Filter { return Filter{Kind: FilterGte, Operands: []Filter{l, r}} }

// Lt compares two operands with <.
func Lt(l, r Filter) Filter { return Filter{Kind: FilterLt, Operands: []Filter{l, r}} }

// Lte compares two operands with <=.
func Lte(l, r Filter) Filter { return Filter{Kind: FilterLte, Operands: []Filter{l, r}} }

// And is true when every operand is true. And() is true.
func And(ops ...Filter) Filter { return Filter{Kind: FilterAnd, Operands: ops} }

// Or is true when any operand is true. Or() is false.
func Or(ops ...Filter) Filter { return Filter{Kind: FilterOr, Operands: ops} }

// Not negates its operand.
func Not(op Filter) Filter { return Filter{Kind: FilterNot, Operands: []Filter{op}} }

// True is a filter every document passes.
func True() Filter { return Literal(true) }
