package host

import (
	"fmt"
	"strings"
)

// unsetType is the token that removes a field when it appears as a patch
// value. See Unset.
type unsetType struct{}

// Unset removes the field it is assigned to when passed through Patch.
var Unset unsetType

// undefinedType marks an undefined (missing) value inside encoded value
// slices, where absence cannot be expressed positionally. See Undefined.
type undefinedType struct{}

// Undefined is the in-process marker for an undefined value. It is distinct
// from nil, which is SQL NULL.
var Undefined undefinedType

// IsUnset reports whether v is the Unset token.
func IsUnset(v any) bool {
	_, ok := v.(unsetType)
	return ok
}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// typeRank orders values of different types against each other, so that
// every index key has a total order. Undefined sorts before everything,
// then null, booleans, numbers, strings, ids, arrays, objects.
func typeRank(v any) int {
	switch v.(type) {
	case undefinedType:
		return 0
	case nil:
		return 1
	case bool:
		return 2
	case int, int64, float64:
		return 3
	case string:
		return 4
	case ID:
		return 5
	case []any:
		return 6
	case map[string]any:
		return 7
	default:
		return 8
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ValueCompare totally orders two document values: negative when a sorts
// before b, zero when they are equal under ValueEq.
func ValueCompare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0, 1:
		return 0
	case 2:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 3:
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case 4:
		return strings.Compare(a.(string), b.(string))
	case 5:
		return strings.Compare(string(a.(ID)), string(b.(ID)))
	case 6:
		aa, ba := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := ValueCompare(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return len(aa) - len(ba)
	default:
		// Objects and unknown values order by their printed form. They are
		// not meaningful index keys; this only keeps the sort total.
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// ValueEq reports deep equality of two document values, with cross-width
// numeric equality (int64(3) equals float64(3)).
func ValueEq(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case ID:
			return av == string(bv)
		}
		return false
	case ID:
		switch bv := b.(type) {
		case ID:
			return av == bv
		case string:
			return string(av) == bv
		}
		return false
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValueEq(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, present := bv[k]
			if !present || !ValueEq(x, y) {
				return false
			}
		}
		return true
	case undefinedType:
		return IsUndefined(b)
	default:
		return false
	}
}

// EvalFilter evaluates a host filter DSL expression against one document.
// Missing fields evaluate as nil. Used by in-memory stores; SQL-backed
// stores compile the same tree to SQL instead.
func EvalFilter(doc Document, f Filter) bool {
	v := evalFilterValue(doc, f)
	b, ok := v.(bool)
	return ok && b
}

func evalFilterValue(doc Document, f Filter) any {
	switch f.Kind {
	case FilterField:
		return doc[f.Field]
	case FilterLiteral:
		return f.Value
	case FilterEq:
		return ValueEq(evalFilterValue(doc, f.Operands[0]), evalFilterValue(doc, f.Operands[1]))
	case FilterNeq:
		return !ValueEq(evalFilterValue(doc, f.Operands[0]), evalFilterValue(doc, f.Operands[1]))
	case FilterGt, FilterGte, FilterLt, FilterLte:
		l := evalFilterValue(doc, f.Operands[0])
		r := evalFilterValue(doc, f.Operands[1])
		c := ValueCompare(l, r)
		switch f.Kind {
		case FilterGt:
			return c > 0
		case FilterGte:
			return c >= 0
		case FilterLt:
			return c < 0
		default:
			return c <= 0
		}
	case FilterAnd:
		for _, op := range f.Operands {
			if !EvalFilter(doc, op) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, op := range f.Operands {
			if EvalFilter(doc, op) {
				return true
			}
		}
		return false
	case FilterNot:
		return !EvalFilter(doc, f.Operands[0])
	default:
		return false
	}
}
