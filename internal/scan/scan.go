// Package scan implements the host scan semantics shared by the store
// implementations: index-key ordering with creation-time and id
// tiebreaks, range filtering, opaque keyset cursors, and split-required
// pagination under a scan budget.
package scan

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"dorm/host"
)

// Input is one prepared scan: the table snapshot plus the index and
// filter constraints to apply.
type Input struct {
	Docs    []host.Document
	IdxCols []string
	Rng     *host.IndexRange
	Filter  *host.Filter
	Order   host.SortOrder
}

// Prepare range-filters and sorts the snapshot into scan order, returning
// the rows and the full sort key.
func Prepare(in Input) ([]host.Document, []string, error) {
	key := KeyColumns(in.IdxCols)
	rows := in.Docs
	if in.Rng != nil {
		if err := validateRange(in.IdxCols, in.Rng); err != nil {
			return nil, nil, err
		}
		rows = filterRange(rows, in.Rng)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareKey(rows[i], rows[j], key) < 0
	})
	if in.Order == host.Desc {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, key, nil
}

// Collect materializes every row that passes the filter.
func Collect(in Input) ([]host.Document, error) {
	rows, _, err := Prepare(in)
	if err != nil {
		return nil, err
	}
	out := make([]host.Document, 0, len(rows))
	for _, row := range rows {
		if passes(row, in.Filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

// First returns the first passing row or nil.
func First(in Input) (host.Document, error) {
	rows, _, err := Prepare(in)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if passes(row, in.Filter) {
			return row, nil
		}
	}
	return nil, nil
}

// Paginate returns one cursor page, honoring the scan budget with
// SplitRequired semantics.
func Paginate(in Input, opts host.PaginateOptions) (*host.Page, error) {
	rows, key, err := Prepare(in)
	if err != nil {
		return nil, err
	}
	numItems := opts.NumItems
	if numItems <= 0 {
		numItems = len(rows)
	}

	start := 0
	if opts.Cursor != nil && *opts.Cursor != "" {
		after, err := DecodeCursor(*opts.Cursor)
		if err != nil {
			return nil, err
		}
		start = positionAfter(rows, key, after, in.Order)
	}

	page := &host.Page{}
	examined := 0
	i := start
	for ; i < len(rows); i++ {
		if opts.MaximumRowsRead > 0 && examined >= opts.MaximumRowsRead {
			break
		}
		examined++
		if passes(rows[i], in.Filter) {
			page.Docs = append(page.Docs, rows[i])
		}
		if len(page.Docs) == numItems {
			i++
			break
		}
	}

	if i >= len(rows) {
		page.IsDone = true
		if len(rows) == 0 {
			page.ContinueCursor = EncodeCursor(nil)
		} else {
			page.ContinueCursor = EncodeCursor(KeyValues(rows[len(rows)-1], key))
		}
		return page, nil
	}
	page.ContinueCursor = EncodeCursor(KeyValues(rows[i-1], key))
	if opts.MaximumRowsRead > 0 && examined >= opts.MaximumRowsRead && len(page.Docs) < numItems {
		page.PageStatus = host.SplitRequired
		mid := start + examined/2
		if mid > start && mid <= i-1 {
			split := EncodeCursor(KeyValues(rows[mid-1], key))
			page.SplitCursor = &split
		}
	}
	return page, nil
}

func passes(row host.Document, f *host.Filter) bool {
	return f == nil || host.EvalFilter(row, *f)
}

// KeyColumns appends the implicit tiebreak columns to an index column
// list.
func KeyColumns(cols []string) []string {
	key := append([]string{}, cols...)
	if !containsStr(key, host.FieldCreationTime) {
		key = append(key, host.FieldCreationTime)
	}
	if !containsStr(key, host.FieldID) {
		key = append(key, host.FieldID)
	}
	return key
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// KeyValues projects a row onto the sort key.
func KeyValues(row host.Document, key []string) []any {
	out := make([]any, len(key))
	for i, col := range key {
		out[i] = row[col]
	}
	return out
}

// CompareKey orders two rows by the sort key.
func CompareKey(a, b host.Document, key []string) int {
	for _, col := range key {
		if c := host.ValueCompare(a[col], b[col]); c != 0 {
			return c
		}
	}
	return 0
}

func compareKeyValues(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := host.ValueCompare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// positionAfter finds the first row strictly after the cursor key in scan
// order.
func positionAfter(rows []host.Document, key []string, after []any, order host.SortOrder) int {
	return sort.Search(len(rows), func(i int) bool {
		c := compareKeyValues(KeyValues(rows[i], key), after)
		if order == host.Desc {
			return c < 0
		}
		return c > 0
	})
}

func validateRange(cols []string, rng *host.IndexRange) error {
	for i, eq := range rng.Eq {
		if i >= len(cols) || cols[i] != eq.Column {
			return fmt.Errorf("scan: index range equality on %q does not match index prefix %v", eq.Column, cols)
		}
	}
	if rng.RangeColumn != "" {
		next := len(rng.Eq)
		if next >= len(cols) || cols[next] != rng.RangeColumn {
			return fmt.Errorf("scan: index range bound on %q does not follow equality prefix of %v", rng.RangeColumn, cols)
		}
	}
	return nil
}

func filterRange(rows []host.Document, rng *host.IndexRange) []host.Document {
	out := make([]host.Document, 0, len(rows))
	for _, row := range rows {
		if MatchRange(row, rng) {
			out = append(out, row)
		}
	}
	return out
}

// MatchRange reports whether one row falls inside an index range.
func MatchRange(row host.Document, rng *host.IndexRange) bool {
	for _, eq := range rng.Eq {
		if !host.ValueEq(row[eq.Column], eq.Value) {
			return false
		}
	}
	if rng.RangeColumn == "" {
		return true
	}
	v := row[rng.RangeColumn]
	if lo := rng.Lower; lo != nil {
		c := host.ValueCompare(v, lo.Value)
		if c < 0 || (c == 0 && !lo.Inclusive) {
			return false
		}
	}
	if hi := rng.Upper; hi != nil {
		c := host.ValueCompare(v, hi.Value)
		if c > 0 || (c == 0 && !hi.Inclusive) {
			return false
		}
	}
	return true
}

// cursorValue tags sort-key values whose Go type does not survive a JSON
// round trip.
type cursorValue struct {
	ID *string `json:"$id,omitempty"`
	V  any     `json:"v"`
}

// EncodeCursor packs a sort key into an opaque cursor string.
func EncodeCursor(key []any) string {
	encoded := make([]cursorValue, len(key))
	for i, v := range key {
		if id, ok := v.(host.ID); ok {
			s := string(id)
			encoded[i] = cursorValue{ID: &s}
		} else {
			encoded[i] = cursorValue{V: v}
		}
	}
	raw, _ := json.Marshal(encoded)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor unpacks a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) ([]any, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("scan: bad cursor: %w", err)
	}
	var encoded []cursorValue
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("scan: bad cursor: %w", err)
	}
	out := make([]any, len(encoded))
	for i, cv := range encoded {
		if cv.ID != nil {
			out[i] = host.ID(*cv.ID)
		} else {
			out[i] = cv.V
		}
	}
	return out, nil
}
