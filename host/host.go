// Package host declares the contracts the ORM runtime consumes from the
// underlying document store and scheduler. It contains interfaces and wire
// types only; memstore and sqlstore provide the concrete implementations.
package host

import (
	"context"
	"strings"
)

// Document is a single stored row. Keys are column names; a missing key is
// "undefined" while an explicit nil is SQL NULL. The two states are distinct
// everywhere in the runtime.
type Document = map[string]any

// ID identifies a stored document. The table name is encoded into the id so
// that Get can route an id back to its table, formatted "<table>|<key>".
type ID string

// FieldID is the host-managed primary key column present on every document.
const FieldID = "_id"

// FieldCreationTime is the host-managed insertion timestamp column, a float64
// of milliseconds since the epoch.
const FieldCreationTime = "_creationTime"

// MakeID builds an ID from a table name and an opaque key.
func MakeID(table, key string) ID {
	return ID(table + "|" + key)
}

// Table returns the table name encoded in the id, or "" when the id is
// malformed.
func (id ID) Table() string {
	if i := strings.IndexByte(string(id), '|'); i > 0 {
		return string(id[:i])
	}
	return ""
}

// Names of the implicit indexes every table has.
const (
	IndexByID           = "by_id"
	IndexByCreationTime = "by_creation_time"
)

// IndexDef describes one index a store must serve: a name plus the ordered
// column list. Stores receive the full catalog at construction; the runtime
// never creates indexes at run time.
type IndexDef struct {
	Name    string
	Columns []string
}

// SortOrder is the direction of an index scan.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// IndexEq is one equality constraint on a leading index column.
type IndexEq struct {
	Column string
	Value  any
}

// IndexBound is one end of a range constraint on an index column.
type IndexBound struct {
	Value     any
	Inclusive bool
}

// IndexRange constrains an index scan: equality on a prefix of the index
// columns plus at most one range on the next column. This mirrors the host
// index contract; the store rejects ranges it cannot serve.
type IndexRange struct {
	Eq          []IndexEq
	RangeColumn string
	Lower       *IndexBound
	Upper       *IndexBound
}

// PageStatus qualifies a returned page.
type PageStatus string

// SplitRequired marks a page whose scan budget was exhausted before the range
// ended; the caller may resume from ContinueCursor or bisect via SplitCursor.
const SplitRequired PageStatus = "SplitRequired"

// PaginateOptions drives one page of a paginated scan.
type PaginateOptions struct {
	// Cursor is the opaque continuation token, nil for the first page.
	Cursor *string
	// NumItems is the page size.
	NumItems int
	// MaximumRowsRead caps how many index entries the store may examine
	// while producing this page. Zero means unlimited.
	MaximumRowsRead int
}

// Page is one page of a paginated scan.
type Page struct {
	Docs           []Document
	IsDone         bool
	ContinueCursor string
	PageStatus     PageStatus
	SplitCursor    *string
}

// Query is a lazy read over one table. Implementations are immutable
// builders; each method returns a derived query.
type Query interface {
	// WithIndex pins the scan to a declared index, optionally constrained
	// by rng. The index named "by_id" and "by_creation_time" always exist.
	WithIndex(indexName string, rng *IndexRange) Query
	// Filter applies a post-index filter expressed in the host filter DSL.
	Filter(expr Filter) Query
	// Order sets the scan direction over the index key.
	Order(order SortOrder) Query
	// Collect materializes every matching document.
	Collect(ctx context.Context) ([]Document, error)
	// First returns the first matching document or nil.
	First(ctx context.Context) (Document, error)
	// Unique returns the only matching document, nil when there is none, and
	// an error when more than one matches.
	Unique(ctx context.Context) (Document, error)
	// Paginate returns one cursor page.
	Paginate(ctx context.Context, opts PaginateOptions) (*Page, error)
}

// Store is the minimum mutation and read contract the runtime consumes.
// All calls are suspension points; one root mutation runs under one store
// transaction.
type Store interface {
	// Get returns the document with the given id, or nil when absent.
	Get(ctx context.Context, id ID) (Document, error)
	// Insert stores doc in table and returns its new id. The store owns
	// _id and _creationTime.
	Insert(ctx context.Context, table string, doc Document) (ID, error)
	// Patch merges patch into the document. A value of Unset removes the
	// field from the stored document.
	Patch(ctx context.Context, id ID, patch Document) error
	// Delete removes the document.
	Delete(ctx context.Context, id ID) error
	// Query starts a read over table.
	Query(table string) Query
}

// FunctionRef names a scheduled function registered with the host runtime.
type FunctionRef string

// ScheduleID identifies an enqueued scheduled run.
type ScheduleID string

// Scheduler is the fire-and-forget job primitive. Args cross a JSON
// transport that strips undefined values; callers encode them with the
// sentinel codec in this package first.
type Scheduler interface {
	RunAfter(ctx context.Context, delayMs int64, ref FunctionRef, args map[string]any) (ScheduleID, error)
	RunAt(ctx context.Context, timestampMs int64, ref FunctionRef, args map[string]any) (ScheduleID, error)
	Cancel(ctx context.Context, id ScheduleID) error
}

// ScheduledFunctions carries the function references the mutation engine
// enqueues continuations against. Both are supplied at ORM construction.
type ScheduledFunctions struct {
	// MutationBatch drains one cascade continuation batch.
	MutationBatch FunctionRef
	// Delete performs a deferred root delete, honoring the deletionTime
	// token.
	Delete FunctionRef
}
