// Package schema contains the single source of truth for the relational
// metadata the ORM runtime operates on: tables, columns with defaults and
// hooks, indexes, unique indexes, check constraints, foreign keys, search
// indexes, and row-level security policies.
//
// A Schema is built once by DefineSchema at process start and is immutable
// thereafter.
package schema

import (
	"fmt"
	"strings"

	"dorm/expr"
	"dorm/host"
)

// DataKind is the portable data kind of a column.
type DataKind string

const (
	KindText    DataKind = "text"
	KindInteger DataKind = "integer"
	KindNumber  DataKind = "number"
	KindBoolean DataKind = "boolean"
	KindID      DataKind = "id"
	KindJSON    DataKind = "json"
	KindUnknown DataKind = "unknown"
)

// Action is a foreign-key referential action.
type Action string

const (
	ActionNone       Action = ""
	ActionCascade    Action = "cascade"
	ActionRestrict   Action = "restrict"
	ActionSetNull    Action = "set null"
	ActionSetDefault Action = "set default"
	ActionNoAction   Action = "no action"
)

// ValidAction reports whether a is a recognized referential action.
func ValidAction(a string) bool {
	switch Action(strings.ToLower(a)) {
	case ActionNone, ActionCascade, ActionRestrict, ActionSetNull, ActionSetDefault, ActionNoAction:
		return true
	}
	return false
}

// Reference is the column-scoped foreign-key shorthand. The validator
// synthesizes a full ForeignKey declaration from it.
type Reference struct {
	Table    string
	Column   string
	OnDelete Action
	OnUpdate Action
}

// Column describes one column of a table.
type Column struct {
	// Name is the column identifier.
	Name string
	// Kind is the portable data kind.
	Kind DataKind
	// RefTable names the referenced table when Kind is KindID.
	RefTable string
	// NotNull forbids NULL (and the unset token) for this column.
	NotNull bool
	// HasDefault marks Default as meaningful even when it is nil.
	HasDefault bool
	// Default is the literal default value.
	Default any
	// DefaultFn computes a default per inserted row. It takes precedence
	// over Default.
	DefaultFn func() any
	// OnUpdateFn computes a value on every update that does not set the
	// column itself. On insert it is the last default fallback.
	OnUpdateFn func() any
	// Unique is the column-scoped shorthand that synthesizes a
	// single-column unique index.
	Unique bool
	// NullsNotDistinct applies to the synthesized unique index.
	NullsNotDistinct bool
	// References is the column-scoped foreign-key shorthand.
	References *Reference
}

// Ref returns the field reference for use in filter expressions.
func (c *Column) Ref() expr.FieldRef { return expr.Ref(c.Name) }

// Index is an ordered secondary index. The host supports equality on a
// leading prefix plus one range constraint on the next column.
type Index struct {
	Name    string
	Columns []string
}

// UniqueIndex enforces uniqueness over its ordered columns. With
// NullsNotDistinct false, rows with a NULL key never collide; with true,
// two NULL keys collide.
type UniqueIndex struct {
	Name             string
	Columns          []string
	NullsNotDistinct bool
}

// Check is a named check constraint. Writes are rejected only when the
// expression evaluates to FALSE under three-valued logic.
type Check struct {
	Name string
	Expr expr.Expr
}

// ForeignKey declares a referential constraint from source columns of the
// owning table to target columns of another table.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   Action
	OnUpdate   Action
}

// TargetsID reports whether the foreign key targets the host primary key.
func (fk *ForeignKey) TargetsID() bool {
	return len(fk.RefColumns) == 1 && fk.RefColumns[0] == host.FieldID
}

// SearchIndex declares a host search index over one search column plus
// optional equality filter columns.
type SearchIndex struct {
	Name          string
	SearchColumn  string
	FilterColumns []string
}

// PolicyCommand selects which operations a policy applies to.
type PolicyCommand string

const (
	PolicySelect PolicyCommand = "select"
	PolicyInsert PolicyCommand = "insert"
	PolicyUpdate PolicyCommand = "update"
	PolicyDelete PolicyCommand = "delete"
	PolicyAll    PolicyCommand = "all"
)

// PolicyMode distinguishes permissive (union-allow) from restrictive
// (intersect-allow) policies.
type PolicyMode string

const (
	PolicyPermissive  PolicyMode = "permissive"
	PolicyRestrictive PolicyMode = "restrictive"
)

// RlsContext is the caller-supplied security context threaded through
// policy filters. The ORM never inspects it.
type RlsContext = any

// PolicyFilter produces the filter a policy contributes for the given
// context and table. A nil result means the policy places no constraint.
type PolicyFilter func(ctx RlsContext, t *Table) expr.Expr

// Policy is one row-level security policy.
type Policy struct {
	Name string
	// For selects the guarded operations; empty means PolicyAll.
	For PolicyCommand
	// As defaults to permissive.
	As PolicyMode
	// To restricts the policy to a role resolved at runtime; empty applies
	// to everyone.
	To string
	// Using filters visible rows (select/update/delete).
	Using PolicyFilter
	// WithCheck validates candidate rows (insert/update).
	WithCheck PolicyFilter
	// LinkTable attaches this policy to another table instead of the one
	// it is declared on.
	LinkTable string
}

// Command returns the effective command, defaulting to PolicyAll.
func (p *Policy) Command() PolicyCommand {
	if p.For == "" {
		return PolicyAll
	}
	return p.For
}

// Mode returns the effective mode, defaulting to permissive.
func (p *Policy) Mode() PolicyMode {
	if p.As == "" {
		return PolicyPermissive
	}
	return p.As
}

// AppliesTo reports whether the policy guards the given command.
func (p *Policy) AppliesTo(cmd PolicyCommand) bool {
	c := p.Command()
	return c == PolicyAll || c == cmd
}

// Table describes one table. The Name field is the runtime sentinel:
// DefineSchema stamps it with the table's key in the schema map.
type Table struct {
	Name          string
	Columns       []*Column
	Indexes       []*Index
	UniqueIndexes []*UniqueIndex
	Checks        []*Check
	ForeignKeys   []*ForeignKey
	SearchIndexes []*SearchIndex
	// RLS enables row-level security even without policies (default deny).
	RLS      bool
	Policies []*Policy
}

// FindColumn looks up a column by name. The host-managed _id and
// _creationTime columns resolve to synthetic descriptors.
func (t *Table) FindColumn(name string) *Column {
	switch name {
	case host.FieldID:
		return &Column{Name: host.FieldID, Kind: KindID, RefTable: t.Name, NotNull: true}
	case host.FieldCreationTime:
		return &Column{Name: host.FieldCreationTime, Kind: KindNumber, NotNull: true}
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindIndex looks up a declared index by name, including the implicit
// by_id and by_creation_time indexes and unique indexes.
func (t *Table) FindIndex(name string) *Index {
	switch name {
	case IndexByID:
		return &Index{Name: IndexByID, Columns: []string{host.FieldID}}
	case IndexByCreationTime:
		return &Index{Name: IndexByCreationTime, Columns: []string{host.FieldCreationTime}}
	}
	for _, i := range t.Indexes {
		if i.Name == name {
			return i
		}
	}
	for _, u := range t.UniqueIndexes {
		if u.Name == name {
			return &Index{Name: u.Name, Columns: u.Columns}
		}
	}
	return nil
}

// ScannableIndexes returns every index usable for host scans: declared
// indexes first (declaration order), then unique indexes.
func (t *Table) ScannableIndexes() []*Index {
	out := make([]*Index, 0, len(t.Indexes)+len(t.UniqueIndexes))
	out = append(out, t.Indexes...)
	for _, u := range t.UniqueIndexes {
		out = append(out, &Index{Name: u.Name, Columns: u.Columns})
	}
	return out
}

// IndexCovering returns the first scannable index whose leading columns
// equal cols exactly, or nil.
func (t *Table) IndexCovering(cols []string) *Index {
	for _, idx := range t.ScannableIndexes() {
		if hasPrefix(idx.Columns, cols) {
			return idx
		}
	}
	return nil
}

func hasPrefix(columns, prefix []string) bool {
	if len(columns) < len(prefix) {
		return false
	}
	for i, c := range prefix {
		if columns[i] != c {
			return false
		}
	}
	return true
}

// Implicit host index names.
const (
	IndexByID           = host.IndexByID
	IndexByCreationTime = host.IndexByCreationTime
)

// String summarizes the table.
func (t *Table) String() string {
	return fmt.Sprintf("Table: %s (%d cols, %d indexes, %d fks)",
		t.Name, len(t.Columns), len(t.Indexes)+len(t.UniqueIndexes), len(t.ForeignKeys))
}
