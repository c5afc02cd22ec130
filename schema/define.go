package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dorm/host"
)

// Schema is the frozen set of tables the runtime operates on. Build one
// with DefineSchema; it must not be mutated afterwards.
type Schema struct {
	tables  map[string]*Table
	order   []string
	Options Options
}

// DefineSchema validates the table mapping, synthesizes constraints from
// column-level shortcuts, stamps each table with its runtime name, and
// returns the frozen schema. It returns the first error encountered.
func DefineSchema(tables map[string]*Table, opts Options) (*Schema, error) {
	if len(tables) == 0 {
		return nil, errors.New("schema: no tables declared")
	}
	opts.fillDefaults()

	order := make([]string, 0, len(tables))
	for name := range tables {
		order = append(order, name)
	}
	sort.Strings(order)

	s := &Schema{tables: tables, order: order, Options: opts}

	for _, name := range order {
		t := tables[name]
		if t == nil {
			return nil, fmt.Errorf("schema: table %q is nil", name)
		}
		t.Name = name
		if err := s.validateColumns(t); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", name, err)
		}
		synthesizeShortcuts(t)
		if err := s.validateIndexes(t); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", name, err)
		}
		if err := s.validateChecks(t); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", name, err)
		}
	}

	for _, name := range order {
		if err := s.validateForeignKeys(tables[name]); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", name, err)
		}
	}

	if err := s.distributeLinkedPolicies(); err != nil {
		return nil, err
	}
	for _, name := range order {
		if err := validatePolicies(tables[name]); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", name, err)
		}
	}

	return s, nil
}

// Tables returns the table names in deterministic order.
func (s *Schema) Tables() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table { return s.tables[name] }

// GetColumns returns the columns of the named table.
func (s *Schema) GetColumns(table string) []*Column {
	if t := s.tables[table]; t != nil {
		return t.Columns
	}
	return nil
}

// GetIndexes returns the declared indexes of the named table.
func (s *Schema) GetIndexes(table string) []*Index {
	if t := s.tables[table]; t != nil {
		return t.Indexes
	}
	return nil
}

// GetUniqueIndexes returns the unique indexes of the named table.
func (s *Schema) GetUniqueIndexes(table string) []*UniqueIndex {
	if t := s.tables[table]; t != nil {
		return t.UniqueIndexes
	}
	return nil
}

// GetChecks returns the check constraints of the named table.
func (s *Schema) GetChecks(table string) []*Check {
	if t := s.tables[table]; t != nil {
		return t.Checks
	}
	return nil
}

// GetForeignKeys returns the foreign keys declared on the named table.
func (s *Schema) GetForeignKeys(table string) []*ForeignKey {
	if t := s.tables[table]; t != nil {
		return t.ForeignKeys
	}
	return nil
}

// GetSearchIndexes returns the search indexes of the named table.
func (s *Schema) GetSearchIndexes(table string) []*SearchIndex {
	if t := s.tables[table]; t != nil {
		return t.SearchIndexes
	}
	return nil
}

// GetRlsPolicies returns the policies attached to the named table.
func (s *Schema) GetRlsPolicies(table string) []*Policy {
	if t := s.tables[table]; t != nil {
		return t.Policies
	}
	return nil
}

// HostIndexes exports the index catalog a store needs to serve this
// schema: every declared index and unique index per table. The implicit
// by_id and by_creation_time indexes are a store concern and not listed.
func (s *Schema) HostIndexes() map[string][]host.IndexDef {
	out := make(map[string][]host.IndexDef, len(s.order))
	for _, name := range s.order {
		t := s.tables[name]
		defs := make([]host.IndexDef, 0, len(t.Indexes)+len(t.UniqueIndexes))
		for _, idx := range t.Indexes {
			defs = append(defs, host.IndexDef{Name: idx.Name, Columns: idx.Columns})
		}
		for _, u := range t.UniqueIndexes {
			defs = append(defs, host.IndexDef{Name: u.Name, Columns: u.Columns})
		}
		out[name] = defs
	}
	return out
}

func (s *Schema) validateColumns(t *Table) error {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c == nil {
			return errors.New("column is nil")
		}
		if strings.TrimSpace(c.Name) == "" {
			return errors.New("column name is empty")
		}
		if c.Name == host.FieldID || c.Name == host.FieldCreationTime {
			return fmt.Errorf("column %q is host-managed and cannot be declared", c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Kind {
		case KindText, KindInteger, KindNumber, KindBoolean, KindJSON, KindUnknown:
		case KindID:
			if c.RefTable == "" {
				return fmt.Errorf("column %q: id kind requires RefTable", c.Name)
			}
		default:
			return fmt.Errorf("column %q: unknown data kind %q", c.Name, c.Kind)
		}
	}
	return nil
}

// synthesizeShortcuts expands column-scoped Unique and References into the
// table-level declarations the engine enforces.
func synthesizeShortcuts(t *Table) {
	for _, c := range t.Columns {
		if c.Unique {
			name := fmt.Sprintf("uq_%s_%s", t.Name, c.Name)
			if !hasUniqueIndex(t, name) {
				t.UniqueIndexes = append(t.UniqueIndexes, &UniqueIndex{
					Name:             name,
					Columns:          []string{c.Name},
					NullsNotDistinct: c.NullsNotDistinct,
				})
			}
		}
		if ref := c.References; ref != nil {
			name := fmt.Sprintf("fk_%s_%s_%s", t.Name, ref.Table, c.Name)
			if !hasForeignKey(t, name) {
				refCol := ref.Column
				if refCol == "" {
					refCol = host.FieldID
				}
				t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
					Name:       name,
					Columns:    []string{c.Name},
					RefTable:   ref.Table,
					RefColumns: []string{refCol},
					OnDelete:   ref.OnDelete,
					OnUpdate:   ref.OnUpdate,
				})
			}
		}
		if c.Kind == KindID && c.References == nil && c.RefTable != "" {
			// An id column without an explicit reference still validates
			// against its target table on write, with no action fan-out.
			name := fmt.Sprintf("fk_%s_%s_%s", t.Name, c.RefTable, c.Name)
			if !hasForeignKey(t, name) {
				t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
					Name:       name,
					Columns:    []string{c.Name},
					RefTable:   c.RefTable,
					RefColumns: []string{host.FieldID},
					OnDelete:   ActionNoAction,
					OnUpdate:   ActionNoAction,
				})
			}
		}
	}
}

func hasUniqueIndex(t *Table, name string) bool {
	for _, u := range t.UniqueIndexes {
		if u.Name == name {
			return true
		}
	}
	return false
}

func hasForeignKey(t *Table, name string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return true
		}
	}
	return false
}

func (s *Schema) validateIndexes(t *Table) error {
	seen := make(map[string]bool)
	checkCols := func(kind, name string, cols []string) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s has no name", kind)
		}
		if name == IndexByID || name == IndexByCreationTime {
			return fmt.Errorf("%s %q shadows an implicit index", kind, name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate index name %q", name)
		}
		seen[name] = true
		if len(cols) == 0 {
			return fmt.Errorf("%s %q has no columns", kind, name)
		}
		for _, col := range cols {
			if t.FindColumn(col) == nil {
				return fmt.Errorf("%s %q: unknown column %q", kind, name, col)
			}
		}
		return nil
	}
	for _, idx := range t.Indexes {
		if err := checkCols("index", idx.Name, idx.Columns); err != nil {
			return err
		}
	}
	for _, u := range t.UniqueIndexes {
		if err := checkCols("unique index", u.Name, u.Columns); err != nil {
			return err
		}
	}
	for _, si := range t.SearchIndexes {
		cols := append([]string{si.SearchColumn}, si.FilterColumns...)
		if err := checkCols("search index", si.Name, cols); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) validateChecks(t *Table) error {
	for _, ch := range t.Checks {
		if strings.TrimSpace(ch.Name) == "" {
			return errors.New("check constraint has no name")
		}
		if ch.Expr == nil {
			return fmt.Errorf("check %q has no expression", ch.Name)
		}
		for _, field := range exprFields(ch.Expr) {
			if t.FindColumn(field) == nil {
				return fmt.Errorf("check %q: unknown column %q", ch.Name, field)
			}
		}
	}
	return nil
}

func (s *Schema) validateForeignKeys(t *Table) error {
	for _, fk := range t.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			return fmt.Errorf("foreign key %q: source and target column counts differ", fk.Name)
		}
		for _, col := range fk.Columns {
			if t.FindColumn(col) == nil {
				return fmt.Errorf("foreign key %q: unknown column %q", fk.Name, col)
			}
		}
		target := s.tables[fk.RefTable]
		if target == nil {
			return fmt.Errorf("foreign key %q references undefined table %q", fk.Name, fk.RefTable)
		}
		for _, col := range fk.RefColumns {
			if target.FindColumn(col) == nil {
				return fmt.Errorf("foreign key %q: unknown target column %q", fk.Name, col)
			}
		}
		if !fk.TargetsID() && target.IndexCovering(fk.RefColumns) == nil {
			return fmt.Errorf("foreign key %q requires index on %q over %v for existence checks",
				fk.Name, fk.RefTable, fk.RefColumns)
		}
	}
	return nil
}

// distributeLinkedPolicies moves policies declared with LinkTable onto
// their target table.
func (s *Schema) distributeLinkedPolicies() error {
	for _, name := range s.order {
		t := s.tables[name]
		kept := t.Policies[:0]
		for _, p := range t.Policies {
			if p.LinkTable == "" || p.LinkTable == name {
				kept = append(kept, p)
				continue
			}
			target := s.tables[p.LinkTable]
			if target == nil {
				return fmt.Errorf("schema: table %q: policy %q links to undefined table %q",
					name, p.Name, p.LinkTable)
			}
			target.Policies = append(target.Policies, p)
		}
		t.Policies = kept
	}
	return nil
}

func validatePolicies(t *Table) error {
	for _, p := range t.Policies {
		switch p.Command() {
		case PolicySelect, PolicyInsert, PolicyUpdate, PolicyDelete, PolicyAll:
		default:
			return fmt.Errorf("policy %q: unknown command %q", p.Name, p.For)
		}
		switch p.Mode() {
		case PolicyPermissive, PolicyRestrictive:
		default:
			return fmt.Errorf("policy %q: unknown mode %q", p.Name, p.As)
		}
	}
	return nil
}

// RlsEnabled reports whether the table enforces row-level security.
func (t *Table) RlsEnabled() bool {
	return t.RLS || len(t.Policies) > 0
}
