package orm

import (
	"context"
	"fmt"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// InsertBuilder accumulates one insert of one or more rows.
type InsertBuilder struct {
	o          *ORM
	table      string
	err        error
	rows       []host.Document
	sel        *Selection
	onConflict conflictClause
}

type conflictClause struct {
	kind   string // "", "nothing", "update"
	target []string
	set    host.Document
}

// Insert starts an insert into table.
func (o *ORM) Insert(table string) *InsertBuilder {
	b := &InsertBuilder{o: o, table: table}
	if o.schema.Table(table) == nil {
		b.err = fmt.Errorf("orm: unknown table %q", table)
	}
	return b
}

// Values appends rows to insert.
func (b *InsertBuilder) Values(rows ...host.Document) *InsertBuilder {
	b.rows = append(b.rows, rows...)
	return b
}

// Returning projects the returned rows onto the named columns; with no
// arguments the full rows are returned.
func (b *InsertBuilder) Returning(cols ...string) *InsertBuilder {
	b.sel = &Selection{Columns: cols}
	return b
}

// ReturningAs projects the returned rows through an alias-to-field map.
func (b *InsertBuilder) ReturningAs(aliases map[string]string) *InsertBuilder {
	b.sel = &Selection{Aliases: aliases}
	return b
}

// OnConflictDoNothing skips rows that conflict on the target unique index
// (or on any unique index when target is empty).
func (b *InsertBuilder) OnConflictDoNothing(target ...string) *InsertBuilder {
	b.onConflict = conflictClause{kind: "nothing", target: target}
	return b
}

// OnConflictDoUpdate turns a conflict on the target unique index into an
// update applying set (the upsert path).
func (b *InsertBuilder) OnConflictDoUpdate(target []string, set host.Document) *InsertBuilder {
	b.onConflict = conflictClause{kind: "update", target: target, set: set}
	return b
}

// Execute runs the insert and returns the written rows, projected through
// the returning clause. Rows skipped by onConflictDoNothing are omitted.
func (b *InsertBuilder) Execute(ctx context.Context) ([]host.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	t := b.o.schema.Table(b.table)
	out := []host.Document{}
	for _, values := range b.rows {
		row, err := b.insertRow(ctx, t, values)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, row)
		}
	}
	return b.sel.project(out), nil
}

func (b *InsertBuilder) insertRow(ctx context.Context, t *schema.Table, values host.Document) (host.Document, error) {
	candidate, err := t.ApplyInsertDefaults(values)
	if err != nil {
		return nil, err
	}
	if err := b.o.enforceChecks(t, candidate); err != nil {
		return nil, err
	}

	// Conflict targets resolve before generic unique enforcement so the
	// clause can swallow or redirect the violation.
	if b.onConflict.kind != "" {
		existing, err := b.o.probeConflictTarget(ctx, t, b.onConflict.target, candidate)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if b.onConflict.kind == "nothing" {
				return nil, nil
			}
			return b.o.upsertUpdate(ctx, t, existing, b.onConflict.set)
		}
	}

	if err := b.o.enforceUnique(ctx, t, candidate, "", nil); err != nil {
		return nil, err
	}
	if err := b.o.enforceForeignKeys(ctx, t, candidate, nil); err != nil {
		return nil, err
	}
	if err := b.o.checkWrite(t, schema.PolicyInsert, candidate); err != nil {
		return nil, err
	}

	id, err := b.o.store.Insert(ctx, t.Name, candidate)
	if err != nil {
		return nil, err
	}
	return b.o.store.Get(ctx, id)
}

// probeConflictTarget finds an existing row conflicting with candidate on
// the declared target columns, or on any unique index when none are
// declared.
func (o *ORM) probeConflictTarget(ctx context.Context, t *schema.Table, target []string, candidate host.Document) (host.Document, error) {
	for _, uq := range t.UniqueIndexes {
		if len(target) > 0 && !sameColumns(uq.Columns, target) {
			continue
		}
		existing, err := o.probeUnique(ctx, t, uq, candidate, "")
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	if len(target) > 0 && t.IndexCovering(target) == nil && findUniqueIndex(t, target) == nil {
		return nil, fmt.Errorf("orm: onConflict target %v has no unique index on %q", target, t.Name)
	}
	return nil, nil
}

func findUniqueIndex(t *schema.Table, cols []string) *schema.UniqueIndex {
	for _, uq := range t.UniqueIndexes {
		if sameColumns(uq.Columns, cols) {
			return uq
		}
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// upsertUpdate applies the conflict-update set to the existing row,
// running the full update pipeline including pending onUpdate hooks and
// the foreign-key update fan-out.
func (o *ORM) upsertUpdate(ctx context.Context, t *schema.Table, existing host.Document, set host.Document) (host.Document, error) {
	updated, err := o.updateRowCascading(ctx, o.newCascadeCtx(false), t, existing, set)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// An empty effective patch leaves the row as is; the upsert still
		// returns it.
		return existing, nil
	}
	return updated, nil
}

// enforceChecks evaluates every check constraint under three-valued
// logic; only FALSE rejects.
func (o *ORM) enforceChecks(t *schema.Table, row host.Document) error {
	for _, ch := range t.Checks {
		if expr.EvaluateTri(ch.Expr, row) == expr.False {
			return fmt.Errorf("orm: check constraint %q failed on %q", ch.Name, t.Name)
		}
	}
	return nil
}

// enforceUnique probes every unique index whose covered fields are all
// present on the candidate. excludeID skips the row being updated;
// changed, when non-nil, limits enforcement to indexes touching those
// columns.
func (o *ORM) enforceUnique(ctx context.Context, t *schema.Table, candidate host.Document, excludeID host.ID, changed map[string]bool) error {
	for _, uq := range t.UniqueIndexes {
		if changed != nil && !touchesColumns(uq.Columns, changed) {
			continue
		}
		existing, err := o.probeUnique(ctx, t, uq, candidate, excludeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("orm: unique constraint %q violated on %q", uq.Name, t.Name)
		}
	}
	return nil
}

// probeUnique returns a conflicting row for one unique index, or nil.
// NULL keys conflict only under nullsNotDistinct; a missing field skips
// the probe entirely.
func (o *ORM) probeUnique(ctx context.Context, t *schema.Table, uq *schema.UniqueIndex, candidate host.Document, excludeID host.ID) (host.Document, error) {
	rng := &host.IndexRange{}
	for _, col := range uq.Columns {
		v, present := candidate[col]
		if !present {
			return nil, nil
		}
		if v == nil && !uq.NullsNotDistinct {
			// NULL keys are pairwise distinct; nothing can conflict.
			return nil, nil
		}
		rng.Eq = append(rng.Eq, host.IndexEq{Column: col, Value: v})
	}
	q := o.store.Query(t.Name).WithIndex(uq.Name, rng)
	docs, err := q.Collect(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if id, _ := doc[host.FieldID].(host.ID); excludeID != "" && id == excludeID {
			continue
		}
		return doc, nil
	}
	return nil, nil
}

// enforceForeignKeys validates every foreign key whose source values are
// present and non-null. changed limits validation to keys touching the
// given columns (update path); nil validates all (insert path).
func (o *ORM) enforceForeignKeys(ctx context.Context, t *schema.Table, row host.Document, changed map[string]bool) error {
	for _, fk := range t.ForeignKeys {
		if changed != nil && !touchesColumns(fk.Columns, changed) {
			continue
		}
		values := make([]any, len(fk.Columns))
		skip := false
		for i, col := range fk.Columns {
			v, present := row[col]
			if !present || v == nil {
				skip = true
				break
			}
			values[i] = v
		}
		if skip {
			continue
		}
		if err := o.fkTargetExists(ctx, t, fk, values); err != nil {
			return err
		}
	}
	return nil
}

func touchesColumns(cols []string, changed map[string]bool) bool {
	for _, c := range cols {
		if changed[c] {
			return true
		}
	}
	return false
}

// fkTargetExists probes the target table for the referenced row.
func (o *ORM) fkTargetExists(ctx context.Context, t *schema.Table, fk *schema.ForeignKey, values []any) error {
	if fk.TargetsID() {
		id, ok := asID(values[0])
		if !ok || id.Table() != fk.RefTable {
			return fmt.Errorf("orm: foreign key %q on %q: value is not an id of %q", fk.Name, t.Name, fk.RefTable)
		}
		doc, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("orm: foreign key %q violation: %q row %s does not exist", fk.Name, fk.RefTable, id)
		}
		return nil
	}

	target := o.schema.Table(fk.RefTable)
	idx := target.IndexCovering(fk.RefColumns)
	if idx == nil {
		return fmt.Errorf("orm: foreign key %q requires index on %q over %v", fk.Name, fk.RefTable, fk.RefColumns)
	}
	rng := &host.IndexRange{}
	for i, col := range fk.RefColumns {
		rng.Eq = append(rng.Eq, host.IndexEq{Column: col, Value: values[i]})
	}
	doc, err := o.store.Query(fk.RefTable).WithIndex(idx.Name, rng).First(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("orm: foreign key %q violation: no %q row matches %v", fk.Name, fk.RefTable, values)
	}
	return nil
}

func asID(v any) (host.ID, bool) {
	switch t := v.(type) {
	case host.ID:
		return t, true
	case string:
		return host.ID(t), true
	}
	return "", false
}
