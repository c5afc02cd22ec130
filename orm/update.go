package orm

import (
	"context"
	"fmt"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// UpdateBuilder accumulates an update over the rows a where-clause
// matches.
type UpdateBuilder struct {
	o             *ORM
	table         string
	err           error
	patch         host.Document
	where         expr.Expr
	sel           *Selection
	allowFullScan bool
}

// Update starts an update of table.
func (o *ORM) Update(table string) *UpdateBuilder {
	b := &UpdateBuilder{o: o, table: table}
	if o.schema.Table(table) == nil {
		b.err = fmt.Errorf("orm: unknown table %q", table)
	}
	return b
}

// Set declares the patch to apply to every matched row.
func (b *UpdateBuilder) Set(patch host.Document) *UpdateBuilder {
	b.patch = patch
	return b
}

// Where filters the rows to update.
func (b *UpdateBuilder) Where(e expr.Expr) *UpdateBuilder {
	b.where = e
	return b
}

// AllowFullScan opts out of the strict-mode guard against unfiltered
// updates.
func (b *UpdateBuilder) AllowFullScan() *UpdateBuilder {
	b.allowFullScan = true
	return b
}

// Returning projects the updated rows onto the named columns.
func (b *UpdateBuilder) Returning(cols ...string) *UpdateBuilder {
	b.sel = &Selection{Columns: cols}
	return b
}

// ReturningAs projects the updated rows through an alias-to-field map.
func (b *UpdateBuilder) ReturningAs(aliases map[string]string) *UpdateBuilder {
	b.sel = &Selection{Aliases: aliases}
	return b
}

// Execute updates every matched row and returns the post-images. Rows
// whose effective patch is empty are untouched and not returned.
func (b *UpdateBuilder) Execute(ctx context.Context) ([]host.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.o.guardWrite(b.table, b.where, b.allowFullScan, "update"); err != nil {
		return nil, err
	}
	t := b.o.schema.Table(b.table)
	rows, err := b.o.collectMutationRows(ctx, t, b.where, schema.PolicyUpdate)
	if err != nil {
		return nil, err
	}

	cc := b.o.newCascadeCtx(b.allowFullScan)
	out := []host.Document{}
	for _, row := range rows {
		updated, err := b.o.updateRowCascading(ctx, cc, t, row, b.patch)
		if err != nil {
			return nil, err
		}
		if updated != nil {
			out = append(out, updated)
		}
	}
	return b.sel.project(out), nil
}

// UpdatePage is the result of one paginated mutation step.
type UpdatePage struct {
	Page           []host.Document
	NumAffected    int
	IsDone         bool
	ContinueCursor string
}

// Paginate updates one page of matched rows and returns a continuation
// cursor. Multi-probe filters are rejected: a probe union cannot be
// cursor-split coherently.
func (b *UpdateBuilder) Paginate(ctx context.Context, opts PaginateOptions) (*UpdatePage, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.o.guardWrite(b.table, b.where, b.allowFullScan, "update"); err != nil {
		return nil, err
	}
	t := b.o.schema.Table(b.table)
	page, err := b.o.mutationPage(ctx, t, b.where, schema.PolicyUpdate, opts)
	if err != nil {
		return nil, err
	}

	cc := b.o.newCascadeCtx(b.allowFullScan)
	result := &UpdatePage{IsDone: page.IsDone, ContinueCursor: page.ContinueCursor, Page: []host.Document{}}
	for _, row := range page.Docs {
		updated, err := b.o.updateRowCascading(ctx, cc, t, row, b.patch)
		if err != nil {
			return nil, err
		}
		if updated != nil {
			result.Page = append(result.Page, updated)
			result.NumAffected++
		}
	}
	result.Page = b.sel.project(result.Page)
	return result, nil
}

// guardWrite enforces the strict/relaxed policy for mutations without a
// where-clause.
func (o *ORM) guardWrite(table string, where expr.Expr, allowFullScan bool, op string) error {
	if where != nil || allowFullScan {
		return nil
	}
	if o.strict() {
		return fmt.Errorf("orm: %s on %q without a where clause; call allowFullScan to %s every row", op, table, op)
	}
	o.warnf("orm: %s on %q runs without a where clause", op, table)
	return nil
}

// collectMutationRows reads the matched rows in bounded pages,
// accumulating up to mutationMaxRows.
func (o *ORM) collectMutationRows(ctx context.Context, t *schema.Table, where expr.Expr, cmd schema.PolicyCommand) ([]host.Document, error) {
	plan, err := o.planQuery(t, where, "", "", "", nil, cmd)
	if err != nil {
		return nil, err
	}
	if plan.denyAll {
		return nil, nil
	}
	batch := o.defaults().MutationBatchSize
	maxRows := o.defaults().MutationMaxRows

	var rows []host.Document
	if len(plan.probes) > 0 {
		rows, err = o.collectProbes(ctx, plan)
		if err != nil {
			return nil, err
		}
		if len(rows) > maxRows {
			return nil, fmt.Errorf("orm: mutation on %q exceeds mutationMaxRows (%d)", t.Name, maxRows)
		}
		return rows, nil
	}

	var cursor *string
	for {
		page, err := o.paginatePlan(ctx, plan, PaginateOptions{Cursor: cursor, NumItems: batch}, 0)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Docs...)
		if len(rows) > maxRows {
			return nil, fmt.Errorf("orm: mutation on %q exceeds mutationMaxRows (%d)", t.Name, maxRows)
		}
		if page.IsDone {
			return rows, nil
		}
		cursor = &page.ContinueCursor
	}
}

// mutationPage reads one page for the explicit paginated mutation API.
func (o *ORM) mutationPage(ctx context.Context, t *schema.Table, where expr.Expr, cmd schema.PolicyCommand, opts PaginateOptions) (*host.Page, error) {
	plan, err := o.planQuery(t, where, "", "", "", nil, cmd)
	if err != nil {
		return nil, err
	}
	if plan.denyAll {
		return &host.Page{IsDone: true}, nil
	}
	if len(plan.probes) > 1 {
		return nil, fmt.Errorf("orm: paginated mutation on %q rejects multi-probe filters", t.Name)
	}
	numItems := opts.NumItems
	if numItems <= 0 {
		numItems = o.defaults().MutationBatchSize
	}
	return o.paginatePlan(ctx, plan, PaginateOptions{Cursor: opts.Cursor, NumItems: numItems}, 0)
}

// updateRowCascading runs the per-row update pipeline and then the
// foreign-key update fan-out for changed target columns.
func (o *ORM) updateRowCascading(ctx context.Context, cc *cascadeCtx, t *schema.Table, row host.Document, patch host.Document) (host.Document, error) {
	old := make(host.Document, len(row))
	for k, v := range row {
		old[k] = v
	}
	updated, err := o.updateRow(ctx, t, row, patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}
	if err := o.cascadeOnUpdate(ctx, cc, t, old, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// updateRow applies one normalized patch to one row: defaults hooks,
// check, unique, foreign-key, and RLS enforcement, then the host patch.
// A patch that normalizes to empty is a no-op and returns nil.
func (o *ORM) updateRow(ctx context.Context, t *schema.Table, current host.Document, patch host.Document) (host.Document, error) {
	normalized, err := t.NormalizeUpdatePatch(patch)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, nil
	}
	for col, v := range t.OnUpdateValues(normalized) {
		normalized[col] = v
	}

	post := make(host.Document, len(current)+len(normalized))
	for k, v := range current {
		post[k] = v
	}
	changed := make(map[string]bool, len(normalized))
	for k, v := range normalized {
		changed[k] = true
		if host.IsUnset(v) {
			delete(post, k)
			continue
		}
		post[k] = v
	}

	if err := o.enforceChecks(t, post); err != nil {
		return nil, err
	}
	id, _ := current[host.FieldID].(host.ID)
	if err := o.enforceUnique(ctx, t, post, id, changed); err != nil {
		return nil, err
	}
	if err := o.enforceForeignKeys(ctx, t, post, changed); err != nil {
		return nil, err
	}
	if err := o.checkWrite(t, schema.PolicyUpdate, post); err != nil {
		return nil, err
	}

	if err := o.store.Patch(ctx, id, normalized); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, id)
}
