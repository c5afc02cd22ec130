package orm

import (
	"context"
	"fmt"
	"time"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// FieldDeletionTime is the column soft and scheduled deletes stamp with
// the deletion epoch.
const FieldDeletionTime = "deletionTime"

// DeleteMode selects how matched rows are removed.
type DeleteMode string

const (
	DeleteHard      DeleteMode = "hard"
	DeleteSoft      DeleteMode = "soft"
	DeleteScheduled DeleteMode = "scheduled"
)

// DeleteBuilder accumulates a delete over the rows a where-clause
// matches.
type DeleteBuilder struct {
	o             *ORM
	table         string
	err           error
	where         expr.Expr
	sel           *Selection
	allowFullScan bool
	mode          DeleteMode
	delayMs       int64
}

// Delete starts a delete from table. The default mode is a hard delete.
func (o *ORM) Delete(table string) *DeleteBuilder {
	b := &DeleteBuilder{o: o, table: table, mode: DeleteHard}
	if o.schema.Table(table) == nil {
		b.err = fmt.Errorf("orm: unknown table %q", table)
	}
	return b
}

// Where filters the rows to delete.
func (b *DeleteBuilder) Where(e expr.Expr) *DeleteBuilder {
	b.where = e
	return b
}

// Soft marks matched rows with deletionTime instead of removing them.
func (b *DeleteBuilder) Soft() *DeleteBuilder {
	b.mode = DeleteSoft
	return b
}

// Scheduled stamps deletionTime now and defers the actual delete to a
// scheduled job after delayMs.
func (b *DeleteBuilder) Scheduled(delayMs int64) *DeleteBuilder {
	b.mode = DeleteScheduled
	b.delayMs = delayMs
	return b
}

// AllowFullScan opts out of the strict-mode guard against unfiltered
// deletes.
func (b *DeleteBuilder) AllowFullScan() *DeleteBuilder {
	b.allowFullScan = true
	return b
}

// Returning projects the deleted rows (pre-images) onto the named
// columns.
func (b *DeleteBuilder) Returning(cols ...string) *DeleteBuilder {
	b.sel = &Selection{Columns: cols}
	return b
}

// ReturningAs projects the deleted rows through an alias-to-field map.
func (b *DeleteBuilder) ReturningAs(aliases map[string]string) *DeleteBuilder {
	b.sel = &Selection{Aliases: aliases}
	return b
}

// Execute deletes every matched row (per the selected mode) and returns
// the pre-images.
func (b *DeleteBuilder) Execute(ctx context.Context) ([]host.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.o.guardWrite(b.table, b.where, b.allowFullScan, "delete"); err != nil {
		return nil, err
	}
	t := b.o.schema.Table(b.table)
	if b.mode != DeleteHard && t.FindColumn(FieldDeletionTime) == nil {
		return nil, fmt.Errorf("orm: %s delete on %q requires a %q column", b.mode, b.table, FieldDeletionTime)
	}
	rows, err := b.o.collectMutationRows(ctx, t, b.where, schema.PolicyDelete)
	if err != nil {
		return nil, err
	}

	cc := b.o.newCascadeCtx(b.allowFullScan)
	if b.mode == DeleteSoft {
		cc.cascadeMode = cascadeSoft
	}
	for _, row := range rows {
		if err := b.deleteRow(ctx, cc, t, row); err != nil {
			return nil, err
		}
	}
	return b.sel.project(rows), nil
}

// Paginate deletes one page of matched rows and returns a continuation
// cursor. Multi-probe filters are rejected.
func (b *DeleteBuilder) Paginate(ctx context.Context, opts PaginateOptions) (*UpdatePage, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.o.guardWrite(b.table, b.where, b.allowFullScan, "delete"); err != nil {
		return nil, err
	}
	t := b.o.schema.Table(b.table)
	if b.mode != DeleteHard && t.FindColumn(FieldDeletionTime) == nil {
		return nil, fmt.Errorf("orm: %s delete on %q requires a %q column", b.mode, b.table, FieldDeletionTime)
	}
	page, err := b.o.mutationPage(ctx, t, b.where, schema.PolicyDelete, opts)
	if err != nil {
		return nil, err
	}

	cc := b.o.newCascadeCtx(b.allowFullScan)
	if b.mode == DeleteSoft {
		cc.cascadeMode = cascadeSoft
	}
	result := &UpdatePage{IsDone: page.IsDone, ContinueCursor: page.ContinueCursor, Page: []host.Document{}}
	for _, row := range page.Docs {
		if err := b.deleteRow(ctx, cc, t, row); err != nil {
			return nil, err
		}
		result.Page = append(result.Page, row)
		result.NumAffected++
	}
	result.Page = b.sel.project(result.Page)
	return result, nil
}

// deleteRow removes one root row per the selected mode, driving the
// foreign-key fan-out for hard and soft deletes.
func (b *DeleteBuilder) deleteRow(ctx context.Context, cc *cascadeCtx, t *schema.Table, row host.Document) error {
	id, _ := row[host.FieldID].(host.ID)
	switch b.mode {
	case DeleteScheduled:
		token := float64(time.Now().UnixMilli())
		if err := b.o.store.Patch(ctx, id, host.Document{FieldDeletionTime: token}); err != nil {
			return err
		}
		args := &host.ScheduledDeleteArgs{
			Table:        t.Name,
			ID:           id,
			CascadeMode:  string(cc.cascadeMode),
			DeletionTime: token,
		}
		return b.o.scheduleCall(ctx, cc, b.delayMs, b.o.fns.Delete, args.ToWire())
	case DeleteSoft:
		now := float64(time.Now().UnixMilli())
		if err := b.o.store.Patch(ctx, id, host.Document{FieldDeletionTime: now}); err != nil {
			return err
		}
		row[FieldDeletionTime] = now
		return b.o.cascadeOnDelete(ctx, cc, t, row)
	default:
		if err := b.o.cascadeOnDelete(ctx, cc, t, row); err != nil {
			return err
		}
		return b.o.store.Delete(ctx, id)
	}
}
