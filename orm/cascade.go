package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dorm/host"
	"dorm/schema"
)

// byteSafetyFactor scales measured JSON bytes when charging a batch
// against mutationMaxBytesPerBatch. The factor is empirically chosen and
// deliberately not configurable.
const byteSafetyFactor = 2

type cascadeMode string

const (
	cascadeHard cascadeMode = "hard"
	cascadeSoft cascadeMode = "soft"
)

// cascadeCtx is the per-root-mutation state of the cascade executor: the
// visited set, the row budget, and the schedule-call budget. It is owned
// by exactly one in-flight mutation and never shared.
type cascadeCtx struct {
	visited       map[string]bool
	rowsTouched   int
	scheduleCalls int
	allowFullScan bool
	cascadeMode   cascadeMode
	// async relaxes the row budget: exhaustion becomes a continuation
	// instead of an error.
	async bool
}

func (o *ORM) newCascadeCtx(allowFullScan bool) *cascadeCtx {
	return &cascadeCtx{
		visited:       make(map[string]bool),
		allowFullScan: allowFullScan,
		cascadeMode:   cascadeHard,
		async:         o.defaults().MutationExecutionMode == schema.ModeAsync,
	}
}

// visit records one row of the walk; it returns false when the row was
// already visited within this root mutation.
func (cc *cascadeCtx) visit(table string, id host.ID) bool {
	key := table + ":" + string(id)
	if cc.visited[key] {
		return false
	}
	cc.visited[key] = true
	return true
}

func (cc *cascadeCtx) chargeRow(o *ORM, table string) error {
	cc.rowsTouched++
	if max := o.defaults().MutationMaxRows; !cc.async && cc.rowsTouched > max {
		return fmt.Errorf("orm: cascade on %q exceeds mutationMaxRows (%d)", table, max)
	}
	return nil
}

// scheduleCall issues one scheduler.runAfter, charging the per-mutation
// schedule budget.
func (o *ORM) scheduleCall(ctx context.Context, cc *cascadeCtx, delayMs int64, ref host.FunctionRef, args map[string]any) error {
	if o.scheduler == nil {
		return fmt.Errorf("orm: scheduler is required for scheduled work")
	}
	if ref == "" {
		return fmt.Errorf("orm: no scheduled function registered for this work")
	}
	cc.scheduleCalls++
	if limit := o.defaults().MutationScheduleCallCap; cc.scheduleCalls > limit {
		return fmt.Errorf("orm: mutationScheduleCallCap (%d) exhausted", limit)
	}
	_, err := o.scheduler.RunAfter(ctx, delayMs, ref, args)
	return err
}

// cascadeOnDelete walks every incoming foreign-key edge of the deleted
// row's table and applies the declared onDelete action.
func (o *ORM) cascadeOnDelete(ctx context.Context, cc *cascadeCtx, t *schema.Table, root host.Document) error {
	if id, _ := root[host.FieldID].(host.ID); id != "" {
		cc.visit(t.Name, id)
	}
	for _, e := range o.incoming[t.Name] {
		targetVals, ok := edgeTargetValues(root, e.FK)
		if !ok {
			// A NULL key never matches a foreign key.
			continue
		}
		action := e.FK.OnDelete
		if action == schema.ActionNone {
			action = schema.ActionNoAction
		}
		if err := o.applyEdge(ctx, cc, e, "delete", action, targetVals, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// cascadeOnUpdate walks incoming edges whose target columns changed and
// applies the declared onUpdate action with the new values.
func (o *ORM) cascadeOnUpdate(ctx context.Context, cc *cascadeCtx, t *schema.Table, old, post host.Document) error {
	for _, e := range o.incoming[t.Name] {
		changed := false
		for _, col := range e.FK.RefColumns {
			if !host.ValueEq(old[col], post[col]) {
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		targetVals, ok := edgeTargetValues(old, e.FK)
		if !ok {
			continue
		}
		newVals := make([]any, len(e.FK.RefColumns))
		for i, col := range e.FK.RefColumns {
			newVals[i] = post[col]
		}
		action := e.FK.OnUpdate
		if action == schema.ActionNone {
			action = schema.ActionNoAction
		}
		if err := o.applyEdge(ctx, cc, e, "update", action, targetVals, newVals, nil); err != nil {
			return err
		}
	}
	return nil
}

func edgeTargetValues(root host.Document, fk *schema.ForeignKey) ([]any, bool) {
	vals := make([]any, len(fk.RefColumns))
	for i, col := range fk.RefColumns {
		v, present := root[col]
		if !present || v == nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// applyEdge applies one referential action over the rows of the edge's
// source table that reference targetVals. cursor is non-nil only when a
// scheduled continuation resumes a previous batch.
func (o *ORM) applyEdge(ctx context.Context, cc *cascadeCtx, e incomingFK, op string,
	action schema.Action, targetVals, newVals []any, cursor *string) error {

	src := o.schema.Table(e.Source)
	idx := src.IndexCovering(e.FK.Columns)

	if action == schema.ActionRestrict || action == schema.ActionNoAction {
		return o.enforceRestrict(ctx, cc, src, e, idx, targetVals)
	}
	if idx == nil {
		return fmt.Errorf("orm: foreign action %q of %q requires index on %q over %v",
			action, e.FK.Name, e.Source, e.FK.Columns)
	}

	switch action {
	case schema.ActionSetNull:
		for _, col := range e.FK.Columns {
			if c := src.FindColumn(col); c != nil && c.NotNull {
				return fmt.Errorf("orm: set null on %q: column %q is not nullable", e.FK.Name, col)
			}
		}
	case schema.ActionSetDefault:
		for _, col := range e.FK.Columns {
			c := src.FindColumn(col)
			if c == nil || (!c.HasDefault && c.DefaultFn == nil) {
				return fmt.Errorf("orm: set default on %q: column %q has no default", e.FK.Name, col)
			}
		}
	case schema.ActionCascade:
		if op == "update" {
			for i, col := range e.FK.Columns {
				if c := src.FindColumn(col); c != nil && c.NotNull && newVals[i] == nil {
					return fmt.Errorf("orm: update cascade on %q: column %q is not nullable", e.FK.Name, col)
				}
			}
		}
	}

	if o.defaults().MutationExecutionMode == schema.ModeAsync {
		return o.fanOutAsyncStep(ctx, cc, e, op, action, targetVals, newVals, cursor, 0, 0, o.defaults().MutationAsyncDelayMs)
	}
	return o.fanOutSync(ctx, cc, e, idx, op, action, targetVals, newVals)
}

// enforceRestrict aborts when any referencing row exists. Without a
// source-side index it falls back to a table scan only under
// allowFullScan, warning in strict mode.
func (o *ORM) enforceRestrict(ctx context.Context, cc *cascadeCtx, src *schema.Table, e incomingFK, idx *schema.Index, targetVals []any) error {
	var q host.Query
	if idx != nil {
		q = o.store.Query(e.Source).WithIndex(idx.Name, eqRange(e.FK.Columns, targetVals))
	} else {
		if !cc.allowFullScan {
			return fmt.Errorf("orm: restrict check for %q requires index on %q over %v, or allowFullScan",
				e.FK.Name, e.Source, e.FK.Columns)
		}
		if o.strict() {
			o.warnf("orm: restrict check for %q scans %q without an index", e.FK.Name, e.Source)
		}
		q = o.store.Query(e.Source).Filter(eqFilter(e.FK.Columns, targetVals))
	}
	doc, err := q.First(ctx)
	if err != nil {
		return err
	}
	if doc != nil {
		return fmt.Errorf("orm: restrict violation: %q row is referenced by %q via %q",
			e.FK.RefTable, e.Source, e.FK.Name)
	}
	return nil
}

func eqRange(cols []string, vals []any) *host.IndexRange {
	rng := &host.IndexRange{}
	for i, col := range cols {
		rng.Eq = append(rng.Eq, host.IndexEq{Column: col, Value: vals[i]})
	}
	return rng
}

func eqFilter(cols []string, vals []any) host.Filter {
	ops := make([]host.Filter, len(cols))
	for i, col := range cols {
		ops[i] = host.Eq(host.Field(col), host.Literal(vals[i]))
	}
	return host.And(ops...)
}

// fanOutSync drains the referencing set page by page inside the current
// transaction, charging the row budget for every touched row.
func (o *ORM) fanOutSync(ctx context.Context, cc *cascadeCtx, e incomingFK, idx *schema.Index, op string,
	action schema.Action, targetVals, newVals []any) error {

	batch := o.defaults().MutationBatchSize
	var cursor *string
	for {
		page, err := o.store.Query(e.Source).
			WithIndex(idx.Name, eqRange(e.FK.Columns, targetVals)).
			Paginate(ctx, host.PaginateOptions{Cursor: cursor, NumItems: batch})
		if err != nil {
			return err
		}
		if err := o.applyActionRows(ctx, cc, e, op, action, page.Docs, newVals); err != nil {
			return err
		}
		if page.IsDone {
			return nil
		}
		cursor = &page.ContinueCursor
	}
}

// fanOutAsyncStep reads one bounded batch, trims it to the byte budget,
// applies it, and enqueues a continuation when work remains. Workers call
// it with the cursor and budgets from the wire args.
func (o *ORM) fanOutAsyncStep(ctx context.Context, cc *cascadeCtx, e incomingFK, op string,
	action schema.Action, targetVals, newVals []any, cursor *string, batchSize, maxBytes int, delayMs int64) error {

	src := o.schema.Table(e.Source)
	idx := src.IndexCovering(e.FK.Columns)
	if idx == nil {
		return fmt.Errorf("orm: foreign action %q of %q requires index on %q over %v",
			action, e.FK.Name, e.Source, e.FK.Columns)
	}
	if batchSize <= 0 {
		if action == schema.ActionCascade && op == "delete" {
			batchSize = o.defaults().MutationBatchSize
		} else {
			batchSize = o.defaults().MutationLeafBatchSize
		}
		if max := o.defaults().MutationMaxRows; batchSize > max {
			batchSize = max
		}
	}
	if maxBytes <= 0 {
		maxBytes = o.defaults().MutationMaxBytesPerBatch
	}

	page, err := o.store.Query(e.Source).
		WithIndex(idx.Name, eqRange(e.FK.Columns, targetVals)).
		Paginate(ctx, host.PaginateOptions{Cursor: cursor, NumItems: batchSize})
	if err != nil {
		return err
	}

	rows, trimmed := trimToByteBudget(page.Docs, maxBytes)
	nextCursor := &page.ContinueCursor
	done := page.IsDone
	if trimmed {
		// Re-derive the continuation cursor at the trim boundary, so the
		// next batch starts at the first unapplied row.
		cut, err := o.store.Query(e.Source).
			WithIndex(idx.Name, eqRange(e.FK.Columns, targetVals)).
			Paginate(ctx, host.PaginateOptions{Cursor: cursor, NumItems: len(rows)})
		if err != nil {
			return err
		}
		nextCursor = &cut.ContinueCursor
		done = false
	}

	if err := o.applyActionRows(ctx, cc, e, op, action, rows, newVals); err != nil {
		return err
	}
	if done {
		return nil
	}
	args := &host.MutationBatchArgs{
		WorkType:             workTypeFor(op),
		Operation:            op,
		Table:                e.Source,
		ForeignIndexName:     idx.Name,
		ForeignSourceColumns: e.FK.Columns,
		TargetValues:         targetVals,
		NewValues:            newVals,
		ForeignAction:        string(action),
		CascadeMode:          string(cc.cascadeMode),
		Cursor:               nextCursor,
		BatchSize:            batchSize,
		MaxBytesPerBatch:     maxBytes,
		DelayMs:              delayMs,
	}
	return o.scheduleCall(ctx, cc, delayMs, o.fns.MutationBatch, args.ToWire())
}

func workTypeFor(op string) host.WorkType {
	if op == "update" {
		return host.WorkCascadeUpdate
	}
	return host.WorkCascadeDelete
}

// trimToByteBudget keeps leading rows while their measured JSON size,
// scaled by the safety factor, fits the budget. At least one row is kept
// so progress is guaranteed.
func trimToByteBudget(rows []host.Document, maxBytes int) ([]host.Document, bool) {
	total := 0
	for i, row := range rows {
		raw, err := json.Marshal(row)
		size := len(raw) * byteSafetyFactor
		if err != nil {
			size = maxBytes
		}
		total += size
		if total > maxBytes && i > 0 {
			return rows[:i], true
		}
	}
	return rows, false
}

// applyActionRows applies one referential action to a batch of
// referencing rows.
func (o *ORM) applyActionRows(ctx context.Context, cc *cascadeCtx, e incomingFK, op string,
	action schema.Action, rows []host.Document, newVals []any) error {

	src := o.schema.Table(e.Source)
	for _, row := range rows {
		id, _ := row[host.FieldID].(host.ID)
		switch action {
		case schema.ActionSetNull:
			if !cc.visit(e.Source+"#"+e.FK.Name, id) {
				continue
			}
			if err := cc.chargeRow(o, e.Source); err != nil {
				return err
			}
			patch := make(host.Document, len(e.FK.Columns))
			for _, col := range e.FK.Columns {
				patch[col] = nil
			}
			if err := o.store.Patch(ctx, id, patch); err != nil {
				return err
			}
		case schema.ActionSetDefault:
			if !cc.visit(e.Source+"#"+e.FK.Name, id) {
				continue
			}
			if err := cc.chargeRow(o, e.Source); err != nil {
				return err
			}
			patch := make(host.Document, len(e.FK.Columns))
			for _, col := range e.FK.Columns {
				patch[col], _ = src.FindColumn(col).DefaultFor()
			}
			if err := o.store.Patch(ctx, id, patch); err != nil {
				return err
			}
		case schema.ActionCascade:
			if op == "update" {
				if !cc.visit(e.Source+"#"+e.FK.Name, id) {
					continue
				}
				if err := cc.chargeRow(o, e.Source); err != nil {
					return err
				}
				patch := make(host.Document, len(e.FK.Columns))
				for i, col := range e.FK.Columns {
					patch[col] = newVals[i]
				}
				if err := o.store.Patch(ctx, id, patch); err != nil {
					return err
				}
				continue
			}
			if !cc.visit(e.Source, id) {
				continue
			}
			if err := cc.chargeRow(o, e.Source); err != nil {
				return err
			}
			if err := o.cascadeOnDelete(ctx, cc, src, row); err != nil {
				return err
			}
			if cc.cascadeMode == cascadeSoft {
				if src.FindColumn(FieldDeletionTime) == nil {
					return fmt.Errorf("orm: soft cascade into %q requires a %q column", e.Source, FieldDeletionTime)
				}
				if err := o.store.Patch(ctx, id, host.Document{FieldDeletionTime: float64(time.Now().UnixMilli())}); err != nil {
					return err
				}
			} else {
				if err := o.store.Delete(ctx, id); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("orm: unexpected foreign action %q", action)
		}
	}
	return nil
}
