package orm

import (
	"context"
	"fmt"

	"dorm/host"
	"dorm/schema"
)

// HandleScheduledMutationBatch drains one cascade continuation: it decodes
// the wire args, applies the next batch for the described edge, and
// re-enqueues until the referencing set is exhausted. The host runtime
// dispatches the scheduled function named by Config.Functions.MutationBatch
// to this method.
func (o *ORM) HandleScheduledMutationBatch(ctx context.Context, wire map[string]any) error {
	args, err := host.MutationBatchArgsFromWire(wire)
	if err != nil {
		return err
	}
	src := o.schema.Table(args.Table)
	if src == nil {
		return fmt.Errorf("orm: scheduled batch for unknown table %q", args.Table)
	}
	var fk *schema.ForeignKey
	for _, candidate := range src.ForeignKeys {
		if sameColumns(candidate.Columns, args.ForeignSourceColumns) {
			fk = candidate
			break
		}
	}
	if fk == nil {
		return fmt.Errorf("orm: scheduled batch: no foreign key on %q over %v", args.Table, args.ForeignSourceColumns)
	}

	// Continuations are trusted internal work: RLS was enforced on the
	// root row before the first batch.
	worker := o.SkipRules()
	cc := worker.newCascadeCtx(false)
	cc.async = true
	if args.CascadeMode == string(cascadeSoft) {
		cc.cascadeMode = cascadeSoft
	}
	e := incomingFK{Source: args.Table, FK: fk}
	return worker.fanOutAsyncStep(ctx, cc, e, args.Operation, schema.Action(args.ForeignAction),
		args.TargetValues, args.NewValues, args.Cursor, args.BatchSize, args.MaxBytesPerBatch, args.DelayMs)
}

// HandleScheduledDelete performs one deferred root delete. The worker
// no-ops unless the row still carries the deletionTime token that
// enqueued it, which makes redelivery and reschedule races safe.
func (o *ORM) HandleScheduledDelete(ctx context.Context, wire map[string]any) error {
	args, err := host.ScheduledDeleteArgsFromWire(wire)
	if err != nil {
		return err
	}
	t := o.schema.Table(args.Table)
	if t == nil {
		return fmt.Errorf("orm: scheduled delete for unknown table %q", args.Table)
	}
	row, err := o.store.Get(ctx, args.ID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	token, ok := row[FieldDeletionTime].(float64)
	if !ok || token != args.DeletionTime {
		return nil
	}

	worker := o.SkipRules()
	cc := worker.newCascadeCtx(false)
	if args.CascadeMode == string(cascadeSoft) {
		cc.cascadeMode = cascadeSoft
	}
	if err := worker.cascadeOnDelete(ctx, cc, t, row); err != nil {
		return err
	}
	if cc.cascadeMode == cascadeSoft {
		// The root already carries deletionTime; the fan-out above marked
		// the referencing rows.
		return nil
	}
	return o.store.Delete(ctx, args.ID)
}
