package orm

import (
	"context"
	"fmt"

	"dorm/expr"
	"dorm/host"
	"dorm/relations"
)

// Related fetches the rows joined to row across one relation edge: the
// target-table rows whose target fields equal row's source fields. The
// read goes through the planner, so index coverage and RLS apply as for
// any other query; a one-cardinality edge yields at most one row.
func (o *ORM) Related(ctx context.Context, e *relations.Edge, row host.Document) ([]host.Document, error) {
	if e == nil {
		return nil, fmt.Errorf("orm: nil relation edge")
	}
	conds := make([]expr.Expr, 0, len(e.SourceFields))
	for i, src := range e.SourceFields {
		v, present := row[src]
		if !present || v == nil {
			// A NULL key joins to nothing.
			return []host.Document{}, nil
		}
		conds = append(conds, expr.Eq(expr.Ref(e.TargetFields[i]), v))
	}
	q := o.Query(e.Target).Where(expr.And(conds...))
	if e.Cardinality == relations.One {
		doc, err := q.FindFirst(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return []host.Document{}, nil
		}
		return []host.Document{doc}, nil
	}
	return q.FindMany(ctx)
}

// EdgeByName finds a relation edge by source table and edge name among
// the edges this instance was built with.
func (o *ORM) EdgeByName(source, name string) *relations.Edge {
	for _, e := range o.edges {
		if e.Source == source && e.Name == name {
			return e
		}
	}
	return nil
}
