package sqlstore

import (
	"context"
	"fmt"

	"dorm/host"
	"dorm/internal/scan"
)

// query is an immutable read builder over one table. The SQL side narrows
// by table; index ordering, range filtering, and pagination reuse the
// shared scan engine so cursors are interchangeable with memstore's.
type query struct {
	store  *Store
	table  string
	index  string
	rng    *host.IndexRange
	filter *host.Filter
	order  host.SortOrder
}

func (q *query) clone() *query {
	c := *q
	return &c
}

func (q *query) WithIndex(indexName string, rng *host.IndexRange) host.Query {
	c := q.clone()
	c.index = indexName
	c.rng = rng
	return c
}

func (q *query) Filter(f host.Filter) host.Query {
	c := q.clone()
	c.filter = &f
	return c
}

func (q *query) Order(order host.SortOrder) host.Query {
	c := q.clone()
	c.order = order
	return c
}

func (q *query) input(ctx context.Context) (scan.Input, error) {
	cols, err := q.store.indexColumns(q.table, q.index)
	if err != nil {
		return scan.Input{}, err
	}
	docs, err := q.store.loadTable(ctx, q.table)
	if err != nil {
		return scan.Input{}, err
	}
	return scan.Input{
		Docs:    docs,
		IdxCols: cols,
		Rng:     q.rng,
		Filter:  q.filter,
		Order:   q.order,
	}, nil
}

func (q *query) Collect(ctx context.Context) ([]host.Document, error) {
	in, err := q.input(ctx)
	if err != nil {
		return nil, err
	}
	return scan.Collect(in)
}

func (q *query) First(ctx context.Context) (host.Document, error) {
	in, err := q.input(ctx)
	if err != nil {
		return nil, err
	}
	return scan.First(in)
}

func (q *query) Unique(ctx context.Context) (host.Document, error) {
	docs, err := q.Collect(ctx)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		return docs[0], nil
	default:
		return nil, fmt.Errorf("sqlstore: unique query on %q matched %d documents", q.table, len(docs))
	}
}

func (q *query) Paginate(ctx context.Context, opts host.PaginateOptions) (*host.Page, error) {
	in, err := q.input(ctx)
	if err != nil {
		return nil, err
	}
	return scan.Paginate(in, opts)
}
