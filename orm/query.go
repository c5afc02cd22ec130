package orm

import (
	"context"
	"fmt"
	"sort"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// QueryBuilder accumulates a read over one table. Builders are single-use
// and not safe for concurrent mutation.
type QueryBuilder struct {
	o             *ORM
	table         string
	err           error
	where         expr.Expr
	orderField    string
	orderDir      host.SortOrder
	limit         int
	pinnedIndex   string
	pinnedRange   *host.IndexRange
	allowFullScan bool
	maxScan       int
}

// Query starts a read over table.
func (o *ORM) Query(table string) *QueryBuilder {
	b := &QueryBuilder{o: o, table: table}
	if o.schema.Table(table) == nil {
		b.err = fmt.Errorf("orm: unknown table %q", table)
	}
	return b
}

// Where sets the filter expression.
func (b *QueryBuilder) Where(e expr.Expr) *QueryBuilder {
	b.where = e
	return b
}

// OrderBy sets the ordering column and direction. The default is
// _creationTime descending.
func (b *QueryBuilder) OrderBy(field string, dir host.SortOrder) *QueryBuilder {
	b.orderField = field
	b.orderDir = dir
	return b
}

// Limit caps the number of returned rows.
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	b.limit = n
	return b
}

// WithIndex pins the scan to a declared index with an optional range.
func (b *QueryBuilder) WithIndex(name string, rng *host.IndexRange) *QueryBuilder {
	b.pinnedIndex = name
	b.pinnedRange = rng
	return b
}

// AllowFullScan opts this query out of the strict-mode full-scan guard.
func (b *QueryBuilder) AllowFullScan() *QueryBuilder {
	b.allowFullScan = true
	return b
}

// MaxScan bounds how many index rows one page may examine; exhausting it
// yields a SplitRequired page.
func (b *QueryBuilder) MaxScan(n int) *QueryBuilder {
	b.maxScan = n
	return b
}

func (b *QueryBuilder) plan(cmd schema.PolicyCommand) (*queryPlan, error) {
	if b.err != nil {
		return nil, b.err
	}
	t := b.o.schema.Table(b.table)
	return b.o.planQuery(t, b.where, b.orderField, b.orderDir, b.pinnedIndex, b.pinnedRange, cmd)
}

// guardRead enforces the strict/relaxed full-scan policy for unpaginated
// reads.
func (b *QueryBuilder) guardRead(plan *queryPlan) error {
	if !plan.fullScan || plan.orderField == host.FieldCreationTime || !plan.memSort {
		return nil
	}
	if b.o.strict() && !b.allowFullScan && b.maxScan == 0 {
		return fmt.Errorf("orm: query on %q orders by %q without index coverage; pass allowFullScan or maxScan to scan anyway",
			plan.table.Name, plan.orderField)
	}
	b.o.warnf("orm: full scan on %q ordering by %q in memory", plan.table.Name, plan.orderField)
	return nil
}

// FindMany materializes all matching rows.
func (b *QueryBuilder) FindMany(ctx context.Context) ([]host.Document, error) {
	plan, err := b.plan(schema.PolicySelect)
	if err != nil {
		return nil, err
	}
	if plan.denyAll {
		return []host.Document{}, nil
	}
	if err := b.guardRead(plan); err != nil {
		return nil, err
	}

	var rows []host.Document
	if len(plan.probes) > 0 {
		rows, err = b.o.collectProbes(ctx, plan)
	} else {
		rows, err = b.o.hostQuery(plan, plan.rng).Collect(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, row := range rows {
		if plan.passesResidual(row) {
			out = append(out, row)
		}
	}
	rows = out

	if plan.memSort {
		sortDocs(rows, plan.orderField, plan.order)
	}

	hardCap := b.o.defaults().DefaultLimit
	limit := b.limit
	if limit <= 0 || limit > hardCap {
		if limit > hardCap {
			b.o.warnf("orm: limit %d on %q clamped to defaultLimit %d", limit, plan.table.Name, hardCap)
		}
		limit = hardCap
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// FindFirst returns the first matching row or nil.
func (b *QueryBuilder) FindFirst(ctx context.Context) (host.Document, error) {
	limit := b.limit
	b.limit = 1
	rows, err := b.FindMany(ctx)
	b.limit = limit
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// PaginateOptions drives one page of a paginated read.
type PaginateOptions struct {
	Cursor   *string
	NumItems int
}

// Paginate returns one cursor page. Replaying a cursor yields the same
// rows; a page whose scan budget ran out carries SplitRequired and a
// split cursor.
func (b *QueryBuilder) Paginate(ctx context.Context, opts PaginateOptions) (*host.Page, error) {
	plan, err := b.plan(schema.PolicySelect)
	if err != nil {
		return nil, err
	}
	if plan.denyAll {
		return &host.Page{IsDone: true}, nil
	}
	if plan.memSort {
		return nil, fmt.Errorf("orm: Pagination: Field '%s' has no index", plan.orderField)
	}
	if len(plan.probes) > 1 {
		// A probe union has no single host cursor; scan the order index
		// with the whole where-clause as a filter instead, which needs an
		// explicit scan bound.
		if b.o.strict() && b.maxScan == 0 {
			return nil, fmt.Errorf("orm: multi-probe pagination on %q requires maxScan in strict mode", plan.table.Name)
		}
		if !b.o.strict() {
			if !b.allowFullScan {
				return nil, fmt.Errorf("orm: multi-probe pagination on %q requires allowFullScan", plan.table.Name)
			}
			b.o.warnf("orm: multi-probe pagination on %q falls back to a filtered scan", plan.table.Name)
		}
		replanned, err := b.o.planQuery(plan.table, nil, b.orderField, b.orderDir, "", nil, schema.PolicySelect)
		if err != nil {
			return nil, err
		}
		replanned.residual = expr.And(b.where, plan.residual)
		replanned.hostFilter, replanned.exact = expr.ToHostFilter(replanned.residual)
		plan = replanned
	}
	return b.o.paginatePlan(ctx, plan, opts, b.maxScan)
}

// paginatePlan accumulates host pages until the requested page is full,
// the range ends, or the scan budget is exhausted. Post-fetch predicates
// are applied before the limit is counted.
func (o *ORM) paginatePlan(ctx context.Context, plan *queryPlan, opts PaginateOptions, maxScan int) (*host.Page, error) {
	q := o.hostQuery(plan, plan.rng)
	out := &host.Page{}
	cursor := opts.Cursor
	remainingScan := maxScan
	for {
		hopts := host.PaginateOptions{
			Cursor:          cursor,
			NumItems:        opts.NumItems - len(out.Docs),
			MaximumRowsRead: remainingScan,
		}
		page, err := q.Paginate(ctx, hopts)
		if err != nil {
			return nil, err
		}
		for _, doc := range page.Docs {
			if plan.passesResidual(doc) {
				out.Docs = append(out.Docs, doc)
			}
		}
		out.ContinueCursor = page.ContinueCursor
		out.PageStatus = page.PageStatus
		out.SplitCursor = page.SplitCursor
		if page.IsDone {
			out.IsDone = true
			return out, nil
		}
		if page.PageStatus == host.SplitRequired {
			return out, nil
		}
		if len(out.Docs) >= opts.NumItems && opts.NumItems > 0 {
			return out, nil
		}
		if maxScan > 0 {
			remainingScan -= len(page.Docs)
			if remainingScan <= 0 {
				out.PageStatus = host.SplitRequired
				return out, nil
			}
		}
		cursor = &page.ContinueCursor
	}
}

// collectProbes unions the result of every probe and re-sorts by the
// ordering column.
func (o *ORM) collectProbes(ctx context.Context, plan *queryPlan) ([]host.Document, error) {
	seen := make(map[host.ID]bool)
	var rows []host.Document
	for i := range plan.probes {
		docs, err := o.hostQuery(plan, &plan.probes[i]).Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			id, _ := doc[host.FieldID].(host.ID)
			if id != "" && seen[id] {
				continue
			}
			seen[id] = true
			rows = append(rows, doc)
		}
	}
	sortDocs(rows, plan.orderField, plan.order)
	return rows, nil
}

// sortDocs orders rows by one column with _creationTime and _id
// tiebreaks.
func sortDocs(rows []host.Document, field string, order host.SortOrder) {
	less := func(a, b host.Document) bool {
		if c := host.ValueCompare(a[field], b[field]); c != 0 {
			return c < 0
		}
		if c := host.ValueCompare(a[host.FieldCreationTime], b[host.FieldCreationTime]); c != 0 {
			return c < 0
		}
		return host.ValueCompare(a[host.FieldID], b[host.FieldID]) < 0
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if order == host.Desc {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})
}
