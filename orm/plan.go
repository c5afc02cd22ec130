package orm

import (
	"fmt"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// queryPlan is the planner's output: the picked index, the range or probe
// set it is driven with, and the residual filter the index cannot
// enforce.
type queryPlan struct {
	table *schema.Table
	// index drives the host scan.
	index *schema.Index
	// rng constrains the scan when the plan is a single probe.
	rng *host.IndexRange
	// probes holds one range per probe when a set-membership clause on an
	// indexed column decomposes into a union of probes.
	probes []host.IndexRange
	// residual is the part of the where-clause the index does not
	// enforce; hostFilter is its host-DSL lowering, exact when the
	// lowering lost nothing.
	residual   expr.Expr
	hostFilter host.Filter
	exact      bool
	// order is the scan direction; orderField the ordering column.
	order      host.SortOrder
	orderField string
	// memSort marks plans whose ordering the index cannot produce; only
	// unpaginated reads may carry it.
	memSort bool
	// fullScan marks plans with no index constraint at all.
	fullScan bool
	// denyAll short-circuits reads to zero rows (RLS default deny).
	denyAll bool
}

// conjunct classification buckets used by the index pick.
type whereParts struct {
	conjuncts []expr.Expr
	eq        map[string]any            // field -> equality value
	eqSrc     map[string]expr.Expr      // field -> the absorbed conjunct
	ranges    map[string][]*expr.Binary // field -> order comparisons
	inArrays  map[string]*expr.Binary   // field -> set membership
}

// splitConjuncts flattens top-level AND chains.
func splitConjuncts(e expr.Expr) []expr.Expr {
	if e == nil {
		return nil
	}
	if l, ok := e.(*expr.Logical); ok && l.Op == expr.OpAnd {
		var out []expr.Expr
		for _, op := range l.Operands {
			out = append(out, splitConjuncts(op)...)
		}
		return out
	}
	return []expr.Expr{e}
}

func classifyWhere(e expr.Expr) *whereParts {
	p := &whereParts{
		eq:       make(map[string]any),
		eqSrc:    make(map[string]expr.Expr),
		ranges:   make(map[string][]*expr.Binary),
		inArrays: make(map[string]*expr.Binary),
	}
	p.conjuncts = splitConjuncts(e)
	for _, c := range p.conjuncts {
		b, ok := c.(*expr.Binary)
		if !ok {
			continue
		}
		switch b.Op {
		case expr.OpEq:
			if _, dup := p.eq[b.Field.Name]; !dup {
				p.eq[b.Field.Name] = b.Value
				p.eqSrc[b.Field.Name] = c
			}
		case expr.OpGt, expr.OpGte, expr.OpLt, expr.OpLte, expr.OpBetween:
			p.ranges[b.Field.Name] = append(p.ranges[b.Field.Name], b)
		case expr.OpInArray:
			if _, dup := p.inArrays[b.Field.Name]; !dup {
				p.inArrays[b.Field.Name] = b
			}
		}
	}
	return p
}

// candidateIndexes lists every index the pick may choose from, implicit
// indexes last so declaration order breaks ties.
func candidateIndexes(t *schema.Table) []*schema.Index {
	out := t.ScannableIndexes()
	out = append(out,
		&schema.Index{Name: schema.IndexByCreationTime, Columns: []string{host.FieldCreationTime}},
		&schema.Index{Name: schema.IndexByID, Columns: []string{host.FieldID}},
	)
	return out
}

// indexScore grades one candidate.
type indexScore struct {
	idx     *schema.Index
	eqLen   int
	orderOk bool
	rangeOk bool
	probeOk bool
}

func scoreIndex(idx *schema.Index, parts *whereParts, orderField string) indexScore {
	s := indexScore{idx: idx}
	for _, col := range idx.Columns {
		if _, ok := parts.eq[col]; !ok {
			break
		}
		s.eqLen++
	}
	if s.eqLen < len(idx.Columns) {
		next := idx.Columns[s.eqLen]
		if len(parts.ranges[next]) > 0 {
			s.rangeOk = true
		} else if parts.inArrays[next] != nil {
			s.probeOk = true
		}
	}
	if orderField == host.FieldCreationTime {
		// _creationTime is the implicit tail of every index.
		s.orderOk = s.eqLen == len(idx.Columns) || idx.Name == schema.IndexByCreationTime
	} else if s.eqLen < len(idx.Columns) {
		s.orderOk = idx.Columns[s.eqLen] == orderField
	}
	return s
}

// better ranks candidate a against the incumbent b. The equality prefix
// dominates. An explicitly requested ordering outranks range absorption;
// the default _creationTime ordering yields to it, since any index scan
// still produces a deterministic cursorable order.
func better(a, b indexScore, orderExplicit bool) bool {
	if a.eqLen != b.eqLen {
		return a.eqLen > b.eqLen
	}
	ar := a.rangeOk || a.probeOk
	br := b.rangeOk || b.probeOk
	if orderExplicit {
		if a.orderOk != b.orderOk {
			return a.orderOk
		}
		if ar != br {
			return ar
		}
		return false
	}
	if ar != br {
		return ar
	}
	if a.orderOk != b.orderOk {
		return a.orderOk
	}
	return false
}

// planQuery runs the index pick for one read or mutation-scan. cmd selects
// which RLS policies fold into the filter.
func (o *ORM) planQuery(t *schema.Table, where expr.Expr, orderField string, order host.SortOrder,
	pinned string, pinnedRng *host.IndexRange, cmd schema.PolicyCommand) (*queryPlan, error) {

	fold := o.readFilter(t, cmd)
	if fold.denyAll {
		return &queryPlan{table: t, denyAll: true}, nil
	}
	where = expr.And(where, fold.filter)

	orderExplicit := orderField != ""
	if orderField == "" {
		orderField = host.FieldCreationTime
		if order == "" {
			order = host.Desc
		}
	}
	if order == "" {
		order = host.Asc
	}
	if t.FindColumn(orderField) == nil {
		return nil, fmt.Errorf("orm: orderBy references unknown column %q on %q", orderField, t.Name)
	}

	plan := &queryPlan{table: t, order: order, orderField: orderField}

	if pinned != "" {
		idx := t.FindIndex(pinned)
		if idx == nil {
			return nil, fmt.Errorf("orm: index %q not found on table %q", pinned, t.Name)
		}
		plan.index = idx
		plan.rng = pinnedRng
		plan.residual = where
		plan.hostFilter, plan.exact = expr.ToHostFilter(where)
		return plan, nil
	}

	parts := classifyWhere(where)
	bestScore := indexScore{}
	var best *schema.Index
	for _, idx := range candidateIndexes(t) {
		s := scoreIndex(idx, parts, orderField)
		if best == nil || better(s, bestScore, orderExplicit) {
			best, bestScore = idx, s
		}
	}
	plan.index = best

	absorbed := make(map[expr.Expr]bool)
	rng := &host.IndexRange{}
	for i := 0; i < bestScore.eqLen; i++ {
		col := best.Columns[i]
		rng.Eq = append(rng.Eq, host.IndexEq{Column: col, Value: parts.eq[col]})
		absorbed[parts.eqSrc[col]] = true
	}
	switch {
	case bestScore.rangeOk:
		col := best.Columns[bestScore.eqLen]
		rng.RangeColumn = col
		for _, b := range parts.ranges[col] {
			absorbBound(rng, b)
			absorbed[b] = true
		}
	case bestScore.probeOk:
		col := best.Columns[bestScore.eqLen]
		in := parts.inArrays[col]
		for _, v := range in.Values {
			probe := host.IndexRange{Eq: append(append([]host.IndexEq{}, rng.Eq...), host.IndexEq{Column: col, Value: v})}
			plan.probes = append(plan.probes, probe)
		}
		absorbed[in] = true
	}
	if len(plan.probes) == 1 {
		// A one-element probe union is an ordinary single probe.
		plan.rng = &plan.probes[0]
		plan.probes = nil
	} else if plan.probes == nil && (len(rng.Eq) > 0 || rng.RangeColumn != "") {
		plan.rng = rng
	}

	var rest []expr.Expr
	for _, c := range parts.conjuncts {
		if !absorbed[c] {
			rest = append(rest, c)
		}
	}
	plan.residual = expr.And(rest...)
	plan.hostFilter, plan.exact = expr.ToHostFilter(plan.residual)

	plan.fullScan = bestScore.eqLen == 0 && !bestScore.rangeOk && !bestScore.probeOk

	if orderField != host.FieldCreationTime && !bestScore.orderOk {
		plan.memSort = true
	}
	return plan, nil
}

// absorbBound folds one order comparison into the index range bounds.
func absorbBound(rng *host.IndexRange, b *expr.Binary) {
	tighterLower := func(v any, incl bool) {
		if rng.Lower == nil || host.ValueCompare(v, rng.Lower.Value) > 0 {
			rng.Lower = &host.IndexBound{Value: v, Inclusive: incl}
		}
	}
	tighterUpper := func(v any, incl bool) {
		if rng.Upper == nil || host.ValueCompare(v, rng.Upper.Value) < 0 {
			rng.Upper = &host.IndexBound{Value: v, Inclusive: incl}
		}
	}
	switch b.Op {
	case expr.OpGt:
		tighterLower(b.Value, false)
	case expr.OpGte:
		tighterLower(b.Value, true)
	case expr.OpLt:
		tighterUpper(b.Value, false)
	case expr.OpLte:
		tighterUpper(b.Value, true)
	case expr.OpBetween:
		if len(b.Values) == 2 {
			tighterLower(b.Values[0], true)
			tighterUpper(b.Values[1], true)
		}
	}
}

// hostQuery builds the host read for a single-probe plan.
func (o *ORM) hostQuery(plan *queryPlan, rng *host.IndexRange) host.Query {
	q := o.store.Query(plan.table.Name).WithIndex(plan.index.Name, rng).Order(plan.order)
	if plan.residual != nil {
		q = q.Filter(plan.hostFilter)
	}
	return q
}

// passesResidual re-applies the full residual in memory when the host
// filter was a superset.
func (plan *queryPlan) passesResidual(doc host.Document) bool {
	if plan.exact || plan.residual == nil {
		return true
	}
	return expr.Evaluate(plan.residual, doc)
}
