package orm

import (
	"fmt"
	"strings"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// Explain describes how a query would execute: the picked index, its
// range or probe constraints, and the residual filter.
type Explain struct {
	Table      string
	Index      string
	EqColumns  []string
	RangeCol   string
	Probes     int
	Residual   bool
	ExactLower bool
	FullScan   bool
	MemSort    bool
	Order      host.SortOrder
	OrderField string
}

// String renders the plan for human consumption.
func (e *Explain) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "table %s: index %s", e.Table, e.Index)
	if len(e.EqColumns) > 0 {
		fmt.Fprintf(&sb, " eq(%s)", strings.Join(e.EqColumns, ","))
	}
	if e.RangeCol != "" {
		fmt.Fprintf(&sb, " range(%s)", e.RangeCol)
	}
	if e.Probes > 1 {
		fmt.Fprintf(&sb, " multi-probe(%d)", e.Probes)
	}
	fmt.Fprintf(&sb, " order %s %s", e.OrderField, e.Order)
	if e.Residual {
		if e.ExactLower {
			sb.WriteString(" residual(host)")
		} else {
			sb.WriteString(" residual(host+memory)")
		}
	}
	if e.FullScan {
		sb.WriteString(" FULL-SCAN")
	}
	if e.MemSort {
		sb.WriteString(" MEMORY-SORT")
	}
	return sb.String()
}

// ExplainQuery plans a read without executing it.
func (o *ORM) ExplainQuery(table string, where expr.Expr, orderField string, order host.SortOrder) (*Explain, error) {
	t, err := o.table(table)
	if err != nil {
		return nil, err
	}
	plan, err := o.planQuery(t, where, orderField, order, "", nil, schema.PolicySelect)
	if err != nil {
		return nil, err
	}
	out := &Explain{
		Table:      table,
		Order:      plan.order,
		OrderField: plan.orderField,
		FullScan:   plan.fullScan,
		MemSort:    plan.memSort,
		Probes:     len(plan.probes),
		Residual:   plan.residual != nil,
		ExactLower: plan.exact,
	}
	if plan.denyAll {
		out.Index = "(deny-all)"
		return out, nil
	}
	out.Index = plan.index.Name
	if plan.rng != nil {
		for _, eq := range plan.rng.Eq {
			out.EqColumns = append(out.EqColumns, eq.Column)
		}
		out.RangeCol = plan.rng.RangeColumn
	}
	if len(plan.probes) > 0 {
		for _, eq := range plan.probes[0].Eq[:len(plan.probes[0].Eq)-1] {
			out.EqColumns = append(out.EqColumns, eq.Column)
		}
	}
	return out, nil
}
