package orm

import (
	"fmt"

	"dorm/expr"
	"dorm/host"
	"dorm/schema"
)

// rlsFold is the read-side outcome of folding a table's policies: an
// extra filter to AND into the query, or an unconditional deny.
type rlsFold struct {
	filter  expr.Expr
	denyAll bool
}

// policyApplies reports whether the policy is in force for this caller:
// its command matches and, when role-gated, the resolver grants the role.
func (o *ORM) policyApplies(p *schema.Policy, cmd schema.PolicyCommand) bool {
	if !p.AppliesTo(cmd) {
		return false
	}
	if p.To == "" {
		return true
	}
	if o.roles == nil {
		return false
	}
	for _, role := range o.roles(o.rlsCtx) {
		if role == p.To {
			return true
		}
	}
	return false
}

// readFilter folds the using-expressions of every policy guarding cmd into
// one filter: permissive policies are OR'd, restrictive policies AND'd on
// top. Default deny applies when RLS is enabled and no policy matches.
func (o *ORM) readFilter(t *schema.Table, cmd schema.PolicyCommand) rlsFold {
	if o.skipRules || !t.RlsEnabled() {
		return rlsFold{}
	}
	var permissive, restrictive []expr.Expr
	matched := false
	unconditional := false
	for _, p := range t.Policies {
		if !o.policyApplies(p, cmd) {
			continue
		}
		matched = true
		var f expr.Expr
		if p.Using != nil {
			f = p.Using(o.rlsCtx, t)
		}
		if p.Mode() == schema.PolicyRestrictive {
			if f != nil {
				restrictive = append(restrictive, f)
			}
			continue
		}
		if f == nil {
			// A permissive policy without a using-expression allows every
			// row, so the permissive union is unconstrained.
			unconditional = true
			continue
		}
		permissive = append(permissive, f)
	}
	if !matched {
		return rlsFold{denyAll: true}
	}
	var folded expr.Expr
	if !unconditional {
		if len(permissive) == 0 {
			return rlsFold{denyAll: true}
		}
		folded = expr.Or(permissive...)
	}
	return rlsFold{filter: expr.And(append([]expr.Expr{folded}, restrictive...)...)}
}

// checkWrite runs the with-check expressions guarding cmd against a
// candidate row: every restrictive policy must pass and, when any
// permissive policy exists, at least one must pass.
func (o *ORM) checkWrite(t *schema.Table, cmd schema.PolicyCommand, row host.Document) error {
	if o.skipRules || !t.RlsEnabled() {
		return nil
	}
	sawAny := false
	sawPermissive := false
	permissivePassed := false
	for _, p := range t.Policies {
		if !o.policyApplies(p, cmd) {
			continue
		}
		sawAny = true
		var f expr.Expr
		if p.WithCheck != nil {
			f = p.WithCheck(o.rlsCtx, t)
		}
		passed := f == nil || expr.Evaluate(f, row)
		if p.Mode() == schema.PolicyRestrictive {
			if !passed {
				return fmt.Errorf("orm: RLS restrictive policy %q rejected the row on %q", p.Name, t.Name)
			}
			continue
		}
		sawPermissive = true
		if passed {
			permissivePassed = true
		}
	}
	if !sawAny {
		return fmt.Errorf("orm: RLS default deny: no policy permits %s on %q", cmd, t.Name)
	}
	if sawPermissive && !permissivePassed {
		return fmt.Errorf("orm: RLS: no permissive policy permits %s on %q", cmd, t.Name)
	}
	return nil
}
