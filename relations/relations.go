// Package relations extracts the bidirectional edge list from relation
// declarations. The edge list feeds the ORM's relation-aware sub-queries
// (orm.Related); the cascade executor does not read it and walks the
// schema's foreign keys instead.
package relations

import (
	"fmt"
	"sort"
	"strings"

	"dorm/host"
	"dorm/schema"
)

// Cardinality is the edge multiplicity seen from the source table.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// EdgeSpec declares one edge of a source table. From and To are ordered
// field lists on the source and target respectively; when both are empty
// the fields are inferred from id columns shared between the two tables.
type EdgeSpec struct {
	Target      string
	Cardinality Cardinality
	From        []string
	To          []string
	// Alias pairs this edge with the opposite edge carrying the same
	// alias to set Inverse.
	Alias string
}

// Edge is one resolved relation edge.
type Edge struct {
	Source       string
	Name         string
	Target       string
	Cardinality  Cardinality
	SourceFields []string
	TargetFields []string
	Inverse      *Edge
}

// String formats the edge for diagnostics.
func (e *Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s (%s) [%s -> %s]",
		e.Source, e.Name, e.Target, e.Cardinality,
		strings.Join(e.SourceFields, ","), strings.Join(e.TargetFields, ","))
}

// Build resolves the relation declarations against the schema into a flat
// edge list. It validates field ownership, pairs inverses, and rejects
// cycles in the table dependency graph.
func Build(s *schema.Schema, defs map[string]map[string]EdgeSpec) ([]*Edge, error) {
	sources := make([]string, 0, len(defs))
	for name := range defs {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	var edges []*Edge
	for _, source := range sources {
		st := s.Table(source)
		if st == nil {
			return nil, fmt.Errorf("relations: source table %q is not declared", source)
		}
		names := make([]string, 0, len(defs[source]))
		for n := range defs[source] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := defs[source][name]
			edge, err := resolveEdge(s, st, name, spec)
			if err != nil {
				return nil, err
			}
			edges = append(edges, edge)
		}
	}

	if err := pairInverses(edges, defs); err != nil {
		return nil, err
	}
	if err := rejectCycles(edges); err != nil {
		return nil, err
	}
	return edges, nil
}

func resolveEdge(s *schema.Schema, st *schema.Table, name string, spec EdgeSpec) (*Edge, error) {
	if spec.Cardinality != One && spec.Cardinality != Many {
		return nil, fmt.Errorf("relations: edge %q of %q: unknown cardinality %q", name, st.Name, spec.Cardinality)
	}
	if st.FindColumn(name) != nil && name != host.FieldID && name != host.FieldCreationTime {
		return nil, fmt.Errorf("relations: edge %q of %q: relation name collides with a column", name, st.Name)
	}
	tt := s.Table(spec.Target)
	if tt == nil {
		return nil, fmt.Errorf("relations: edge %q of %q references undefined table %q", name, st.Name, spec.Target)
	}

	from, to := spec.From, spec.To
	if len(from) == 0 && len(to) == 0 {
		var err error
		from, to, err = inferFields(st, tt, spec.Cardinality)
		if err != nil {
			return nil, fmt.Errorf("relations: edge %q of %q: %w", name, st.Name, err)
		}
	}
	if len(from) != len(to) || len(from) == 0 {
		return nil, fmt.Errorf("relations: edge %q of %q: \"from\" and \"to\" column counts differ", name, st.Name)
	}
	for _, f := range from {
		if st.FindColumn(f) == nil {
			return nil, fmt.Errorf("relations: edge %q: \"from\" columns must belong to table %q; %q does not", name, st.Name, f)
		}
	}
	for _, f := range to {
		if tt.FindColumn(f) == nil {
			return nil, fmt.Errorf("relations: edge %q: \"to\" columns must belong to table %q; %q does not", name, spec.Target, f)
		}
	}

	return &Edge{
		Source:       st.Name,
		Name:         name,
		Target:       spec.Target,
		Cardinality:  spec.Cardinality,
		SourceFields: from,
		TargetFields: to,
	}, nil
}

// inferFields derives the field pair from id columns: a one edge holds the
// reference on the source; a many edge expects it on the target.
func inferFields(st, tt *schema.Table, card Cardinality) (from, to []string, err error) {
	holder, other := st, tt
	if card == Many {
		holder, other = tt, st
	}
	var found *schema.Column
	for _, c := range holder.Columns {
		if c.Kind == schema.KindID && c.RefTable == other.Name {
			if found != nil {
				return nil, nil, fmt.Errorf("ambiguous id columns %q and %q on %q", found.Name, c.Name, holder.Name)
			}
			found = c
		}
	}
	if found == nil {
		return nil, nil, fmt.Errorf("no id column on %q referencing %q to infer fields from", holder.Name, other.Name)
	}
	if card == Many {
		return []string{host.FieldID}, []string{found.Name}, nil
	}
	return []string{found.Name}, []string{host.FieldID}, nil
}

// pairInverses links opposite edges: by matching alias when declared, else
// by the unique (source, target, fields) inverse.
func pairInverses(edges []*Edge, defs map[string]map[string]EdgeSpec) error {
	alias := func(e *Edge) string { return defs[e.Source][e.Name].Alias }

	for _, e := range edges {
		if e.Inverse != nil {
			continue
		}
		a := alias(e)
		var match *Edge
		for _, other := range edges {
			if other == e || other.Inverse != nil {
				continue
			}
			if other.Source != e.Target || other.Target != e.Source {
				continue
			}
			if a != "" {
				if alias(other) != a {
					continue
				}
			} else {
				if alias(other) != "" {
					continue
				}
				if !fieldsMirror(e, other) {
					continue
				}
			}
			if match != nil {
				return fmt.Errorf("relations: edge %q of %q has more than one inverse candidate", e.Name, e.Source)
			}
			match = other
		}
		if match != nil {
			e.Inverse = match
			match.Inverse = e
		} else if a != "" {
			return fmt.Errorf("relations: edge %q of %q: no opposite edge with alias %q", e.Name, e.Source, a)
		}
	}
	return nil
}

func fieldsMirror(a, b *Edge) bool {
	return stringsEqual(a.SourceFields, b.TargetFields) && stringsEqual(a.TargetFields, b.SourceFields)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rejectCycles walks the table dependency graph (a one edge makes the
// source depend on its target) and fails on any cycle. Self-edges fail
// immediately.
func rejectCycles(edges []*Edge) error {
	deps := make(map[string][]string)
	for _, e := range edges {
		if e.Cardinality != One {
			continue
		}
		if e.Source == e.Target {
			return fmt.Errorf("relations: Circular dependency: table %q references itself via edge %q", e.Source, e.Name)
		}
		deps[e.Source] = append(deps[e.Source], e.Target)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(string) error
	visit = func(table string) error {
		color[table] = gray
		stack = append(stack, table)
		for _, next := range deps[table] {
			switch color[next] {
			case gray:
				cycle := append(append([]string{}, stack...), next)
				return fmt.Errorf("relations: Circular dependency between tables: %s", strings.Join(cycle, " -> "))
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[table] = black
		return nil
	}

	tables := make([]string, 0, len(deps))
	for t := range deps {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		if color[t] == white {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}
