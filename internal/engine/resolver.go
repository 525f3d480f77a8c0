package engine

import (
	"fmt"

	"arbiter/internal/pqueue"
	"arbiter/internal/rules"
)

// Resolver turns the set of applicable rules into an execution plan:
// priority-ordered, conflict-pruned, dependency-checked.
//
// Pruning is asymmetric on purpose: when two rules conflict, the one ranked
// higher (priority, then registration order) survives and the later one is
// suppressed with a warning. A rule whose DependsOn names a rule absent
// from the final plan is dropped, and dropping it can cascade to its own
// dependents, so the dependency pass iterates to a fixpoint.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Plan orders and prunes the given rules. Input order is the catalog's
// (priority desc, registration order); the priority queue re-derives that
// ordering so plans stay deterministic even if a caller hands rules over
// unsorted.
func (r *Resolver) Plan(defs []*rules.Definition) (plan []*rules.Definition, warnings []string) {
	q := pqueue.New[*rules.Definition]()
	for _, d := range defs {
		q.Enqueue(d, d.Priority)
	}

	selected := make([]*rules.Definition, 0, len(defs))
	for {
		d, ok := q.Dequeue()
		if !ok {
			break
		}

		suppressedBy := ""
		for _, s := range selected {
			if s.ConflictsWithID(d.ID) || d.ConflictsWithID(s.ID) {
				suppressedBy = s.ID
				break
			}
		}
		if suppressedBy != "" {
			warnings = append(warnings,
				fmt.Sprintf("rule %q suppressed: conflicts with higher-priority rule %q", d.ID, suppressedBy))
			continue
		}
		selected = append(selected, d)
	}

	// Dependency fixpoint: removing a rule can starve its dependents.
	for {
		inPlan := make(map[string]bool, len(selected))
		for _, d := range selected {
			inPlan[d.ID] = true
		}

		kept := selected[:0]
		changed := false
		for _, d := range selected {
			missing := ""
			for _, dep := range d.DependsOn {
				if !inPlan[dep] {
					missing = dep
					break
				}
			}
			if missing != "" {
				warnings = append(warnings,
					fmt.Sprintf("rule %q dropped: depends on %q which is not in the execution plan", d.ID, missing))
				changed = true
				continue
			}
			kept = append(kept, d)
		}
		selected = kept
		if !changed {
			break
		}
	}

	return selected, warnings
}
