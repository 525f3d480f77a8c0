// Package rules implements the rule catalog: storage, applicability
// filtering, and deterministic priority ordering of RuleDefinitions.
package rules

import (
	"arbiter/internal/ir"
)

// Definition is a named, prioritized predicate+effect pair applicable to
// certain action types and phases.
//
// Validate and Execute are synchronous, pure computations over the provided
// context. Resources declares the logical resource ids the rule needs
// locked during execution; the orchestrator acquires them before Execute
// runs. A nil Resources means the rule touches nothing contended.
type Definition struct {
	ID       string
	Name     string
	Category string

	// Priority orders execution: higher runs (and wins conflicts) first.
	Priority int

	// Phases restricts applicability to these phases. Empty means any phase.
	Phases []ir.Phase

	// Actions restricts applicability to these action types. Empty means
	// the rule recognizes every action type.
	Actions []ir.ActionType

	// ActorTags, when non-empty, requires the actor to carry at least one
	// of the listed tags.
	ActorTags []ir.Tag

	// ConflictsWith lists rule ids this rule cannot coexist with. Checked
	// at registration time and again by the conflict resolver.
	ConflictsWith []string

	// DependsOn lists rule ids that must be part of the same execution plan
	// for this rule to run.
	DependsOn []string

	Resources func(*ir.ExecutionContext) []string
	Validate  func(*ir.ExecutionContext) ir.ValidationOutcome
	Execute   func(*ir.ExecutionContext) (ir.ExecutionOutcome, error)
}

// RecognizesAction reports whether the rule's action-type filter admits the
// given type, ignoring phase and tag filters.
func (d *Definition) RecognizesAction(t ir.ActionType) bool {
	if len(d.Actions) == 0 {
		return true
	}
	for _, a := range d.Actions {
		if a == t {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the rule applies to the action in the given
// context: phase membership, action-type membership, and actor-tag filter.
func (d *Definition) AppliesTo(ctx *ir.ExecutionContext) bool {
	if !d.RecognizesAction(ctx.Action.Type) {
		return false
	}
	if len(d.Phases) > 0 {
		found := false
		for _, p := range d.Phases {
			if p == ctx.Phase {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(d.ActorTags) > 0 && !ctx.Actor.HasAnyTag(d.ActorTags) {
		return false
	}
	return true
}

// ConflictsWithID reports whether the given rule id appears in this rule's
// conflict set.
func (d *Definition) ConflictsWithID(id string) bool {
	for _, c := range d.ConflictsWith {
		if c == id {
			return true
		}
	}
	return false
}
