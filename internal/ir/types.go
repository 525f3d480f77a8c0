package ir

import "time"

// Phase identifies a stage of the host's turn cycle (e.g. "roll", "move",
// "trade"). Phases are host-defined; the engine only compares them.
type Phase string

// ActionType classifies an external request (e.g. "move", "buy_property").
type ActionType string

// Tag is an arbitrary actor classification used by rule applicability
// filters (the host may use it for zodiac signs, factions, roles, ...).
type Tag string

// Action is an external request to change state, tagged with a type and an
// acting entity. Payload is opaque to the engine and passed unmodified into
// rule callbacks.
type Action struct {
	Type      ActionType     `json:"type"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Priority seeds the transaction priority when priority execution is
	// enabled. Zero means "use the orchestrator default".
	Priority int `json:"priority,omitempty"`
}

// ActorView is the engine's derived, read-only view of an acting entity.
type ActorView struct {
	ID   string `json:"id"`
	Tags []Tag  `json:"tags,omitempty"`

	// Cell is the logical location the actor currently occupies.
	Cell string `json:"cell,omitempty"`
}

// HasTag reports whether the actor carries the given tag.
func (a ActorView) HasTag(t Tag) bool {
	for _, have := range a.Tags {
		if have == t {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the actor carries at least one of the tags.
// An empty filter matches nothing (callers treat nil filters as "no filter"
// before reaching this point).
func (a ActorView) HasAnyTag(tags []Tag) bool {
	for _, t := range tags {
		if a.HasTag(t) {
			return true
		}
	}
	return false
}

// Snapshot is a read-only handle over host state. The engine passes it
// unmodified into rule callbacks and never mutates it; rules express all
// changes as StateChange records.
//
// Fact resolves a dotted path in the host's state graph (the same address
// space StateChange.Path uses) and is what declarative rule conditions
// evaluate against.
type Snapshot interface {
	Phase() Phase
	Turn() int
	Actor(id string) (ActorView, bool)
	Actors() []ActorView
	Fact(path string) (any, bool)
}

// ExecutionContext is the immutable view built per engine call: the acting
// entity, the action, the state snapshot, and derived environment facts.
type ExecutionContext struct {
	Action   Action
	Actor    ActorView
	Snapshot Snapshot

	// Derived facts, captured once at context construction so every rule in
	// one execution observes the same environment.
	Phase  Phase
	Turn   int
	Cell   string
	Others []ActorView
}

// NewExecutionContext derives an execution context from an action and a
// snapshot. Returns ok=false when the acting entity is absent from the
// snapshot (the UnknownActor case).
func NewExecutionContext(action Action, snap Snapshot) (*ExecutionContext, bool) {
	actor, ok := snap.Actor(action.ActorID)
	if !ok {
		return nil, false
	}

	var others []ActorView
	for _, a := range snap.Actors() {
		if a.ID != actor.ID {
			others = append(others, a)
		}
	}

	return &ExecutionContext{
		Action:   action,
		Actor:    actor,
		Snapshot: snap,
		Phase:    snap.Phase(),
		Turn:     snap.Turn(),
		Cell:     actor.Cell,
		Others:   others,
	}, true
}

// Fact resolves a dotted path against the underlying snapshot.
func (c *ExecutionContext) Fact(path string) (any, bool) {
	return c.Snapshot.Fact(path)
}

// ValidationOutcome is the result of running a rule's validator (or the
// aggregate of several). Validation failures are expected, recoverable
// outcomes returned as data, never errors.
type ValidationOutcome struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`

	// RuleID names the vetoing rule when Valid is false and a specific rule
	// rejected the action.
	RuleID string `json:"rule_id,omitempty"`

	// Suggested lists alternative action types the caller could try.
	Suggested []ActionType `json:"suggested,omitempty"`
}

// Allow is the canonical "valid" outcome.
func Allow() ValidationOutcome {
	return ValidationOutcome{Valid: true}
}

// Veto builds a failed outcome attributed to a rule.
func Veto(ruleID, reason string) ValidationOutcome {
	return ValidationOutcome{Valid: false, RuleID: ruleID, Reason: reason}
}

// ExecutionOutcome is what a single rule's executor returns. A failed
// outcome stops the execution plan and (by default) triggers rollback.
type ExecutionOutcome struct {
	Success   bool
	Message   string
	Changes   []StateChange
	Events    []string
	NextPhase Phase
}
