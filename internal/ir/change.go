package ir

import (
	"fmt"
	"time"
)

// EffectKind discriminates the closed set of state-change effects. Each
// StateChange carries exactly one effect payload; consumers can match
// exhaustively on Kind instead of inspecting dynamic values.
type EffectKind string

const (
	EffectMoney    EffectKind = "money"
	EffectPosition EffectKind = "position"
	EffectStatus   EffectKind = "status"
	EffectCounter  EffectKind = "counter"
)

// MoneyDelta changes a numeric balance.
type MoneyDelta struct {
	Old int64 `json:"old"`
	New int64 `json:"new"`
}

// PositionDelta moves an actor between cells.
type PositionDelta struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// StatusDelta toggles a named status effect, optionally expiring at a turn.
type StatusDelta struct {
	Name        string `json:"name"`
	Old         bool   `json:"old"`
	New         bool   `json:"new"`
	ExpiresTurn int    `json:"expires_turn,omitempty"`
}

// CounterDelta changes a named integer counter (turn counts, doubles rolled,
// houses built, ...).
type CounterDelta struct {
	Name string `json:"name"`
	Old  int64  `json:"old"`
	New  int64  `json:"new"`
}

// StateChange is one addressable mutation of the state graph. Path is a
// dotted location (e.g. "actors.p1.money"); the pre-image lives in the
// effect payload so rollback can restore it.
//
// The engine does not deduplicate changes: two rules writing the same path
// in one execution compose last-write-wins, and the orchestrator flags the
// overlap with a warning on the result.
type StateChange struct {
	Path       string `json:"path"`
	Reason     string `json:"reason"`
	Reversible bool   `json:"reversible"`

	// Exactly one of the following is non-nil.
	Money    *MoneyDelta    `json:"money,omitempty"`
	Position *PositionDelta `json:"position,omitempty"`
	Status   *StatusDelta   `json:"status,omitempty"`
	Counter  *CounterDelta  `json:"counter,omitempty"`
}

// MoneyChange builds a reversible money effect.
func MoneyChange(path string, old, new int64, reason string) StateChange {
	return StateChange{
		Path:       path,
		Reason:     reason,
		Reversible: true,
		Money:      &MoneyDelta{Old: old, New: new},
	}
}

// PositionChange builds a reversible position effect.
func PositionChange(path, old, new, reason string) StateChange {
	return StateChange{
		Path:       path,
		Reason:     reason,
		Reversible: true,
		Position:   &PositionDelta{Old: old, New: new},
	}
}

// StatusChange builds a reversible status effect.
func StatusChange(path, name string, old, new bool, reason string) StateChange {
	return StateChange{
		Path:       path,
		Reason:     reason,
		Reversible: true,
		Status:     &StatusDelta{Name: name, Old: old, New: new},
	}
}

// CounterChange builds a reversible counter effect.
func CounterChange(path, name string, old, new int64, reason string) StateChange {
	return StateChange{
		Path:       path,
		Reason:     reason,
		Reversible: true,
		Counter:    &CounterDelta{Name: name, Old: old, New: new},
	}
}

// Kind returns the effect discriminator, or "" for a malformed change.
func (c StateChange) Kind() EffectKind {
	switch {
	case c.Money != nil:
		return EffectMoney
	case c.Position != nil:
		return EffectPosition
	case c.Status != nil:
		return EffectStatus
	case c.Counter != nil:
		return EffectCounter
	}
	return ""
}

// Validate checks the exactly-one-effect invariant and that Path is set.
func (c StateChange) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("state change missing path")
	}
	n := 0
	for _, set := range []bool{c.Money != nil, c.Position != nil, c.Status != nil, c.Counter != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("state change %q must carry exactly one effect, has %d", c.Path, n)
	}
	return nil
}

// Inverse returns the change that undoes this one. Irreversible changes
// return ok=false.
func (c StateChange) Inverse() (StateChange, bool) {
	if !c.Reversible {
		return StateChange{}, false
	}
	inv := StateChange{
		Path:       c.Path,
		Reason:     "rollback: " + c.Reason,
		Reversible: true,
	}
	switch c.Kind() {
	case EffectMoney:
		inv.Money = &MoneyDelta{Old: c.Money.New, New: c.Money.Old}
	case EffectPosition:
		inv.Position = &PositionDelta{Old: c.Position.New, New: c.Position.Old}
	case EffectStatus:
		inv.Status = &StatusDelta{Name: c.Status.Name, Old: c.Status.New, New: c.Status.Old}
	case EffectCounter:
		inv.Counter = &CounterDelta{Name: c.Counter.Name, Old: c.Counter.New, New: c.Counter.Old}
	default:
		return StateChange{}, false
	}
	return inv, true
}

// ExecutionResult is the aggregate outcome of one orchestrated execution,
// consumed by external collaborators (UI, event bus, persistence).
type ExecutionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	Changes []StateChange `json:"changes,omitempty"`

	ValidationsPassed []string `json:"validations_passed,omitempty"`
	ValidationsFailed []string `json:"validations_failed,omitempty"`

	// Events carries opaque tags for external event systems.
	Events []string `json:"events,omitempty"`

	// NextPhase, when non-empty, is the phase transition requested by the
	// last rule that supplied one (later rules override earlier ones).
	NextPhase Phase `json:"next_phase,omitempty"`

	// Warnings flags non-fatal anomalies: same-path overwrites, rules
	// dropped for unmet dependencies.
	Warnings []string `json:"warnings,omitempty"`

	// TxID identifies the transaction this execution ran under, empty when
	// transaction mode is disabled.
	TxID string `json:"tx_id,omitempty"`

	Elapsed time.Duration `json:"-"`
}

// CanonicalMap converts the result to the plain-value shape accepted by
// MarshalCanonical. Elapsed and the timestamp are excluded: golden
// comparison must be byte-stable across runs.
func (r *ExecutionResult) CanonicalMap() map[string]any {
	m := map[string]any{
		"success": r.Success,
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if len(r.Changes) > 0 {
		changes := make([]any, len(r.Changes))
		for i, c := range r.Changes {
			changes[i] = c.canonicalMap()
		}
		m["changes"] = changes
	}
	if len(r.ValidationsPassed) > 0 {
		m["validations_passed"] = strs(r.ValidationsPassed)
	}
	if len(r.ValidationsFailed) > 0 {
		m["validations_failed"] = strs(r.ValidationsFailed)
	}
	if len(r.Events) > 0 {
		m["events"] = strs(r.Events)
	}
	if r.NextPhase != "" {
		m["next_phase"] = string(r.NextPhase)
	}
	if len(r.Warnings) > 0 {
		m["warnings"] = strs(r.Warnings)
	}
	return m
}

func (c StateChange) canonicalMap() map[string]any {
	m := map[string]any{
		"path":       c.Path,
		"reason":     c.Reason,
		"reversible": c.Reversible,
		"kind":       string(c.Kind()),
	}
	switch c.Kind() {
	case EffectMoney:
		m["old"] = c.Money.Old
		m["new"] = c.Money.New
	case EffectPosition:
		m["old"] = c.Position.Old
		m["new"] = c.Position.New
	case EffectStatus:
		m["name"] = c.Status.Name
		m["old"] = c.Status.Old
		m["new"] = c.Status.New
	case EffectCounter:
		m["name"] = c.Counter.Name
		m["old"] = c.Counter.Old
		m["new"] = c.Counter.New
	}
	return m
}

func strs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
