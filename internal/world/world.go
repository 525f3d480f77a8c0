// Package world provides an in-memory state graph implementing the
// engine's Snapshot and StateApplier contracts. The scenario harness and
// the CLI run against it; hosts with real state stores implement the same
// interfaces themselves.
package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"arbiter/internal/ir"
)

// Actor is one mutable entity in the world.
type Actor struct {
	ID       string
	Tags     []ir.Tag
	Cell     string
	Money    int64
	Statuses map[string]bool
	Counters map[string]int64
}

// World is a mutable state graph addressed by dotted paths:
//
//	actors.<id>.money
//	actors.<id>.cell
//	actors.<id>.status.<name>
//	actors.<id>.counter.<name>
//	facts.<key>
//
// It implements ir.Snapshot (read side) and the engine's StateApplier
// (write side). Thread-safe; the engine serializes writes per path through
// locks, but nothing stops a host from reading concurrently.
type World struct {
	mu     sync.RWMutex
	phase  ir.Phase
	turn   int
	actors map[string]*Actor
	facts  map[string]any
}

// New creates an empty world in the given phase.
func New(phase ir.Phase, turn int) *World {
	return &World{
		phase:  phase,
		turn:   turn,
		actors: make(map[string]*Actor),
		facts:  make(map[string]any),
	}
}

// AddActor registers an actor. Replaces any actor with the same id.
func (w *World) AddActor(a Actor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a.Statuses == nil {
		a.Statuses = make(map[string]bool)
	}
	if a.Counters == nil {
		a.Counters = make(map[string]int64)
	}
	w.actors[a.ID] = &a
}

// SetFact sets a global fact addressable as "facts.<key>".
func (w *World) SetFact(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.facts[key] = value
}

// SetPhase moves the world to a new phase.
func (w *World) SetPhase(p ir.Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.phase = p
}

// AdvanceTurn increments the turn counter.
func (w *World) AdvanceTurn() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turn++
}

// Phase implements ir.Snapshot.
func (w *World) Phase() ir.Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.phase
}

// Turn implements ir.Snapshot.
func (w *World) Turn() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.turn
}

// Actor implements ir.Snapshot.
func (w *World) Actor(id string) (ir.ActorView, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.actors[id]
	if !ok {
		return ir.ActorView{}, false
	}
	return a.view(), true
}

// Actors implements ir.Snapshot. Sorted by id for determinism.
func (w *World) Actors() []ir.ActorView {
	w.mu.RLock()
	defer w.mu.RUnlock()

	views := make([]ir.ActorView, 0, len(w.actors))
	for _, a := range w.actors {
		views = append(views, a.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (a *Actor) view() ir.ActorView {
	return ir.ActorView{ID: a.ID, Tags: a.Tags, Cell: a.Cell}
}

// Fact implements ir.Snapshot: resolves a dotted path to its current value.
func (w *World) Fact(path string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.resolve(path)
}

// Money returns an actor's balance.
func (w *World) Money(actorID string) (int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.actors[actorID]
	if !ok {
		return 0, false
	}
	return a.Money, true
}

// resolve walks a dotted path. Caller holds at least the read lock.
func (w *World) resolve(path string) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "phase":
		return string(w.phase), true
	case "turn":
		return w.turn, true
	case "facts":
		if len(parts) < 2 {
			return nil, false
		}
		v, ok := w.facts[strings.Join(parts[1:], ".")]
		return v, ok
	case "actors":
		if len(parts) < 3 {
			return nil, false
		}
		a, ok := w.actors[parts[1]]
		if !ok {
			return nil, false
		}
		switch parts[2] {
		case "money":
			return a.Money, true
		case "cell":
			return a.Cell, true
		case "status":
			if len(parts) < 4 {
				return nil, false
			}
			return a.Statuses[parts[3]], true
		case "counter":
			if len(parts) < 4 {
				return nil, false
			}
			return a.Counters[parts[3]], true
		}
	}
	return nil, false
}

// Apply materializes a state change, writing the New side of its effect to
// the addressed path.
func (w *World) Apply(change ir.StateChange) error {
	return w.write(change, false)
}

// Revert restores the Old side of a change's effect.
func (w *World) Revert(change ir.StateChange) error {
	return w.write(change, true)
}

func (w *World) write(change ir.StateChange, revert bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	parts := strings.Split(change.Path, ".")
	if len(parts) < 3 || parts[0] != "actors" {
		return w.writeFact(change, parts, revert)
	}

	a, ok := w.actors[parts[1]]
	if !ok {
		return fmt.Errorf("world: no actor %q for path %q", parts[1], change.Path)
	}

	switch change.Kind() {
	case ir.EffectMoney:
		if revert {
			a.Money = change.Money.Old
		} else {
			a.Money = change.Money.New
		}
	case ir.EffectPosition:
		if revert {
			a.Cell = change.Position.Old
		} else {
			a.Cell = change.Position.New
		}
	case ir.EffectStatus:
		if revert {
			a.Statuses[change.Status.Name] = change.Status.Old
		} else {
			a.Statuses[change.Status.Name] = change.Status.New
		}
	case ir.EffectCounter:
		if revert {
			a.Counters[change.Counter.Name] = change.Counter.Old
		} else {
			a.Counters[change.Counter.Name] = change.Counter.New
		}
	default:
		return fmt.Errorf("world: change %q carries no effect", change.Path)
	}
	return nil
}

// writeFact handles non-actor paths. Only facts.* is writable; status and
// counter effects store their boolean/integer values directly.
func (w *World) writeFact(change ir.StateChange, parts []string, revert bool) error {
	if parts[0] != "facts" || len(parts) < 2 {
		return fmt.Errorf("world: unwritable path %q", change.Path)
	}
	key := strings.Join(parts[1:], ".")

	switch change.Kind() {
	case ir.EffectMoney:
		if revert {
			w.facts[key] = change.Money.Old
		} else {
			w.facts[key] = change.Money.New
		}
	case ir.EffectStatus:
		if revert {
			w.facts[key] = change.Status.Old
		} else {
			w.facts[key] = change.Status.New
		}
	case ir.EffectCounter:
		if revert {
			w.facts[key] = change.Counter.Old
		} else {
			w.facts[key] = change.Counter.New
		}
	case ir.EffectPosition:
		if revert {
			w.facts[key] = change.Position.Old
		} else {
			w.facts[key] = change.Position.New
		}
	default:
		return fmt.Errorf("world: change %q carries no effect", change.Path)
	}
	return nil
}
