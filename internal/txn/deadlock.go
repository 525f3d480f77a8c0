package txn

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TxLookup resolves a transaction id to the facts victim selection needs.
// Implemented by the Manager's active-transaction registry.
type TxLookup interface {
	Lookup(id string) (priority int, start time.Time, ok bool)
}

// Detector maintains the wait-for graph between transactions and detects
// cycles. An edge waiter -> owner exists only while waiter has a lock
// acquisition pending on a resource owner holds; edges are cleared on every
// exit path of Acquire, preserving the no-outgoing-edges-unless-waiting
// invariant.
//
// Detection is edge-triggered (a DFS runs on every new edge) with a
// periodic full scan as a backstop in case an edge-triggered pass was
// missed.
//
// Thread-safe: all methods may be called concurrently.
type Detector struct {
	mu      sync.Mutex
	waitFor map[string]map[string]bool

	lookup TxLookup

	// onDeadlock observes each resolved deadlock: the cycle and the chosen
	// victim. Must not block.
	onDeadlock func(cycle []string, victim string)
}

// NewDetector creates a detector backed by the given transaction lookup.
func NewDetector(lookup TxLookup) *Detector {
	return &Detector{
		waitFor: make(map[string]map[string]bool),
		lookup:  lookup,
	}
}

// SetDeadlockObserver installs the deadlock notification callback.
func (d *Detector) SetDeadlockObserver(fn func(cycle []string, victim string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDeadlock = fn
}

// SetWaiting records that waiter is blocked on owner, replacing any
// previous outgoing edges (a transaction waits on at most one resource at a
// time).
func (d *Detector) SetWaiting(waiter, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitFor[waiter] = map[string]bool{owner: true}
}

// ClearWaiting removes all outgoing edges of waiter.
func (d *Detector) ClearWaiting(waiter string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waitFor, waiter)
}

// Waiting reports whether waiter currently has outgoing edges.
func (d *Detector) Waiting(waiter string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waitFor[waiter]) > 0
}

// Check runs a cycle search from the given transaction. If a cycle is
// found, the lowest-priority member (ties broken by earliest start time) is
// chosen as victim; the observer fires and the victim id is returned.
func (d *Detector) Check(from string) (victim string, cycle []string, found bool) {
	d.mu.Lock()
	cycle = d.findCycleFrom(from)
	if cycle == nil {
		d.mu.Unlock()
		return "", nil, false
	}
	victim = d.chooseVictim(cycle)
	observer := d.onDeadlock
	d.mu.Unlock()

	slog.Debug("deadlock detected",
		"cycle", cycle,
		"victim", victim,
	)
	if observer != nil {
		observer(cycle, victim)
	}
	return victim, cycle, true
}

// Scan searches for a cycle anywhere in the graph. Used by the periodic
// backstop pass.
func (d *Detector) Scan() (victim string, cycle []string, found bool) {
	d.mu.Lock()
	starts := make([]string, 0, len(d.waitFor))
	for id := range d.waitFor {
		starts = append(starts, id)
	}
	d.mu.Unlock()

	// Deterministic scan order keeps the backstop reproducible in tests.
	sort.Strings(starts)
	for _, id := range starts {
		if v, c, ok := d.Check(id); ok {
			return v, c, true
		}
	}
	return "", nil, false
}

// RunPeriodic scans on the given interval until ctx is done. Victims found
// by the backstop are resolved through the same observer path as
// edge-triggered detection.
func (d *Detector) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Scan()
		}
	}
}

// findCycleFrom runs a depth-first search following wait-for edges from the
// given node. Returns the cycle as a sequence of transaction ids where each
// waits on the next and the last waits on the first, or nil.
// Caller holds d.mu.
func (d *Detector) findCycleFrom(from string) []string {
	var path []string
	onPath := make(map[string]int)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		if idx, ok := onPath[node]; ok {
			return append([]string(nil), path[idx:]...)
		}
		onPath[node] = len(path)
		path = append(path, node)

		for next := range d.waitFor[node] {
			if cycle := dfs(next); cycle != nil {
				return cycle
			}
		}

		delete(onPath, node)
		path = path[:len(path)-1]
		return nil
	}

	return dfs(from)
}

// chooseVictim picks the lowest-priority transaction in the cycle, ties
// broken by earliest start time, then by id for full determinism.
// Caller holds d.mu.
func (d *Detector) chooseVictim(cycle []string) string {
	victim := cycle[0]
	vPrio, vStart, _ := d.lookup.Lookup(victim)

	for _, id := range cycle[1:] {
		prio, start, ok := d.lookup.Lookup(id)
		if !ok {
			continue
		}
		switch {
		case prio < vPrio:
			victim, vPrio, vStart = id, prio, start
		case prio == vPrio && start.Before(vStart):
			victim, vPrio, vStart = id, prio, start
		case prio == vPrio && start.Equal(vStart) && id < victim:
			victim, vPrio, vStart = id, prio, start
		}
	}
	return victim
}
