package txn

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often a blocked Acquire re-checks the resource.
const DefaultPollInterval = 10 * time.Millisecond

// LockManager grants and revokes exclusive resource locks per transaction.
// Resource ids are logical paths in the state graph, not memory addresses,
// which is what makes locking by id tractable.
type LockManager struct {
	mu     sync.Mutex
	owners map[string]string          // resource id -> owning tx id
	held   map[string]map[string]bool // tx id -> held resource ids

	detector     *Detector
	pollInterval time.Duration
	now          func() time.Time
}

// NewLockManager creates a lock manager wired to the given detector.
func NewLockManager(detector *Detector, pollInterval time.Duration, now func() time.Time) *LockManager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &LockManager{
		owners:       make(map[string]string),
		held:         make(map[string]map[string]bool),
		detector:     detector,
		pollInterval: pollInterval,
		now:          now,
	}
}

// Acquire obtains the resource for tx. If the resource is unlocked or
// already owned by tx it is granted immediately. Otherwise the call
// registers a wait-for edge and polls, bounded by timeout, until the
// resource frees, the caller is chosen as a deadlock victim
// (DeadlockError), the timeout elapses (LockTimeoutError), or ctx is done.
func (l *LockManager) Acquire(ctx context.Context, tx *Tx, resource string, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		if cycle, victim := tx.isVictim(); victim {
			l.detector.ClearWaiting(tx.id)
			return &DeadlockError{TxID: tx.id, Cycle: cycle}
		}

		l.mu.Lock()
		owner, locked := l.owners[resource]
		if !locked || owner == tx.id {
			l.owners[resource] = tx.id
			if l.held[tx.id] == nil {
				l.held[tx.id] = make(map[string]bool)
			}
			l.held[tx.id][resource] = true
			l.mu.Unlock()

			l.detector.ClearWaiting(tx.id)
			slog.Debug("lock acquired", "tx", tx.id, "resource", resource)
			return nil
		}
		l.mu.Unlock()

		l.detector.SetWaiting(tx.id, owner)
		if victim, cycle, found := l.detector.Check(tx.id); found && victim == tx.id {
			l.detector.ClearWaiting(tx.id)
			return &DeadlockError{TxID: tx.id, Cycle: cycle}
		}

		if l.now().After(deadline) {
			l.detector.ClearWaiting(tx.id)
			return &LockTimeoutError{TxID: tx.id, Resource: resource, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			l.detector.ClearWaiting(tx.id)
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Release clears ownership only if txID is the current owner. Releasing a
// lock you don't own is a no-op, not an error.
func (l *LockManager) Release(txID, resource string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owners[resource] != txID {
		return
	}
	delete(l.owners, resource)
	delete(l.held[txID], resource)
}

// ReleaseAll clears every lock held by txID and returns the released
// resource ids.
func (l *LockManager) ReleaseAll(txID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	resources := make([]string, 0, len(l.held[txID]))
	for r := range l.held[txID] {
		if l.owners[r] == txID {
			delete(l.owners, r)
			resources = append(resources, r)
		}
	}
	delete(l.held, txID)
	return resources
}

// Owner returns the owning transaction id of a resource, if locked.
func (l *LockManager) Owner(resource string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[resource]
	return owner, ok
}

// Held returns the resource ids held by txID.
func (l *LockManager) Held(txID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.held[txID]))
	for r := range l.held[txID] {
		out = append(out, r)
	}
	return out
}
