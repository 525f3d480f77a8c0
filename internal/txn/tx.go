package txn

import (
	"log/slog"
	"sync"
	"time"
)

// State is the transaction lifecycle state.
// Transitions: active -> committed or active -> rolled_back, terminal and
// mutually exclusive.
type State string

const (
	StateActive     State = "active"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// RollbackAction is a compensation closure capturing a pre-image. Actions
// replay in reverse order of registration.
type RollbackAction struct {
	Name string
	Undo func() error
}

// Tx is the unit of atomic lock-scoped execution for one action across all
// applicable rules. Created at the start of one orchestrated execution and
// finalized at commit or rollback; it never outlives the execute call.
//
// Thread-safe: the sweeper and the deadlock detector touch transactions
// from other goroutines.
type Tx struct {
	id        string
	priority  int
	startTime time.Time
	timeout   time.Duration

	mu          sync.Mutex
	state       State
	rollback    []RollbackAction
	victim      bool
	victimCycle []string
}

func newTx(id string, priority int, timeout time.Duration, now time.Time) *Tx {
	return &Tx{
		id:        id,
		priority:  priority,
		startTime: now,
		timeout:   timeout,
		state:     StateActive,
	}
}

// ID returns the transaction id.
func (t *Tx) ID() string { return t.id }

// Priority returns the transaction priority. Lower priorities lose deadlock
// arbitration.
func (t *Tx) Priority() int { return t.priority }

// StartTime returns when the transaction began.
func (t *Tx) StartTime() time.Time { return t.startTime }

// State returns the current lifecycle state.
func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Active reports whether the transaction has not been finalized.
func (t *Tx) Active() bool {
	return t.State() == StateActive
}

// Expired reports whether the transaction has been active beyond its
// timeout as of now.
func (t *Tx) Expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateActive && t.timeout > 0 && now.Sub(t.startTime) > t.timeout
}

// RegisterRollback appends a compensation action. Registrations after
// finalization are dropped (the transaction can no longer undo anything).
func (t *Tx) RegisterRollback(name string, undo func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return
	}
	t.rollback = append(t.rollback, RollbackAction{Name: name, Undo: undo})
}

// RollbackDepth returns the number of registered compensation actions.
func (t *Tx) RollbackDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rollback)
}

// markVictim flags the transaction as the chosen deadlock victim. Its
// pending Acquire observes the flag and fails with DeadlockError.
func (t *Tx) markVictim(cycle []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.victim = true
	t.victimCycle = append([]string(nil), cycle...)
}

func (t *Tx) isVictim() ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.victimCycle, t.victim
}

// commit marks the transaction committed and discards rollback actions.
// Fails with FinalizedError if already committed or rolled back.
func (t *Tx) commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return &FinalizedError{TxID: t.id, State: t.state}
	}
	t.state = StateCommitted
	t.rollback = nil
	return nil
}

// rollbackNow replays rollback actions in reverse order of registration.
// Idempotent: calls after the first are no-ops (reported by the bool).
// Each action failure is logged but does not stop remaining actions;
// rollback is best-effort cleanup and never re-throws.
func (t *Tx) rollbackNow() bool {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return false
	}
	t.state = StateRolledBack
	actions := t.rollback
	t.rollback = nil
	t.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if err := a.Undo(); err != nil {
			slog.Error("rollback action failed",
				"tx", t.id,
				"action", a.Name,
				"error", err,
			)
		}
	}
	return true
}
