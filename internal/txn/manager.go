package txn

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for manager timing knobs.
const (
	DefaultTxTimeout     = 30 * time.Second
	DefaultScanInterval  = 5 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// Summary describes a finalized transaction for observers.
type Summary struct {
	ID       string
	Priority int
	Started  time.Time
	Held     []string
}

// Manager owns the active-transaction registry and ties together the lock
// manager and the deadlock detector. All transactions are begun, committed,
// and rolled back through it.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Tx

	locks    *LockManager
	detector *Detector
	idGen    IDGenerator

	defaultTimeout time.Duration
	scanInterval   time.Duration
	sweepInterval  time.Duration
	lockPoll       time.Duration
	now            func() time.Time

	onCommitted  func(Summary)
	onRolledBack func(Summary)
	onDeadlock   func(cycle []string, victim string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator overrides the transaction id generator.
func WithIDGenerator(g IDGenerator) ManagerOption {
	return func(m *Manager) { m.idGen = g }
}

// WithDefaultTimeout sets the transaction timeout used by Begin.
func WithDefaultTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithScanInterval sets the periodic deadlock-scan interval.
func WithScanInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.scanInterval = d }
}

// WithSweepInterval sets the expired-transaction sweep interval.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithLockPollInterval sets the blocked-acquire poll interval.
func WithLockPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.lockPoll = d }
}

// WithNow overrides the wall clock (tests).
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCommitObserver installs a callback fired after each commit.
func WithCommitObserver(fn func(Summary)) ManagerOption {
	return func(m *Manager) { m.onCommitted = fn }
}

// WithRollbackObserver installs a callback fired after each rollback.
func WithRollbackObserver(fn func(Summary)) ManagerOption {
	return func(m *Manager) { m.onRolledBack = fn }
}

// WithDeadlockObserver installs a callback fired after each resolved
// deadlock, once the victim has been marked. Must not block.
func WithDeadlockObserver(fn func(cycle []string, victim string)) ManagerOption {
	return func(m *Manager) { m.onDeadlock = fn }
}

// NewManager creates a manager with its own detector and lock manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		active:         make(map[string]*Tx),
		idGen:          UUIDv7Generator{},
		defaultTimeout: DefaultTxTimeout,
		scanInterval:   DefaultScanInterval,
		sweepInterval:  DefaultSweepInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.detector = NewDetector(m)
	m.detector.SetDeadlockObserver(func(cycle []string, victim string) {
		m.mu.Lock()
		tx := m.active[victim]
		m.mu.Unlock()
		if tx != nil {
			tx.markVictim(cycle)
		}
		if m.onDeadlock != nil {
			m.onDeadlock(cycle, victim)
		}
	})
	m.locks = NewLockManager(m.detector, m.lockPoll, m.now)
	return m
}

// Detector exposes the deadlock detector (for observer wiring).
func (m *Manager) Detector() *Detector { return m.detector }

// Locks exposes the lock manager.
func (m *Manager) Locks() *LockManager { return m.locks }

// Lookup implements TxLookup for victim selection.
func (m *Manager) Lookup(id string) (int, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	if !ok {
		return 0, time.Time{}, false
	}
	return tx.priority, tx.startTime, true
}

// Begin starts a transaction with the given priority and the default
// timeout.
func (m *Manager) Begin(priority int) *Tx {
	return m.BeginWithTimeout(priority, m.defaultTimeout)
}

// BeginWithTimeout starts a transaction with an explicit timeout.
func (m *Manager) BeginWithTimeout(priority int, timeout time.Duration) *Tx {
	tx := newTx(m.idGen.Generate(), priority, timeout, m.now())

	m.mu.Lock()
	m.active[tx.id] = tx
	m.mu.Unlock()

	slog.Debug("transaction begun", "tx", tx.id, "priority", priority, "timeout", timeout)
	return tx
}

// Acquire obtains a resource lock for tx, waiting at most timeout.
func (m *Manager) Acquire(ctx context.Context, tx *Tx, resource string, timeout time.Duration) error {
	return m.locks.Acquire(ctx, tx, resource, timeout)
}

// Release releases one resource held by tx.
func (m *Manager) Release(tx *Tx, resource string) {
	m.locks.Release(tx.id, resource)
}

// Commit finalizes tx, releasing its locks and discarding rollback
// actions. Fails with FinalizedError if tx was already finalized (for
// example, force-rolled-back by the sweeper or deadlock resolution).
func (m *Manager) Commit(tx *Tx) error {
	if err := tx.commit(); err != nil {
		return err
	}
	held := m.finalize(tx)

	slog.Debug("transaction committed", "tx", tx.id)
	if m.onCommitted != nil {
		m.onCommitted(Summary{ID: tx.id, Priority: tx.priority, Started: tx.startTime, Held: held})
	}
	return nil
}

// Rollback finalizes tx by replaying its rollback actions in reverse
// order, then releases its locks. Idempotent: calls after the first return
// false and do nothing.
func (m *Manager) Rollback(tx *Tx) bool {
	if !tx.rollbackNow() {
		return false
	}
	held := m.finalize(tx)

	slog.Debug("transaction rolled back", "tx", tx.id)
	if m.onRolledBack != nil {
		m.onRolledBack(Summary{ID: tx.id, Priority: tx.priority, Started: tx.startTime, Held: held})
	}
	return true
}

// finalize removes tx from the registry and releases everything it held.
func (m *Manager) finalize(tx *Tx) []string {
	m.mu.Lock()
	delete(m.active, tx.id)
	m.mu.Unlock()

	m.detector.ClearWaiting(tx.id)
	return m.locks.ReleaseAll(tx.id)
}

// ActiveCount returns the number of unfinalized transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// SweepExpired force-rolls-back every transaction active beyond its
// timeout and returns their ids.
func (m *Manager) SweepExpired() []string {
	now := m.now()

	m.mu.Lock()
	expired := make([]*Tx, 0)
	for _, tx := range m.active {
		if tx.Expired(now) {
			expired = append(expired, tx)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, tx := range expired {
		slog.Warn("transaction expired, forcing rollback", "tx", tx.id)
		if m.Rollback(tx) {
			ids = append(ids, tx.id)
		}
	}
	return ids
}

// Start launches the periodic deadlock scan and the expired-transaction
// sweeper. Both stop when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go m.detector.RunPeriodic(ctx, m.scanInterval)
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpired()
			}
		}
	}()
}
