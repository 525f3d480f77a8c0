package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"arbiter/internal/circuit"
)

// Listener observes engine lifecycle events. Callbacks run on the
// notifier's dispatch goroutine, never on the execution path, so a slow
// listener cannot stall the engine (events are dropped instead, see
// Notifier.Dropped).
type Listener interface {
	RuleRegistered(ruleID string)
	TransactionCommitted(txID string)
	TransactionRolledBack(txID string)
	DeadlockDetected(cycle []string, victim string)
	CircuitStateChanged(name string, from, to circuit.State)
	CacheHit(key CacheKey)
	CacheMiss(key CacheKey)
}

// BaseListener is a no-op Listener for embedding; override the methods you
// care about.
type BaseListener struct{}

func (BaseListener) RuleRegistered(string)                                    {}
func (BaseListener) TransactionCommitted(string)                              {}
func (BaseListener) TransactionRolledBack(string)                             {}
func (BaseListener) DeadlockDetected([]string, string)                        {}
func (BaseListener) CircuitStateChanged(string, circuit.State, circuit.State) {}
func (BaseListener) CacheHit(CacheKey)                                        {}
func (BaseListener) CacheMiss(CacheKey)                                       {}

const notifierBuffer = 256

// Notifier fans engine events out to registered listeners asynchronously.
// Emission is non-blocking: when the dispatch buffer is full the event is
// dropped and counted rather than stalling the caller.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener

	ch      chan func(Listener)
	dropped atomic.Int64

	// sendMu serializes emissions against Close so nothing sends on a
	// closed channel.
	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewNotifier creates a notifier and starts its dispatch goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		ch:   make(chan func(Listener), notifierBuffer),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

// Register adds a listener. Listeners registered after an event was emitted
// do not receive it.
func (n *Notifier) Register(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// Close stops dispatch after draining already-buffered events. Emissions
// after Close are dropped.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		n.sendMu.Lock()
		n.closed = true
		close(n.ch)
		n.sendMu.Unlock()
		<-n.done
	})
}

// Dropped returns the number of events discarded because the dispatch
// buffer was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Notifier) run() {
	defer close(n.done)
	for fn := range n.ch {
		n.mu.RLock()
		listeners := n.listeners
		n.mu.RUnlock()
		for _, l := range listeners {
			fn(l)
		}
	}
}

func (n *Notifier) emit(fn func(Listener)) {
	n.sendMu.RLock()
	defer n.sendMu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return
	}
	select {
	case n.ch <- fn:
	default:
		n.dropped.Add(1)
		slog.Warn("engine event dropped, notifier buffer full")
	}
}

// RuleRegistered publishes a rule registration.
func (n *Notifier) RuleRegistered(ruleID string) {
	n.emit(func(l Listener) { l.RuleRegistered(ruleID) })
}

// TransactionCommitted publishes a commit.
func (n *Notifier) TransactionCommitted(txID string) {
	n.emit(func(l Listener) { l.TransactionCommitted(txID) })
}

// TransactionRolledBack publishes a rollback.
func (n *Notifier) TransactionRolledBack(txID string) {
	n.emit(func(l Listener) { l.TransactionRolledBack(txID) })
}

// DeadlockDetected publishes a resolved deadlock.
func (n *Notifier) DeadlockDetected(cycle []string, victim string) {
	n.emit(func(l Listener) { l.DeadlockDetected(cycle, victim) })
}

// CircuitStateChanged publishes a breaker transition.
func (n *Notifier) CircuitStateChanged(name string, from, to circuit.State) {
	n.emit(func(l Listener) { l.CircuitStateChanged(name, from, to) })
}

// CacheHit publishes a validation-cache hit.
func (n *Notifier) CacheHit(key CacheKey) {
	n.emit(func(l Listener) { l.CacheHit(key) })
}

// CacheMiss publishes a validation-cache miss.
func (n *Notifier) CacheMiss(key CacheKey) {
	n.emit(func(l Listener) { l.CacheMiss(key) })
}
