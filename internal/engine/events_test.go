package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/circuit"
)

// recordingListener captures events for assertions. Safe for concurrent
// use because the notifier dispatches from one goroutine but tests read
// after Close.
type recordingListener struct {
	BaseListener

	mu          sync.Mutex
	registered  []string
	committed   []string
	rolledBack  []string
	deadlocks   []string
	transitions []string
	hits        int
	misses      int
}

func (r *recordingListener) RuleRegistered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, id)
}

func (r *recordingListener) TransactionCommitted(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, txID)
}

func (r *recordingListener) TransactionRolledBack(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolledBack = append(r.rolledBack, txID)
}

func (r *recordingListener) DeadlockDetected(cycle []string, victim string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlocks = append(r.deadlocks, victim)
}

func (r *recordingListener) CircuitStateChanged(name string, from, to circuit.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, name+":"+string(from)+"->"+string(to))
}

func (r *recordingListener) CacheHit(CacheKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

func (r *recordingListener) CacheMiss(CacheKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func TestNotifier_DispatchesToAllListeners(t *testing.T) {
	n := NewNotifier()
	a := &recordingListener{}
	b := &recordingListener{}
	n.Register(a)
	n.Register(b)

	n.RuleRegistered("movement")
	n.TransactionCommitted("t1")
	n.TransactionRolledBack("t2")
	n.DeadlockDetected([]string{"t1", "t2"}, "t2")
	n.CircuitStateChanged("movement", circuit.StateClosed, circuit.StateOpen)
	n.Close()

	for _, l := range []*recordingListener{a, b} {
		assert.Equal(t, []string{"movement"}, l.registered)
		assert.Equal(t, []string{"t1"}, l.committed)
		assert.Equal(t, []string{"t2"}, l.rolledBack)
		assert.Equal(t, []string{"t2"}, l.deadlocks)
		assert.Equal(t, []string{"movement:closed->open"}, l.transitions)
	}
}

func TestNotifier_CloseDrainsBufferedEvents(t *testing.T) {
	n := NewNotifier()
	l := &recordingListener{}
	n.Register(l)

	for i := 0; i < 100; i++ {
		n.TransactionCommitted("tx")
	}
	n.Close()

	require.Len(t, l.committed, 100)
	assert.Equal(t, int64(0), n.Dropped())
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	n := NewNotifier()
	n.Close()
	n.Close()
}

func TestBaseListener_SatisfiesInterface(t *testing.T) {
	var _ Listener = BaseListener{}
}
