package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// manualClock lets tests advance time explicitly.
type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Unix(1000, 0)}
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func failingOp() error { return errBoom }
func okOp() error      { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("rent", Config{})
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	clock := newManualClock()
	b := New("rent", Config{FailureThreshold: 3, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(failingOp), errBoom)
	}

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	// failureThreshold=3, recoveryTimeout=1000ms: three failures trip the
	// breaker; a call at t+500ms is rejected without running the op; a call
	// at t+1100ms transitions to half-open and runs it.
	clock := newManualClock()
	b := New("rent", Config{FailureThreshold: 3, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_ = b.Execute(failingOp)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(500 * time.Millisecond)
	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.False(t, invoked, "open breaker must not invoke the operation")

	clock.Advance(600 * time.Millisecond) // now at t+1100ms
	err = b.Execute(func() error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked, "half-open trial must invoke the operation")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newManualClock()
	b := New("rent", Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenRetryCount: 2},
		WithClock(clock.Now))

	require.ErrorIs(t, b.Execute(failingOp), errBoom)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(2 * time.Second)
	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, StateHalfOpen, b.State(), "one trial success of two keeps it half-open")

	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newManualClock()
	b := New("rent", Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	require.ErrorIs(t, b.Execute(failingOp), errBoom)
	clock.Advance(2 * time.Second)

	require.ErrorIs(t, b.Execute(failingOp), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Rejected again until the new recovery window elapses.
	err := b.Execute(okOp)
	assert.True(t, IsOpen(err))
}

func TestBreaker_ClosedSuccessResetsFailures(t *testing.T) {
	clock := newManualClock()
	b := New("rent", Config{FailureThreshold: 3, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	_ = b.Execute(failingOp)
	_ = b.Execute(failingOp)
	require.NoError(t, b.Execute(okOp))
	assert.Equal(t, 0, b.Counts().Failures)

	// Two more failures are below the threshold again.
	_ = b.Execute(failingOp)
	_ = b.Execute(failingOp)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeObserver(t *testing.T) {
	clock := newManualClock()
	type transition struct{ from, to State }
	var seen []transition

	b := New("rent", Config{FailureThreshold: 1, RecoveryTimeout: time.Second},
		WithClock(clock.Now),
		WithStateChangeObserver(func(_ string, from, to State) {
			seen = append(seen, transition{from, to})
		}))

	_ = b.Execute(failingOp) // closed -> open
	clock.Advance(2 * time.Second)
	_ = b.Execute(okOp) // open -> half_open -> closed

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, seen)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("rent", Config{FailureThreshold: 1})
	_ = b.Execute(failingOp)
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Counts().Failures)
}
