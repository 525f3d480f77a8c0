package txn

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LockTimeoutError is returned when a lock acquisition exceeds its wait
// budget without the resource freeing up.
type LockTimeoutError struct {
	TxID     string
	Resource string
	Timeout  time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("tx %s: lock %q not acquired within %s", e.TxID, e.Resource, e.Timeout)
}

// DeadlockError is returned from the pending Acquire of the transaction
// chosen as the deadlock victim. The winning transaction is never notified;
// resolution is silent on the winning path.
type DeadlockError struct {
	TxID  string
	Cycle []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("tx %s: chosen as deadlock victim (cycle %s)", e.TxID, strings.Join(e.Cycle, " -> "))
}

// FinalizedError is returned when finalizing a transaction that was already
// committed or rolled back.
type FinalizedError struct {
	TxID  string
	State State
}

func (e *FinalizedError) Error() string {
	return fmt.Sprintf("tx %s already finalized (%s)", e.TxID, e.State)
}

// IsLockTimeout reports whether err is a lock-wait timeout.
// Uses errors.As to handle wrapped errors.
func IsLockTimeout(err error) bool {
	var le *LockTimeoutError
	return errors.As(err, &le)
}

// IsDeadlockVictim reports whether err marks the caller as a deadlock
// victim. Callers use this to decide whether a retry is worthwhile
// (deadlock victims usually are; timeouts may not be).
func IsDeadlockVictim(err error) bool {
	var de *DeadlockError
	return errors.As(err, &de)
}

// IsFinalized reports whether err is a double-finalization error.
func IsFinalized(err error) bool {
	var fe *FinalizedError
	return errors.As(err, &fe)
}
