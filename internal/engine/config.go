package engine

import (
	"time"

	"arbiter/internal/circuit"
	"arbiter/internal/txn"
)

// Config is the orchestrator's policy surface. Zero value is not usable;
// start from DefaultConfig and override.
type Config struct {
	// StrictValidation makes the validator short-circuit on the first
	// failing rule. When false, every applicable validator runs and all
	// failures are collected into one outcome.
	StrictValidation bool

	// AllowPartialExecution commits the state changes applied so far even
	// if a later rule fails. Ignored while RollbackOnFailure is set:
	// rollback wins when both are enabled.
	AllowPartialExecution bool

	// RollbackOnFailure rolls the transaction back when any rule fails.
	RollbackOnFailure bool

	// MaxExecutionTime is the wall-clock budget for one Execute call.
	// Exceeding it aborts the remaining plan and rolls back. Zero disables
	// the budget.
	MaxExecutionTime time.Duration

	// TransactionMode engages locking. Disabling it is valid for
	// single-threaded callers: no transaction is begun and no locks are
	// taken.
	TransactionMode bool

	// DeadlockDetection enables the periodic backstop scan. Edge-triggered
	// detection inside lock acquisition is always on while TransactionMode
	// is set.
	DeadlockDetection bool

	// PriorityExecution seeds the transaction priority from the action's
	// Priority field. When off, every transaction uses DefaultPriority.
	PriorityExecution bool

	// CircuitBreakerEnabled guards each rule's executor with a per-rule
	// breaker.
	CircuitBreakerEnabled bool

	// DefaultPriority is the transaction priority used when the action
	// carries none or PriorityExecution is off.
	DefaultPriority int

	// CacheTTL bounds how long a validation outcome stays reusable.
	CacheTTL time.Duration

	// LockWaitTimeout bounds each individual lock acquisition, independent
	// of MaxExecutionTime.
	LockWaitTimeout time.Duration

	// LockPollInterval is how often a blocked acquisition re-checks the
	// resource.
	LockPollInterval time.Duration

	// DeadlockScanInterval is the backstop scan period.
	DeadlockScanInterval time.Duration

	// TxTimeout is how long a transaction may stay active before the
	// sweeper force-rolls it back.
	TxTimeout time.Duration

	// Breaker tunes the per-rule circuit breakers.
	Breaker circuit.Config
}

// DefaultConfig returns the reference policy: strict validation, rollback
// on failure, locking and deadlock detection on, breakers off.
func DefaultConfig() Config {
	return Config{
		StrictValidation:      true,
		AllowPartialExecution: false,
		RollbackOnFailure:     true,
		MaxExecutionTime:      5 * time.Second,
		TransactionMode:       true,
		DeadlockDetection:     true,
		PriorityExecution:     true,
		CircuitBreakerEnabled: false,
		DefaultPriority:       0,
		CacheTTL:              5 * time.Second,
		LockWaitTimeout:       2 * time.Second,
		LockPollInterval:      txn.DefaultPollInterval,
		DeadlockScanInterval:  txn.DefaultScanInterval,
		TxTimeout:             txn.DefaultTxTimeout,
		Breaker:               circuit.DefaultConfig(),
	}
}
