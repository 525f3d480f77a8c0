package engine

import (
	"errors"
	"fmt"
)

// ExecError represents a failure detected during orchestrated execution.
//
// Validation failures are NOT errors: they are expected, recoverable
// outcomes returned as data (ValidationOutcome.Valid = false). ExecError
// covers the execution-time taxonomy: lock timeouts, deadlock victimhood,
// circuit-open rejections, executor panics, and budget overruns.
type ExecError struct {
	// Code identifies the error category.
	Code ErrCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the rule being executed when the error occurred.
	RuleID string

	// TxID identifies the transaction, when one was active.
	TxID string
}

// ErrCode categorizes execution errors.
type ErrCode string

const (
	// ErrCodeUnknownActor indicates the acting entity is absent from the
	// snapshot.
	ErrCodeUnknownActor ErrCode = "UNKNOWN_ACTOR"

	// ErrCodePhaseNotAllowed indicates a rule recognizes the action type but
	// not in the current phase.
	ErrCodePhaseNotAllowed ErrCode = "PHASE_NOT_ALLOWED"

	// ErrCodeRuleVeto indicates a specific rule's validator rejected the
	// action.
	ErrCodeRuleVeto ErrCode = "RULE_VETO"

	// ErrCodeLockTimeout indicates a resource lock could not be acquired in
	// time.
	ErrCodeLockTimeout ErrCode = "LOCK_TIMEOUT"

	// ErrCodeDeadlockVictim indicates this transaction was chosen to break a
	// wait-for cycle.
	ErrCodeDeadlockVictim ErrCode = "DEADLOCK_VICTIM"

	// ErrCodeCircuitOpen indicates a rule's breaker rejected the call
	// without running the executor.
	ErrCodeCircuitOpen ErrCode = "CIRCUIT_OPEN"

	// ErrCodeExecutionException indicates an executor returned an error or
	// panicked.
	ErrCodeExecutionException ErrCode = "EXECUTION_EXCEPTION"

	// ErrCodeTimeout indicates the whole call exceeded its wall-clock
	// budget.
	ErrCodeTimeout ErrCode = "TIMEOUT"

	// ErrCodeFinalized indicates a commit or rollback raced a transaction
	// that was already finalized (swept or victim-rolled-back).
	ErrCodeFinalized ErrCode = "TRANSACTION_FINALIZED"
)

// Error implements the error interface.
func (e *ExecError) Error() string {
	switch {
	case e.RuleID != "" && e.TxID != "":
		return fmt.Sprintf("%s: %s (rule=%s, tx=%s)", e.Code, e.Message, e.RuleID, e.TxID)
	case e.RuleID != "":
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.RuleID)
	case e.TxID != "":
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.TxID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrCode from an error chain, or "" when the chain
// carries no ExecError. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrCode {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCircuitOpen reports whether the error is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	return CodeOf(err) == ErrCodeCircuitOpen
}

// IsTimeout reports whether the error is a wall-clock budget overrun.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}
