package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arbiter/internal/circuit"
	"arbiter/internal/ir"
	"arbiter/internal/rules"
	"arbiter/internal/txn"
)

// StateApplier is the host's hook for materializing state changes. The
// engine never mutates the snapshot; every accepted change goes through
// Apply, and rollback goes through Revert.
//
// Without an applier the engine still validates, plans, and locks, and the
// caller applies the returned changes itself.
type StateApplier interface {
	Apply(change ir.StateChange) error
	Revert(change ir.StateChange) error
}

// Orchestrator is the engine facade: validate, plan, lock, execute, commit
// or roll back. One Execute call maps to at most one transaction.
type Orchestrator struct {
	cfg       Config
	catalog   *rules.Catalog
	validator *Validator
	resolver  *Resolver
	txns      *txn.Manager
	events    *Notifier
	applier   StateApplier
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	listeners []Listener
	applier   StateApplier
	cache     CacheStore
	now       func() time.Time
	idGen     txn.IDGenerator
}

// WithListener registers an event listener.
func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithStateApplier installs the host's state hook.
func WithStateApplier(a StateApplier) Option {
	return func(o *options) { o.applier = a }
}

// WithCacheStore overrides the validation cache (default: in-process
// MemoryCache). Pass a RedisCache to share outcomes across processes.
func WithCacheStore(store CacheStore) Option {
	return func(o *options) { o.cache = store }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTxIDGenerator overrides transaction id generation (tests).
func WithTxIDGenerator(g txn.IDGenerator) Option {
	return func(o *options) { o.idGen = g }
}

// New creates an orchestrator over the given catalog.
func New(catalog *rules.Catalog, cfg Config, opts ...Option) *Orchestrator {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.cache == nil {
		o.cache = NewMemoryCache(WithCacheClock(o.now))
	}

	events := NewNotifier()
	for _, l := range o.listeners {
		events.Register(l)
	}

	mgrOpts := []txn.ManagerOption{
		txn.WithDefaultTimeout(cfg.TxTimeout),
		txn.WithScanInterval(cfg.DeadlockScanInterval),
		txn.WithLockPollInterval(cfg.LockPollInterval),
		txn.WithNow(o.now),
		txn.WithCommitObserver(func(s txn.Summary) { events.TransactionCommitted(s.ID) }),
		txn.WithRollbackObserver(func(s txn.Summary) { events.TransactionRolledBack(s.ID) }),
		txn.WithDeadlockObserver(events.DeadlockDetected),
	}
	if o.idGen != nil {
		mgrOpts = append(mgrOpts, txn.WithIDGenerator(o.idGen))
	}

	orch := &Orchestrator{
		cfg:     cfg,
		catalog: catalog,
		validator: NewValidator(catalog,
			WithCache(o.cache),
			WithCacheTTL(cfg.CacheTTL),
			WithStrictValidation(cfg.StrictValidation),
			WithValidatorEvents(events),
		),
		resolver: NewResolver(),
		txns:     txn.NewManager(mgrOpts...),
		events:   events,
		applier:  o.applier,
		now:      o.now,
		breakers: make(map[string]*circuit.Breaker),
	}

	catalog.SetRegistrationObserver(func(d *rules.Definition) {
		events.RuleRegistered(d.ID)
	})
	return orch
}

// Start launches the background deadlock scan and expired-transaction
// sweeper. Optional: the engine is fully functional without it, with
// edge-triggered deadlock detection only.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.cfg.TransactionMode && o.cfg.DeadlockDetection {
		o.txns.Start(ctx)
	}
}

// Close flushes and stops the event notifier.
func (o *Orchestrator) Close() {
	o.events.Close()
}

// Validator exposes the validator for callers that want a legality check
// without execution.
func (o *Orchestrator) Validator() *Validator { return o.validator }

// Transactions exposes the transaction manager.
func (o *Orchestrator) Transactions() *txn.Manager { return o.txns }

// Execute validates the action, builds an execution plan, and runs it
// inside a transaction. The returned result is always non-nil; failures of
// every kind are reported as data.
func (o *Orchestrator) Execute(ctx context.Context, action ir.Action, snap ir.Snapshot) *ir.ExecutionResult {
	start := o.now()
	var deadline time.Time
	if o.cfg.MaxExecutionTime > 0 {
		deadline = start.Add(o.cfg.MaxExecutionTime)
	}

	ectx, ok := ir.NewExecutionContext(action, snap)
	if !ok {
		return &ir.ExecutionResult{
			Success:           false,
			Message:           fmt.Sprintf("unknown actor %q", action.ActorID),
			ValidationsFailed: []string{"unknown_actor"},
			Elapsed:           o.now().Sub(start),
		}
	}

	verdict := o.validator.ValidateContext(ectx)
	if !verdict.Outcome.Valid {
		// Invalid actions create no transaction and no state changes.
		return &ir.ExecutionResult{
			Success:           false,
			Message:           verdict.Outcome.Reason,
			ValidationsPassed: verdict.Passed,
			ValidationsFailed: verdict.Failed,
			Elapsed:           o.now().Sub(start),
		}
	}

	plan, warnings := o.resolver.Plan(o.catalog.ApplicableRules(ectx))

	result := &ir.ExecutionResult{
		Success:           true,
		ValidationsPassed: verdict.Passed,
		Warnings:          warnings,
	}

	var tx *txn.Tx
	if o.cfg.TransactionMode {
		tx = o.txns.Begin(o.txPriority(action))
		result.TxID = tx.ID()
	}

	// applied tracks changes materialized outside a transaction so
	// RollbackOnFailure still works with locking disabled.
	var applied []ir.StateChange
	writtenBy := make(map[string]string)
	var failure error

	for _, rule := range plan {
		if !deadline.IsZero() && o.now().After(deadline) {
			failure = &ExecError{
				Code:    ErrCodeTimeout,
				Message: fmt.Sprintf("execution exceeded budget %s", o.cfg.MaxExecutionTime),
				RuleID:  rule.ID,
				TxID:    result.TxID,
			}
			break
		}

		if tx != nil && rule.Resources != nil {
			if err := o.acquireResources(ctx, tx, rule, ectx); err != nil {
				failure = err
				break
			}
		}

		outcome, err := o.runExecutor(rule, ectx)
		if err != nil {
			failure = err
			break
		}
		if !outcome.Success {
			result.ValidationsFailed = append(result.ValidationsFailed, rule.ID)
			failure = &ExecError{
				Code:    ErrCodeRuleVeto,
				Message: outcome.Message,
				RuleID:  rule.ID,
				TxID:    result.TxID,
			}
			break
		}

		for _, change := range outcome.Changes {
			if err := change.Validate(); err != nil {
				failure = &ExecError{
					Code:    ErrCodeExecutionException,
					Message: fmt.Sprintf("malformed state change: %v", err),
					RuleID:  rule.ID,
					TxID:    result.TxID,
				}
				break
			}

			if o.applier != nil {
				if err := o.applier.Apply(change); err != nil {
					failure = &ExecError{
						Code:    ErrCodeExecutionException,
						Message: fmt.Sprintf("applying %q: %v", change.Path, err),
						RuleID:  rule.ID,
						TxID:    result.TxID,
					}
					break
				}
				if tx != nil {
					change := change
					tx.RegisterRollback(rule.ID+"/"+change.Path, func() error {
						return o.applier.Revert(change)
					})
				} else {
					applied = append(applied, change)
				}
			}

			if prev, dup := writtenBy[change.Path]; dup {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("path %q written by rule %q overwrites change from rule %q", change.Path, rule.ID, prev))
			}
			writtenBy[change.Path] = rule.ID
			result.Changes = append(result.Changes, change)
		}
		if failure != nil {
			break
		}

		result.Events = append(result.Events, outcome.Events...)
		if outcome.NextPhase != "" {
			// Later rules override earlier phase transitions.
			result.NextPhase = outcome.NextPhase
		}
		if outcome.Message != "" {
			result.Message = outcome.Message
		}
	}

	if failure == nil && !deadline.IsZero() && o.now().After(deadline) {
		failure = &ExecError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("execution exceeded budget %s", o.cfg.MaxExecutionTime),
			TxID:    result.TxID,
		}
	}

	if failure == nil && tx != nil {
		if err := o.txns.Commit(tx); err != nil {
			// The sweeper or deadlock resolution got here first.
			failure = &ExecError{Code: ErrCodeFinalized, Message: err.Error(), TxID: tx.ID()}
		}
	}

	if failure != nil {
		o.abort(result, tx, applied, failure)
	}

	if result.Success && result.Message == "" {
		result.Message = fmt.Sprintf("executed %d rules", len(plan))
	}
	result.Elapsed = o.now().Sub(start)
	return result
}

// abort marks the result failed and unwinds applied changes. Rollback wins
// over AllowPartialExecution when both are enabled.
func (o *Orchestrator) abort(result *ir.ExecutionResult, tx *txn.Tx, applied []ir.StateChange, failure error) {
	result.Success = false
	result.Message = failure.Error()

	code := CodeOf(failure)
	if code == ErrCodeRuleVeto {
		// The rule's own message is the interesting part, not the wrapper.
		var ee *ExecError
		if errors.As(failure, &ee) && ee.Message != "" {
			result.Message = ee.Message
		}
	} else {
		result.ValidationsFailed = append(result.ValidationsFailed, "execution_error")
	}

	rollback := o.cfg.RollbackOnFailure || !o.cfg.AllowPartialExecution

	if tx != nil {
		if rollback {
			o.txns.Rollback(tx)
			result.Changes = nil
			result.NextPhase = ""
			return
		}
		// Partial execution: keep what was applied.
		if err := o.txns.Commit(tx); err != nil {
			slog.Error("partial-execution commit failed", "tx", tx.ID(), "error", err)
		}
		return
	}

	if rollback {
		for i := len(applied) - 1; i >= 0; i-- {
			if err := o.applier.Revert(applied[i]); err != nil {
				slog.Error("revert failed", "path", applied[i].Path, "error", err)
			}
		}
		result.Changes = nil
		result.NextPhase = ""
	}
}

func (o *Orchestrator) txPriority(action ir.Action) int {
	if o.cfg.PriorityExecution && action.Priority != 0 {
		return action.Priority
	}
	return o.cfg.DefaultPriority
}

// acquireResources takes every lock the rule declares. Error kinds stay
// distinguishable so callers can decide whether to retry.
func (o *Orchestrator) acquireResources(ctx context.Context, tx *txn.Tx, rule *rules.Definition, ectx *ir.ExecutionContext) error {
	for _, res := range rule.Resources(ectx) {
		err := o.txns.Acquire(ctx, tx, res, o.cfg.LockWaitTimeout)
		if err == nil {
			continue
		}
		switch {
		case txn.IsDeadlockVictim(err):
			return &ExecError{Code: ErrCodeDeadlockVictim, Message: err.Error(), RuleID: rule.ID, TxID: tx.ID()}
		case txn.IsLockTimeout(err):
			return &ExecError{Code: ErrCodeLockTimeout, Message: err.Error(), RuleID: rule.ID, TxID: tx.ID()}
		default:
			return &ExecError{Code: ErrCodeTimeout, Message: err.Error(), RuleID: rule.ID, TxID: tx.ID()}
		}
	}
	return nil
}

// runExecutor invokes the rule's executor, converting panics into
// ExecutionException and routing through the rule's breaker when enabled.
// A breaker counts executor errors and panics as faults; a failed outcome
// is domain data and leaves the breaker closed.
func (o *Orchestrator) runExecutor(rule *rules.Definition, ectx *ir.ExecutionContext) (ir.ExecutionOutcome, error) {
	if rule.Execute == nil {
		return ir.ExecutionOutcome{Success: true}, nil
	}

	invoke := func() (out ir.ExecutionOutcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &ExecError{
					Code:    ErrCodeExecutionException,
					Message: fmt.Sprintf("executor panicked: %v", r),
					RuleID:  rule.ID,
				}
			}
		}()
		return rule.Execute(ectx)
	}

	if !o.cfg.CircuitBreakerEnabled {
		out, err := invoke()
		return out, o.wrapExecutorError(rule.ID, err)
	}

	var out ir.ExecutionOutcome
	err := o.breakerFor(rule.ID).Execute(func() error {
		var innerErr error
		out, innerErr = invoke()
		return innerErr
	})
	if err != nil {
		var oe *circuit.OpenError
		if errors.As(err, &oe) {
			return out, &ExecError{Code: ErrCodeCircuitOpen, Message: err.Error(), RuleID: rule.ID}
		}
		return out, o.wrapExecutorError(rule.ID, err)
	}
	return out, nil
}

func (o *Orchestrator) wrapExecutorError(ruleID string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return &ExecError{Code: ErrCodeExecutionException, Message: err.Error(), RuleID: ruleID}
}

func (o *Orchestrator) breakerFor(ruleID string) *circuit.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.breakers[ruleID]
	if !ok {
		b = circuit.New(ruleID, o.cfg.Breaker,
			circuit.WithClock(o.now),
			circuit.WithStateChangeObserver(o.events.CircuitStateChanged),
		)
		o.breakers[ruleID] = b
	}
	return b
}
