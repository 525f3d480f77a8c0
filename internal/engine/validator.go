package engine

import (
	"fmt"
	"strings"
	"time"

	"arbiter/internal/ir"
	"arbiter/internal/rules"
)

// Verdict is a validation outcome plus the per-rule breakdown the
// orchestrator folds into its ExecutionResult.
type Verdict struct {
	Outcome ir.ValidationOutcome `json:"outcome"`
	Passed  []string             `json:"passed,omitempty"`
	Failed  []string             `json:"failed,omitempty"`
}

// Validator answers "is this action legal right now" by running applicable
// rules' validators in priority order, consulting the TTL cache first.
//
// INVARIANTS:
//   - A cache hit invokes no rule validator.
//   - Strict mode short-circuits on the first failing rule; rules after it
//     are never invoked.
//   - An action no registered rule recognizes is permissively valid.
type Validator struct {
	catalog *rules.Catalog
	cache   CacheStore
	ttl     time.Duration
	strict  bool
	events  *Notifier
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithCache installs a cache store. Without one, every call recomputes.
func WithCache(store CacheStore) ValidatorOption {
	return func(v *Validator) { v.cache = store }
}

// WithCacheTTL sets the cache entry lifetime.
func WithCacheTTL(ttl time.Duration) ValidatorOption {
	return func(v *Validator) { v.ttl = ttl }
}

// WithStrictValidation toggles short-circuiting (on by default).
func WithStrictValidation(strict bool) ValidatorOption {
	return func(v *Validator) { v.strict = strict }
}

// WithValidatorEvents wires cache hit/miss notifications.
func WithValidatorEvents(n *Notifier) ValidatorOption {
	return func(v *Validator) { v.events = n }
}

// NewValidator creates a validator over the given catalog.
func NewValidator(catalog *rules.Catalog, opts ...ValidatorOption) *Validator {
	v := &Validator{
		catalog: catalog,
		ttl:     5 * time.Second,
		strict:  true,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate resolves the acting entity and validates the action against the
// catalog. An absent actor fails immediately without consulting any rule.
func (v *Validator) Validate(action ir.Action, snap ir.Snapshot) Verdict {
	ctx, ok := ir.NewExecutionContext(action, snap)
	if !ok {
		return Verdict{
			Outcome: ir.ValidationOutcome{
				Valid:  false,
				Reason: fmt.Sprintf("unknown actor %q", action.ActorID),
			},
			Failed: []string{"unknown_actor"},
		}
	}
	return v.ValidateContext(ctx)
}

// ValidateContext validates against an already-built execution context.
func (v *Validator) ValidateContext(ctx *ir.ExecutionContext) Verdict {
	key := CacheKey{
		ActionType:     ctx.Action.Type,
		ActorID:        ctx.Actor.ID,
		Phase:          ctx.Phase,
		Turn:           ctx.Turn,
		CatalogVersion: v.catalog.Version(),
	}

	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			if v.events != nil {
				v.events.CacheHit(key)
			}
			return cached
		}
		if v.events != nil {
			v.events.CacheMiss(key)
		}
	}

	verdict := v.compute(ctx)

	if v.cache != nil {
		v.cache.Set(key, verdict, v.ttl)
	}
	return verdict
}

func (v *Validator) compute(ctx *ir.ExecutionContext) Verdict {
	applicable := v.catalog.ApplicableRules(ctx)

	if len(applicable) == 0 {
		if v.catalog.HasAnyRuleFor(ctx.Action.Type) {
			// A rule recognizes this action type, just not in this phase.
			return Verdict{
				Outcome: ir.ValidationOutcome{
					Valid:  false,
					Reason: fmt.Sprintf("action %q is not allowed in phase %q", ctx.Action.Type, ctx.Phase),
				},
				Failed: []string{"phase_not_allowed"},
			}
		}
		// Unclassified actions pass through.
		return Verdict{Outcome: ir.Allow()}
	}

	var verdict Verdict
	var reasons []string

	for _, rule := range applicable {
		if rule.Validate == nil {
			// Predicate-free rules validate vacuously.
			verdict.Passed = append(verdict.Passed, rule.ID)
			continue
		}

		outcome := rule.Validate(ctx)
		if outcome.Valid {
			verdict.Passed = append(verdict.Passed, rule.ID)
			continue
		}

		if outcome.RuleID == "" {
			outcome.RuleID = rule.ID
		}
		verdict.Failed = append(verdict.Failed, outcome.RuleID)
		reasons = append(reasons, outcome.Reason)

		if v.strict {
			verdict.Outcome = outcome
			return verdict
		}
	}

	if len(verdict.Failed) > 0 {
		verdict.Outcome = ir.ValidationOutcome{
			Valid:  false,
			RuleID: verdict.Failed[0],
			Reason: strings.Join(reasons, "; "),
		}
		return verdict
	}

	verdict.Outcome = ir.Allow()
	return verdict
}
