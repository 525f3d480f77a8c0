// Package compiler turns CUE rule manifests into executable rule
// definitions. Manifests declare rules' metadata, preconditions, and
// effects; the compiler binds them to closures over the execution context,
// so hosts can ship rule catalogs as data instead of Go code.
//
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"arbiter/internal/ir"
	"arbiter/internal/rules"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile compiles a CUE manifest file into rule definitions.
func LoadFile(path string) ([]*rules.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rule manifest: %w", err)
	}
	return LoadSource(string(src), path)
}

// LoadSource compiles CUE source text. The filename feeds error positions.
func LoadSource(src, filename string) ([]*rules.Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile parses the manifest root. The root must carry a "rules" struct
// keyed by rule id:
//
//	rules: {
//	    "dice-first": {
//	        name:     "must roll dice before moving"
//	        priority: 100
//	        actions:  ["move"]
//	        requires: [{fact: "facts.dice.rolled", equals: true, reason: "..."}]
//	    }
//	}
func Compile(v cue.Value) ([]*rules.Definition, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rules",
			Message: "manifest has no rules struct",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []*rules.Definition
	for iter.Next() {
		def, err := compileRule(fieldName(iter.Selector()), iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// fieldName unwraps a struct label: quoted ids like "dice-first" come back
// without the quotes.
func fieldName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func compileRule(id string, v cue.Value) (*rules.Definition, error) {
	if id == "" {
		return nil, &CompileError{Field: "rules", Message: "rule id must not be empty", Pos: v.Pos()}
	}

	def := &rules.Definition{ID: id, Name: id}

	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Name = name
	}

	if catVal := v.LookupPath(cue.ParsePath("category")); catVal.Exists() {
		category, err := catVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Category = category
	}

	prioVal := v.LookupPath(cue.ParsePath("priority"))
	if !prioVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("rules.%s.priority", id),
			Message: "priority is required",
			Pos:     v.Pos(),
		}
	}
	priority, err := prioVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	def.Priority = int(priority)

	phases, err := stringList(v, "phases")
	if err != nil {
		return nil, err
	}
	for _, p := range phases {
		def.Phases = append(def.Phases, ir.Phase(p))
	}

	actions, err := stringList(v, "actions")
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		def.Actions = append(def.Actions, ir.ActionType(a))
	}

	tags, err := stringList(v, "actorTags")
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		def.ActorTags = append(def.ActorTags, ir.Tag(tag))
	}

	if def.ConflictsWith, err = stringList(v, "conflictsWith"); err != nil {
		return nil, err
	}
	if def.DependsOn, err = stringList(v, "dependsOn"); err != nil {
		return nil, err
	}

	resources, err := stringList(v, "resources")
	if err != nil {
		return nil, err
	}
	if len(resources) > 0 {
		def.Resources = func(ctx *ir.ExecutionContext) []string {
			out := make([]string, len(resources))
			for i, r := range resources {
				out[i] = expand(r, ctx)
			}
			return out
		}
	}

	requires, err := parseRequires(id, v)
	if err != nil {
		return nil, err
	}
	if len(requires) > 0 {
		def.Validate = bindValidate(id, requires)
	}

	effects, err := parseEffects(id, v)
	if err != nil {
		return nil, err
	}

	events, err := stringList(v, "events")
	if err != nil {
		return nil, err
	}

	nextPhase := ""
	if npVal := v.LookupPath(cue.ParsePath("nextPhase")); npVal.Exists() {
		if nextPhase, err = npVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if len(effects) > 0 || len(events) > 0 || nextPhase != "" {
		def.Execute = bindExecute(effects, events, ir.Phase(nextPhase))
	}

	return def, nil
}

// requireClause is one declarative precondition: a fact compared against an
// expected value.
type requireClause struct {
	fact   string
	equals any
	reason string
}

func parseRequires(ruleID string, v cue.Value) ([]requireClause, error) {
	reqVal := v.LookupPath(cue.ParsePath("requires"))
	if !reqVal.Exists() {
		return nil, nil
	}

	iter, err := reqVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var clauses []requireClause
	for iter.Next() {
		cv := iter.Value()

		fact, err := cv.LookupPath(cue.ParsePath("fact")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		eqVal := cv.LookupPath(cue.ParsePath("equals"))
		if !eqVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules.%s.requires", ruleID),
				Message: "requires clause needs an equals value",
				Pos:     cv.Pos(),
			}
		}
		equals, err := scalarValue(eqVal)
		if err != nil {
			return nil, err
		}

		reason := fmt.Sprintf("requires %s = %v", fact, equals)
		if rVal := cv.LookupPath(cue.ParsePath("reason")); rVal.Exists() {
			if reason, err = rVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		clauses = append(clauses, requireClause{fact: fact, equals: equals, reason: reason})
	}
	return clauses, nil
}

// effectClause is one declarative state change.
type effectClause struct {
	kind   ir.EffectKind
	path   string
	name   string
	delta  int64
	to     string
	value  bool
	reason string
}

func parseEffects(ruleID string, v cue.Value) ([]effectClause, error) {
	effVal := v.LookupPath(cue.ParsePath("effects"))
	if !effVal.Exists() {
		return nil, nil
	}

	iter, err := effVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var clauses []effectClause
	for iter.Next() {
		cv := iter.Value()
		var c effectClause

		kind, err := cv.LookupPath(cue.ParsePath("kind")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.kind = ir.EffectKind(kind)

		if c.path, err = cv.LookupPath(cue.ParsePath("path")).String(); err != nil {
			return nil, formatCUEError(err)
		}

		c.reason = ruleID
		if rVal := cv.LookupPath(cue.ParsePath("reason")); rVal.Exists() {
			if c.reason, err = rVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		switch c.kind {
		case ir.EffectMoney:
			if c.delta, err = cv.LookupPath(cue.ParsePath("delta")).Int64(); err != nil {
				return nil, formatCUEError(err)
			}
		case ir.EffectPosition:
			if c.to, err = cv.LookupPath(cue.ParsePath("to")).String(); err != nil {
				return nil, formatCUEError(err)
			}
		case ir.EffectStatus:
			if c.name, err = cv.LookupPath(cue.ParsePath("name")).String(); err != nil {
				return nil, formatCUEError(err)
			}
			if c.value, err = cv.LookupPath(cue.ParsePath("value")).Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		case ir.EffectCounter:
			if c.name, err = cv.LookupPath(cue.ParsePath("name")).String(); err != nil {
				return nil, formatCUEError(err)
			}
			if c.delta, err = cv.LookupPath(cue.ParsePath("delta")).Int64(); err != nil {
				return nil, formatCUEError(err)
			}
		default:
			return nil, &CompileError{
				Field:   fmt.Sprintf("rules.%s.effects", ruleID),
				Message: fmt.Sprintf("unknown effect kind %q", kind),
				Pos:     cv.Pos(),
			}
		}

		clauses = append(clauses, c)
	}
	return clauses, nil
}

func bindValidate(ruleID string, clauses []requireClause) func(*ir.ExecutionContext) ir.ValidationOutcome {
	return func(ctx *ir.ExecutionContext) ir.ValidationOutcome {
		for _, c := range clauses {
			got, _ := ctx.Fact(expand(c.fact, ctx))
			if !factEquals(got, c.equals) {
				return ir.Veto(ruleID, c.reason)
			}
		}
		return ir.Allow()
	}
}

func bindExecute(effects []effectClause, events []string, nextPhase ir.Phase) func(*ir.ExecutionContext) (ir.ExecutionOutcome, error) {
	return func(ctx *ir.ExecutionContext) (ir.ExecutionOutcome, error) {
		out := ir.ExecutionOutcome{
			Success:   true,
			Events:    events,
			NextPhase: nextPhase,
		}

		for _, e := range effects {
			path := expand(e.path, ctx)
			current, _ := ctx.Fact(path)

			switch e.kind {
			case ir.EffectMoney:
				old, _ := toInt64(current)
				out.Changes = append(out.Changes, ir.MoneyChange(path, old, old+e.delta, e.reason))
			case ir.EffectPosition:
				old, _ := current.(string)
				out.Changes = append(out.Changes, ir.PositionChange(path, old, expand(e.to, ctx), e.reason))
			case ir.EffectStatus:
				old, _ := current.(bool)
				out.Changes = append(out.Changes, ir.StatusChange(path, e.name, old, e.value, e.reason))
			case ir.EffectCounter:
				old, _ := toInt64(current)
				out.Changes = append(out.Changes, ir.CounterChange(path, e.name, old, old+e.delta, e.reason))
			}
		}
		return out, nil
	}
}

// expand substitutes context placeholders in manifest strings: {actor} is
// the acting entity's id, {cell} its current location.
func expand(s string, ctx *ir.ExecutionContext) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		switch {
		case hasPrefixAt(s, i, "{actor}"):
			out = append(out, ctx.Actor.ID...)
			i += len("{actor}")
		case hasPrefixAt(s, i, "{cell}"):
			out = append(out, ctx.Cell...)
			i += len("{cell}")
		default:
			out = append(out, s[i])
			i++
		}
	}
	return string(out)
}

func hasPrefixAt(s string, i int, prefix string) bool {
	return len(s)-i >= len(prefix) && s[i:i+len(prefix)] == prefix
}

// scalarValue extracts a comparable Go value. Floats are rejected: the
// state graph is integer-valued by design.
func scalarValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		return v.Int64()
	case cue.BoolKind:
		return v.Bool()
	default:
		return nil, &CompileError{
			Field:   "equals",
			Message: fmt.Sprintf("unsupported value kind %v (floats are forbidden, use int)", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// factEquals compares a snapshot fact against a manifest value, widening
// integer types so int facts match int64 manifest values.
func factEquals(got, want any) bool {
	if gi, ok := toInt64(got); ok {
		wi, ok := toInt64(want)
		return ok && gi == wi
	}
	return got == want
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	}
	return 0, false
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

func stringList(v cue.Value, field string) ([]string, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
