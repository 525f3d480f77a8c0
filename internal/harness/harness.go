// Package harness runs declarative YAML scenarios against the engine: a
// scenario names the rule manifests to load, the world to build, the
// actions to execute, and the outcomes to expect. Scenarios double as
// integration tests and as reproducible bug reports.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"arbiter/internal/compiler"
	"arbiter/internal/engine"
	"arbiter/internal/ir"
	"arbiter/internal/rules"
	"arbiter/internal/txn"
	"arbiter/internal/world"
)

// Scenario is one declarative engine run.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Rules lists CUE manifest paths, resolved relative to the scenario
	// file's directory.
	Rules []string `yaml:"rules"`

	World      WorldSetup  `yaml:"world"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`

	baseDir string
}

// WorldSetup describes the initial state graph.
type WorldSetup struct {
	Phase  string         `yaml:"phase"`
	Turn   int            `yaml:"turn"`
	Actors []ActorSetup   `yaml:"actors"`
	Facts  map[string]any `yaml:"facts,omitempty"`
}

// ActorSetup seeds one actor.
type ActorSetup struct {
	ID       string           `yaml:"id"`
	Tags     []string         `yaml:"tags,omitempty"`
	Cell     string           `yaml:"cell,omitempty"`
	Money    int64            `yaml:"money,omitempty"`
	Statuses map[string]bool  `yaml:"statuses,omitempty"`
	Counters map[string]int64 `yaml:"counters,omitempty"`
}

// Step is one action submitted to the orchestrator.
type Step struct {
	Action   string         `yaml:"action"`
	Actor    string         `yaml:"actor"`
	Priority int            `yaml:"priority,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Expect   *Expect        `yaml:"expect,omitempty"`
}

// Expect constrains a step's ExecutionResult. Unset fields are not checked.
type Expect struct {
	Success         *bool    `yaml:"success,omitempty"`
	MessageContains string   `yaml:"message_contains,omitempty"`
	NextPhase       string   `yaml:"next_phase,omitempty"`
	Events          []string `yaml:"events,omitempty"`
	Changes         *int     `yaml:"changes,omitempty"`
}

// Assertion checks one fact path of the final world state.
type Assertion struct {
	Path   string `yaml:"path"`
	Equals any    `yaml:"equals"`
}

// Result collects what a scenario run produced.
type Result struct {
	Scenario *Scenario
	Steps    []*ir.ExecutionResult
	World    *world.World
}

// LoadScenario reads and validates a scenario file. Rule manifest paths
// inside the scenario resolve relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}

	s.baseDir = filepath.Dir(path)
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario requires a name")
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("scenario %q lists no rule manifests", s.Name)
	}
	if s.World.Phase == "" {
		return fmt.Errorf("scenario %q: world requires a phase", s.Name)
	}
	if len(s.World.Actors) == 0 {
		return fmt.Errorf("scenario %q: world requires at least one actor", s.Name)
	}
	for i, a := range s.World.Actors {
		if a.ID == "" {
			return fmt.Errorf("scenario %q: actor %d requires an id", s.Name, i+1)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step.Action == "" {
			return fmt.Errorf("scenario %q: step %d requires an action", s.Name, i+1)
		}
		if step.Actor == "" {
			return fmt.Errorf("scenario %q: step %d requires an actor", s.Name, i+1)
		}
	}
	for i, a := range s.Assertions {
		if a.Path == "" {
			return fmt.Errorf("scenario %q: assertion %d requires a path", s.Name, i+1)
		}
		if a.Equals == nil {
			return fmt.Errorf("scenario %q: assertion %d requires an equals value", s.Name, i+1)
		}
	}
	return nil
}

// Run executes the scenario: compile manifests, build the world, submit
// each step, check expectations, then check final-state assertions.
//
// Transaction ids are fixed ("tx-1", "tx-2", ...) and the validation cache
// is disabled, so repeated runs of one scenario are byte-identical.
func Run(s *Scenario) (*Result, error) {
	catalog := rules.NewCatalog()
	for _, rel := range s.Rules {
		path := rel
		if !filepath.IsAbs(path) && s.baseDir != "" {
			path = filepath.Join(s.baseDir, rel)
		}
		defs, err := compiler.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}
		for _, def := range defs {
			if err := catalog.Register(def); err != nil {
				return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
			}
		}
	}

	w := world.New(ir.Phase(s.World.Phase), s.World.Turn)
	for _, a := range s.World.Actors {
		tags := make([]ir.Tag, 0, len(a.Tags))
		for _, t := range a.Tags {
			tags = append(tags, ir.Tag(t))
		}
		w.AddActor(world.Actor{
			ID:       a.ID,
			Tags:     tags,
			Cell:     a.Cell,
			Money:    a.Money,
			Statuses: a.Statuses,
			Counters: a.Counters,
		})
	}
	for key, value := range s.World.Facts {
		w.SetFact(key, value)
	}

	ids := make([]string, len(s.Steps))
	for i := range ids {
		ids[i] = fmt.Sprintf("tx-%d", i+1)
	}

	cfg := engine.DefaultConfig()
	// Facts mutate between steps but the cache key does not cover them;
	// a warm cache would replay stale verdicts within one scenario.
	cfg.CacheTTL = 0

	orch := engine.New(catalog, cfg,
		engine.WithStateApplier(w),
		engine.WithTxIDGenerator(txn.NewFixedGenerator(ids...)),
	)
	defer orch.Close()

	result := &Result{Scenario: s, World: w}
	for i, step := range s.Steps {
		action := ir.Action{
			Type:     ir.ActionType(step.Action),
			ActorID:  step.Actor,
			Priority: step.Priority,
			Payload:  step.Payload,
		}
		res := orch.Execute(context.Background(), action, w)
		result.Steps = append(result.Steps, res)

		if err := checkExpect(s.Name, i+1, step.Expect, res); err != nil {
			return result, err
		}
		if res.NextPhase != "" {
			w.SetPhase(res.NextPhase)
		}
	}

	for _, a := range s.Assertions {
		got, ok := w.Fact(a.Path)
		if !ok {
			return result, fmt.Errorf("scenario %q: assertion path %q resolves to nothing", s.Name, a.Path)
		}
		if !looseEqual(got, a.Equals) {
			return result, fmt.Errorf("scenario %q: assertion %q: got %v, want %v", s.Name, a.Path, got, a.Equals)
		}
	}
	return result, nil
}

func checkExpect(scenario string, step int, expect *Expect, res *ir.ExecutionResult) error {
	if expect == nil {
		return nil
	}
	if expect.Success != nil && res.Success != *expect.Success {
		return fmt.Errorf("scenario %q: step %d: success = %v, want %v (message: %s)",
			scenario, step, res.Success, *expect.Success, res.Message)
	}
	if expect.MessageContains != "" && !strings.Contains(res.Message, expect.MessageContains) {
		return fmt.Errorf("scenario %q: step %d: message %q does not contain %q",
			scenario, step, res.Message, expect.MessageContains)
	}
	if expect.NextPhase != "" && res.NextPhase != ir.Phase(expect.NextPhase) {
		return fmt.Errorf("scenario %q: step %d: next phase %q, want %q",
			scenario, step, res.NextPhase, expect.NextPhase)
	}
	if len(expect.Events) > 0 && !slices.Equal(res.Events, expect.Events) {
		return fmt.Errorf("scenario %q: step %d: events %v, want %v",
			scenario, step, res.Events, expect.Events)
	}
	if expect.Changes != nil && len(res.Changes) != *expect.Changes {
		return fmt.Errorf("scenario %q: step %d: %d changes, want %d",
			scenario, step, len(res.Changes), *expect.Changes)
	}
	return nil
}

// looseEqual compares a world fact against a YAML literal, widening
// integer types so int64 counters match plain YAML ints.
func looseEqual(got, want any) bool {
	if gi, ok := asInt64(got); ok {
		wi, ok := asInt64(want)
		return ok && gi == wi
	}
	return got == want
}

func asInt64(v any) (int64, bool) {
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
