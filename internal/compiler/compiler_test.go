package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/ir"
	"arbiter/internal/world"
)

const manifest = `
rules: {
	"dice-first": {
		name:     "must roll dice before moving"
		category: "movement"
		priority: 100
		phases:   ["move"]
		actions:  ["move"]
		requires: [
			{fact: "facts.dice.rolled", equals: true, reason: "dice must be rolled before moving"},
		]
	}
	"movement": {
		name:      "movement"
		priority:  90
		actions:   ["move"]
		dependsOn: ["dice-first"]
		resources: ["actors.{actor}"]
		effects: [
			{kind: "position", path: "actors.{actor}.cell", to: "boardwalk", reason: "moved"},
			{kind: "counter", path: "actors.{actor}.counter.moves", name: "moves", delta: 1},
		]
		events:    ["actor_moved"]
		nextPhase: "trade"
	}
	"zodiac-bonus": {
		name:      "zodiac bonus"
		priority:  50
		actions:   ["move"]
		actorTags: ["aries"]
		effects: [
			{kind: "money", path: "actors.{actor}.money", delta: 50, reason: "zodiac bonus"},
		]
	}
}
`

func TestCompile_Metadata(t *testing.T) {
	defs, err := LoadSource(manifest, "rules.cue")
	require.NoError(t, err)
	require.Len(t, defs, 3)

	byID := make(map[string]int)
	for i, d := range defs {
		byID[d.ID] = i
	}

	dice := defs[byID["dice-first"]]
	assert.Equal(t, "must roll dice before moving", dice.Name)
	assert.Equal(t, "movement", dice.Category)
	assert.Equal(t, 100, dice.Priority)
	assert.Equal(t, []ir.Phase{"move"}, dice.Phases)
	assert.Equal(t, []ir.ActionType{"move"}, dice.Actions)
	assert.NotNil(t, dice.Validate)
	assert.Nil(t, dice.Execute)

	movement := defs[byID["movement"]]
	assert.Equal(t, []string{"dice-first"}, movement.DependsOn)
	assert.NotNil(t, movement.Resources)
	assert.NotNil(t, movement.Execute)

	zodiac := defs[byID["zodiac-bonus"]]
	assert.Equal(t, []ir.Tag{"aries"}, zodiac.ActorTags)
}

func TestCompile_RequiresClauseValidates(t *testing.T) {
	defs, err := LoadSource(manifest, "rules.cue")
	require.NoError(t, err)

	var validate func(*ir.ExecutionContext) ir.ValidationOutcome
	for _, d := range defs {
		if d.ID == "dice-first" {
			validate = d.Validate
		}
	}
	require.NotNil(t, validate)

	w := world.New("move", 1)
	w.AddActor(world.Actor{ID: "p1", Cell: "go"})
	ctx, ok := ir.NewExecutionContext(ir.Action{Type: "move", ActorID: "p1"}, w)
	require.True(t, ok)

	outcome := validate(ctx)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "dice-first", outcome.RuleID)
	assert.Contains(t, outcome.Reason, "dice")

	w.SetFact("dice.rolled", true)
	ctx, _ = ir.NewExecutionContext(ir.Action{Type: "move", ActorID: "p1"}, w)
	assert.True(t, validate(ctx).Valid)
}

func TestCompile_EffectsReadPreImageFromSnapshot(t *testing.T) {
	defs, err := LoadSource(manifest, "rules.cue")
	require.NoError(t, err)

	var execute func(*ir.ExecutionContext) (ir.ExecutionOutcome, error)
	var resources func(*ir.ExecutionContext) []string
	for _, d := range defs {
		if d.ID == "movement" {
			execute = d.Execute
			resources = d.Resources
		}
	}
	require.NotNil(t, execute)

	w := world.New("move", 1)
	w.AddActor(world.Actor{ID: "p1", Cell: "go", Counters: map[string]int64{"moves": 4}})
	ctx, ok := ir.NewExecutionContext(ir.Action{Type: "move", ActorID: "p1"}, w)
	require.True(t, ok)

	assert.Equal(t, []string{"actors.p1"}, resources(ctx), "resource template expands the actor id")

	out, err := execute(ctx)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Len(t, out.Changes, 2)

	pos := out.Changes[0]
	assert.Equal(t, "actors.p1.cell", pos.Path)
	assert.Equal(t, "go", pos.Position.Old, "pre-image read from the snapshot")
	assert.Equal(t, "boardwalk", pos.Position.New)

	moves := out.Changes[1]
	assert.Equal(t, int64(4), moves.Counter.Old)
	assert.Equal(t, int64(5), moves.Counter.New)

	assert.Equal(t, []string{"actor_moved"}, out.Events)
	assert.Equal(t, ir.Phase("trade"), out.NextPhase)
}

func TestCompile_MoneyDelta(t *testing.T) {
	defs, err := LoadSource(manifest, "rules.cue")
	require.NoError(t, err)

	var execute func(*ir.ExecutionContext) (ir.ExecutionOutcome, error)
	for _, d := range defs {
		if d.ID == "zodiac-bonus" {
			execute = d.Execute
		}
	}

	w := world.New("move", 1)
	w.AddActor(world.Actor{ID: "p1", Money: 1500, Tags: []ir.Tag{"aries"}})
	ctx, _ := ir.NewExecutionContext(ir.Action{Type: "move", ActorID: "p1"}, w)

	out, err := execute(ctx)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, int64(1500), out.Changes[0].Money.Old)
	assert.Equal(t, int64(1550), out.Changes[0].Money.New)
}

func TestCompile_MissingPriorityFails(t *testing.T) {
	_, err := LoadSource(`rules: {"r": {name: "no priority"}}`, "bad.cue")
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "priority is required")
}

func TestCompile_UnknownEffectKindFails(t *testing.T) {
	src := `rules: {"r": {priority: 1, effects: [{kind: "teleport", path: "x"}]}}`
	_, err := LoadSource(src, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown effect kind "teleport"`)
}

func TestCompile_FloatEqualsRejected(t *testing.T) {
	src := `rules: {"r": {priority: 1, requires: [{fact: "f", equals: 1.5}]}}`
	_, err := LoadSource(src, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestCompile_NoRulesStructFails(t *testing.T) {
	_, err := LoadSource(`other: 1`, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules struct")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, defs, 3)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
}
