package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/ir"
)

func TestWorld_SnapshotViews(t *testing.T) {
	w := New("roll", 3)
	w.AddActor(Actor{ID: "p2", Cell: "start"})
	w.AddActor(Actor{ID: "p1", Tags: []ir.Tag{"aries"}, Cell: "go", Money: 1500})

	assert.Equal(t, ir.Phase("roll"), w.Phase())
	assert.Equal(t, 3, w.Turn())

	a, ok := w.Actor("p1")
	require.True(t, ok)
	assert.Equal(t, "go", a.Cell)
	assert.True(t, a.HasTag("aries"))

	_, ok = w.Actor("ghost")
	assert.False(t, ok)

	views := w.Actors()
	require.Len(t, views, 2)
	assert.Equal(t, "p1", views[0].ID, "actors sorted by id")
	assert.Equal(t, "p2", views[1].ID)
}

func TestWorld_FactResolution(t *testing.T) {
	w := New("move", 1)
	w.AddActor(Actor{ID: "p1", Money: 200, Cell: "jail",
		Statuses: map[string]bool{"in_jail": true},
		Counters: map[string]int64{"doubles": 2},
	})
	w.SetFact("dice.rolled", true)

	cases := map[string]any{
		"phase":                     "move",
		"turn":                      1,
		"actors.p1.money":           int64(200),
		"actors.p1.cell":            "jail",
		"actors.p1.status.in_jail":  true,
		"actors.p1.counter.doubles": int64(2),
		"facts.dice.rolled":         true,
	}
	for path, want := range cases {
		got, ok := w.Fact(path)
		require.True(t, ok, "path %q should resolve", path)
		assert.Equal(t, want, got, "path %q", path)
	}

	_, ok := w.Fact("actors.ghost.money")
	assert.False(t, ok)
	_, ok = w.Fact("facts.unset")
	assert.False(t, ok)
}

func TestWorld_ApplyAndRevert(t *testing.T) {
	w := New("move", 1)
	w.AddActor(Actor{ID: "p1", Money: 1500, Cell: "go"})

	money := ir.MoneyChange("actors.p1.money", 1500, 1300, "rent")
	pos := ir.PositionChange("actors.p1.cell", "go", "boardwalk", "moved")

	require.NoError(t, w.Apply(money))
	require.NoError(t, w.Apply(pos))

	balance, _ := w.Money("p1")
	assert.Equal(t, int64(1300), balance)
	v, _ := w.Fact("actors.p1.cell")
	assert.Equal(t, "boardwalk", v)

	require.NoError(t, w.Revert(pos))
	require.NoError(t, w.Revert(money))

	balance, _ = w.Money("p1")
	assert.Equal(t, int64(1500), balance)
	v, _ = w.Fact("actors.p1.cell")
	assert.Equal(t, "go", v)
}

func TestWorld_ApplyStatusAndCounter(t *testing.T) {
	w := New("move", 1)
	w.AddActor(Actor{ID: "p1"})

	require.NoError(t, w.Apply(ir.StatusChange("actors.p1.status.in_jail", "in_jail", false, true, "arrested")))
	require.NoError(t, w.Apply(ir.CounterChange("actors.p1.counter.doubles", "doubles", 0, 1, "rolled doubles")))

	v, _ := w.Fact("actors.p1.status.in_jail")
	assert.Equal(t, true, v)
	v, _ = w.Fact("actors.p1.counter.doubles")
	assert.Equal(t, int64(1), v)
}

func TestWorld_ApplyFactPath(t *testing.T) {
	w := New("roll", 1)

	change := ir.StatusChange("facts.dice.rolled", "dice.rolled", false, true, "dice rolled")
	require.NoError(t, w.Apply(change))

	v, ok := w.Fact("facts.dice.rolled")
	require.True(t, ok)
	assert.Equal(t, true, v)

	require.NoError(t, w.Revert(change))
	v, _ = w.Fact("facts.dice.rolled")
	assert.Equal(t, false, v)
}

func TestWorld_ApplyUnknownActorFails(t *testing.T) {
	w := New("move", 1)

	err := w.Apply(ir.MoneyChange("actors.ghost.money", 0, 100, "haunting"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
