package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/rules"
)

func def(id string, priority int) *rules.Definition {
	return &rules.Definition{ID: id, Name: id, Priority: priority}
}

func planIDs(plan []*rules.Definition) []string {
	ids := make([]string, len(plan))
	for i, d := range plan {
		ids[i] = d.ID
	}
	return ids
}

func TestResolver_OrdersByPriorityStable(t *testing.T) {
	r := NewResolver()

	plan, warnings := r.Plan([]*rules.Definition{
		def("a", 10), def("b", 5), def("c", 5), def("d", 20),
	})

	assert.Equal(t, []string{"d", "a", "b", "c"}, planIDs(plan))
	assert.Empty(t, warnings)
}

func TestResolver_PrunesConflictingLowerPriority(t *testing.T) {
	r := NewResolver()
	high := def("high", 20)
	high.ConflictsWith = []string{"low"}
	low := def("low", 10)

	plan, warnings := r.Plan([]*rules.Definition{low, high})

	assert.Equal(t, []string{"high"}, planIDs(plan))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `rule "low" suppressed`)
}

func TestResolver_ConflictDeclaredByLoserStillPrunesLoser(t *testing.T) {
	r := NewResolver()
	high := def("high", 20)
	low := def("low", 10)
	low.ConflictsWith = []string{"high"}

	plan, _ := r.Plan([]*rules.Definition{high, low})

	assert.Equal(t, []string{"high"}, planIDs(plan), "conflict is symmetric, priority picks the survivor")
}

func TestResolver_DropsDependencyStarvedRule(t *testing.T) {
	r := NewResolver()
	dependent := def("bonus", 10)
	dependent.DependsOn = []string{"movement"}

	plan, warnings := r.Plan([]*rules.Definition{dependent})

	assert.Empty(t, plan)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `rule "bonus" dropped`)
}

func TestResolver_DependencyDropCascades(t *testing.T) {
	r := NewResolver()
	high := def("high", 30)
	high.ConflictsWith = []string{"mid"}
	mid := def("mid", 20)
	low := def("low", 10)
	low.DependsOn = []string{"mid"}

	plan, warnings := r.Plan([]*rules.Definition{high, mid, low})

	// mid is pruned by conflict, which starves low of its dependency.
	assert.Equal(t, []string{"high"}, planIDs(plan))
	assert.Len(t, warnings, 2)
}

func TestResolver_SatisfiedDependencyKept(t *testing.T) {
	r := NewResolver()
	movement := def("movement", 20)
	bonus := def("bonus", 10)
	bonus.DependsOn = []string{"movement"}

	plan, warnings := r.Plan([]*rules.Definition{movement, bonus})

	assert.Equal(t, []string{"movement", "bonus"}, planIDs(plan))
	assert.Empty(t, warnings)
}

func TestResolver_EmptyInput(t *testing.T) {
	r := NewResolver()
	plan, warnings := r.Plan(nil)
	assert.Empty(t, plan)
	assert.Empty(t, warnings)
}
