package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"arbiter/internal/ir"
)

// Snapshot renders a scenario run as the plain-value shape accepted by
// ir.MarshalCanonical. Elapsed times and transaction ids are excluded so
// the snapshot is byte-stable across runs.
func Snapshot(res *Result) map[string]any {
	steps := make([]any, len(res.Steps))
	for i, step := range res.Steps {
		steps[i] = step.CanonicalMap()
	}
	return map[string]any{
		"scenario": res.Scenario.Name,
		"steps":    steps,
	}
}

// RunGolden executes a scenario file and compares its canonical snapshot
// against the checked-in golden file under testdata/golden. Regenerate
// with `go test ./internal/harness -update`.
func RunGolden(t *testing.T, scenarioPath string) {
	t.Helper()

	s, err := LoadScenario(scenarioPath)
	require.NoError(t, err, "scenario must load")

	res, err := Run(s)
	require.NoError(t, err, "scenario must run clean")

	data, err := ir.MarshalCanonical(Snapshot(res))
	require.NoError(t, err, "snapshot must marshal canonically")

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
}
