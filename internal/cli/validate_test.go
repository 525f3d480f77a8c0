package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `
rules: {
	"dice-first": {
		name:     "must roll dice before moving"
		priority: 100
		actions: ["move"]
		requires: [
			{fact: "facts.dice.rolled", equals: true, reason: "dice must be rolled before moving"},
		]
	}
	"movement": {
		name:     "movement"
		priority: 90
		actions: ["move"]
		dependsOn: ["dice-first"]
		resources: ["actors.{actor}"]
		effects: [
			{kind: "position", path: "actors.{actor}.cell", to: "boardwalk", reason: "moved"},
		]
		events: ["actor_moved"]
		nextPhase: "trade"
	}
}
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", writeManifest(t, validManifest))
	require.NoError(t, err)
	assert.Contains(t, out, "2 rule(s) valid")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", writeManifest(t, validManifest))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(2), data["rules"])
}

func TestValidate_MissingPriority(t *testing.T) {
	out, err := execute(t, "validate", writeManifest(t, `rules: {"r": {name: "no priority"}}`))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "priority is required")
}

func TestValidate_UnknownEffectKind(t *testing.T) {
	manifest := `rules: {"r": {priority: 1, effects: [{kind: "teleport", path: "x"}]}}`
	out, err := execute(t, "validate", writeManifest(t, manifest))
	require.Error(t, err)
	assert.Contains(t, out, "unknown effect kind")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
