package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/journal"
)

const passingScenario = `
name: demo
rules: [rules.cue]
world:
  phase: move
  turn: 1
  actors:
    - id: p1
      cell: go
      money: 1500
  facts:
    dice.rolled: true
steps:
  - action: move
    actor: p1
    expect:
      success: true
assertions:
  - path: actors.p1.cell
    equals: boardwalk
`

const failingScenario = `
name: demo-fail
rules: [rules.cue]
world:
  phase: move
  turn: 1
  actors:
    - id: p1
      cell: go
steps:
  - action: move
    actor: p1
    expect:
      success: true
`

// writeScenarioDir lays out a scenario next to the manifest it references.
func writeScenarioDir(t *testing.T, scenario string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(validManifest), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))
	return path
}

func TestRun_PassingScenario(t *testing.T) {
	out, err := execute(t, "run", writeScenarioDir(t, passingScenario))
	require.NoError(t, err)
	assert.Contains(t, out, `scenario "demo" passed`)
	assert.Contains(t, out, "step 1")
}

func TestRun_PassingScenarioJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "run", writeScenarioDir(t, passingScenario))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "demo", data["scenario"])
}

func TestRun_FailingScenario(t *testing.T) {
	out, err := execute(t, "run", writeScenarioDir(t, failingScenario))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "dice")
}

func TestRun_JournalsExecutions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "arbiter.db")
	_, err := execute(t, "run", "--journal", dbPath, writeScenarioDir(t, passingScenario))
	require.NoError(t, err)

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	n, err := j.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.ByActor(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx-1", entries[0].TxID)
	assert.True(t, entries[0].Success)
}

func TestRun_MissingScenario(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
