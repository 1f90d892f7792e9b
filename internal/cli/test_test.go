package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: bump
config: ../counter.yaml
steps:
  - update: {count: 2}
    expect: {count: 2}
assertions:
  - type: event_count
    event: countChanged
    count: 1
`

const failingScenario = `name: wrong
config: ../counter.yaml
steps:
  - shortcut: r
assertions:
  - type: value
    property: status
    equals: nope
`

// scenarioDir lays out root/counter.yaml and root/scenarios/<name>.yaml.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	root := t.TempDir()
	cfg, err := os.ReadFile("testdata/counter.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "counter.yaml"), cfg, 0o644))

	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
	}
	return dir
}

func TestTest_Pass(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"bump": passingScenario})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ bump")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTest_GoldenUpdateThenMismatch(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"bump": passingScenario})

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ bump (golden updated)")

	golden := filepath.Join(dir, "golden", "bump.golden")
	require.FileExists(t, golden)

	out, err = execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)
	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_FailingAssertion(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"bump":  passingScenario,
		"wrong": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ bump")
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTest_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"bump":  passingScenario,
		"wrong": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "bu*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong")

	out, err = execute(t, "test", dir, "--filter", "zzz")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTest_BadScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken": "name: broken\nconfig: ../nope.yaml\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "failed to load scenario")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "x.golden"), goldenFilePath(filepath.Join("a", "b", "x.yaml")))
}
