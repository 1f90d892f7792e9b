package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", "testdata/counter.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
}

func TestValidate_SchemaErrors(t *testing.T) {
	out, err := execute(t, "validate", "testdata/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E101: colour: unknown top-level key")
	assert.Contains(t, out, "E102: hacks[0]")
}

func TestValidate_RegistrationErrors(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "testdata/duplicate.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "E110", resp.Data.Errors[0].Code)
	assert.Equal(t, "properties[1]", resp.Data.Errors[0].Path)
	assert.Contains(t, resp.Data.Errors[0].Message, "DUPLICATE_ID")
}

func TestValidate_MissingConfig(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestValidate_JSONSuccess(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "testdata/counter.yaml")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"valid": true}, resp.Data)
}

func TestCheck_Wiring(t *testing.T) {
	out, err := execute(t, "check", "testdata/counter.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance: counter")
	assert.Contains(t, out, "count : number (Count)")
	assert.Contains(t, out, "    -> countChanged")
	assert.Contains(t, out, "reset the counter")
	assert.Contains(t, out, "✓ No event loops")
}

func TestCheck_Cycles(t *testing.T) {
	out, err := execute(t, "check", "testdata/loop.yaml")
	require.NoError(t, err, "loops are warnings by default")
	assert.Contains(t, out, "event loop: ping -> pong -> ping")

	out, err = execute(t, "--format", "json", "check", "--fail-on-cycles", "testdata/loop.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "pingpong", resp.Data.Instance)
	require.Len(t, resp.Data.Cycles, 1)
	assert.Equal(t, []string{"ping", "pong", "ping"}, resp.Data.Cycles[0].Path)

	var pong EventInfo
	for _, ev := range resp.Data.Events {
		if ev.Name == "pong" {
			pong = ev
		}
	}
	assert.Equal(t, []string{"hits"}, pong.Sources)
	assert.Equal(t, []string{"bounce"}, pong.Hacks)
	assert.Equal(t, []string{"ping"}, pong.Dispatches)
}
