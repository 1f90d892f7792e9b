package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Set(t *testing.T) {
	out, err := execute(t, "run", "testdata/counter.yaml", "--set", "count=5")
	require.NoError(t, err)
	assert.Contains(t, out, "count = 5\n")
	assert.Contains(t, out, `status = "idle"`)
	assert.Contains(t, out, "2 pass(es)")
}

func TestRun_ShortcutExpandsHackTemplate(t *testing.T) {
	out, err := execute(t, "run", "testdata/counter.yaml", "--set", "count=7", "--shortcut", "r")
	require.NoError(t, err)
	assert.Contains(t, out, "count = 0\n")
	assert.Contains(t, out, `status = "reset by keyboard"`)
}

func TestRun_OrdersFileAndJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "run", "testdata/counter.yaml", "--orders", "testdata/orders.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "counter", resp.Data.Instance)
	assert.Equal(t, float64(3), resp.Data.Values["count"])
	assert.Equal(t, "busy", resp.Data.Values["status"])
	assert.Empty(t, resp.Data.Errors)
}

func TestRun_StrictSoftError(t *testing.T) {
	out, err := execute(t, "run", "testdata/counter.yaml", "--strict", "--shortcut", "zz")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ order 1 (shortcut zz)")
	assert.Contains(t, out, "UNKNOWN_SHORTCUT")
}

func TestRun_LenientSoftErrorIsLogged(t *testing.T) {
	_, err := execute(t, "run", "testdata/counter.yaml", "--shortcut", "zz")
	require.NoError(t, err)
}

func TestRun_BadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"set without value", []string{"--set", "count"}, "want id=value"},
		{"event payload not object", []string{"--event", "ping=[1]"}, "payload must be a JSON object"},
		{"missing orders file", []string{"--orders", "testdata/nope.yaml"}, "reading orders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"run", "testdata/counter.yaml"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_MissingConfig(t *testing.T) {
	_, err := execute(t, "run", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(5), parseValue("5"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"a": "b"}, parseValue(`{"a":"b"}`))
	assert.Equal(t, "hello", parseValue("hello"))
	assert.Equal(t, "", parseValue(""))
}

func TestParseNamed(t *testing.T) {
	name, data, err := parseNamed("ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", name)
	assert.Nil(t, data)

	name, data, err = parseNamed(`load={"id":1}`)
	require.NoError(t, err)
	assert.Equal(t, "load", name)
	assert.Equal(t, map[string]any{"id": float64(1)}, data)

	_, _, err = parseNamed("={}")
	assert.Error(t, err)
}
