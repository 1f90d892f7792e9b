package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/reactor"
)

func counterConfig() string {
	return filepath.Join("testdata", "counter.yaml")
}

func intPtr(n int) *int { return &n }

func reactorRequest(method, url string) reactor.Request {
	return reactor.Request{Method: method, URL: url}
}

func TestRun_CounterReset(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "counter_reset.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 0, result.Values["count"])
	assert.Equal(t, "ok", result.Values["status"])
}

func TestRun_DeferredUpdatesCoalesce(t *testing.T) {
	s := &Scenario{
		Name:   "coalesce",
		Config: counterConfig(),
		Steps: []Step{
			{Update: map[string]any{"count": 1}, Defer: true},
			{Update: map[string]any{"count": 2}, Defer: true},
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Event: "countChanged", Count: intPtr(1)},
			{Type: AssertEventEmitted, Event: "countChanged", Data: map[string]any{"count": 2}},
			{Type: AssertValue, Property: "count", Equals: 2},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	passes := 0
	for _, e := range result.Trace {
		if e.Kind == KindPass {
			passes++
		}
	}
	assert.Equal(t, 2, passes)
}

func TestRun_StrictExpectError(t *testing.T) {
	strict := true
	s := &Scenario{
		Name:   "strict",
		Config: counterConfig(),
		Strict: &strict,
		Steps: []Step{
			{Update: map[string]any{"ghost": 1}, ExpectError: "UNKNOWN_PROPERTY"},
			{Shortcut: "missing", ExpectError: "UNKNOWN_SHORTCUT"},
		},
		Assertions: []Assertion{
			{Type: AssertSoftError, Code: "UNKNOWN_PROPERTY", Property: "ghost"},
			{Type: AssertSoftError, Code: "UNKNOWN_SHORTCUT", Count: intPtr(1)},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ReportsFailures(t *testing.T) {
	s := &Scenario{
		Name:   "failing",
		Config: counterConfig(),
		Steps: []Step{
			{Update: map[string]any{"count": 3}, Expect: map[string]any{"count": 4, "nope": 1}},
			{Dispatch: "ping", ExpectError: "boom"},
			{Request: "load", Params: map[string]any{"id": 9}},
		},
		Assertions: []Assertion{
			{Type: AssertValue, Property: "count", Equals: 7},
			{Type: AssertNoEvent, Event: "countChanged"},
			{Type: AssertMaxDepth, Depth: 1},
			{Type: AssertEventOrder, Events: []string{"ping", "countChanged"}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	require.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[0], "steps[0]: expected count = 4, got 3")
	assert.Contains(t, result.Errors[1], "steps[0]: expected nope = 1, property not found")
	assert.Contains(t, result.Errors[2], `steps[1]: expected error containing "boom"`)
	assert.Contains(t, result.Errors[3], "Expected: count = 7")
	assert.Contains(t, result.Errors[4], "emitted 1 times")
	assert.Contains(t, result.Errors[5], "reached depth 2")
	assert.Contains(t, result.Errors[6], "countChanged emitted before ping")
}

func TestRun_ConfigErrors(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "x", Config: "testdata/missing.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestScriptedTransport(t *testing.T) {
	tr := NewScriptedTransport([]Response{
		{URL: "http://a/1", Data: map[string]any{"ok": true}},
		{URL: "http://a/2", Method: "POST", Status: 503},
		{URL: "http://a/3", Error: "connection refused"},
	})
	ctx := context.Background()

	resp, err := tr.Send(ctx, reactorRequest("GET", "http://a/1"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"ok": true}, resp.Data)

	_, err = tr.Send(ctx, reactorRequest("GET", "http://a/2"))
	assert.ErrorContains(t, err, "no scripted response for GET http://a/2")

	resp, err = tr.Send(ctx, reactorRequest("post", "http://a/2"))
	assert.ErrorContains(t, err, "remote error 503")
	assert.Equal(t, 503, resp.Status)

	_, err = tr.Send(ctx, reactorRequest("GET", "http://a/3"))
	assert.ErrorContains(t, err, "connection refused")

	assert.Len(t, tr.Calls(), 4)
}
