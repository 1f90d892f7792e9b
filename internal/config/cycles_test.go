package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseYAML(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse([]byte(src), FormatYAML, "test.yaml")
	require.NoError(t, err)
	return doc
}

func TestAnalyzeCycles_Acyclic(t *testing.T) {
	doc, err := Load("testdata/counter.yaml")
	require.NoError(t, err)
	assert.Empty(t, AnalyzeCycles(doc))
	assert.Empty(t, AnalyzeCycles(&Document{}))
}

func TestAnalyzeCycles_PingPong(t *testing.T) {
	doc := parseYAML(t, `
properties:
  - id: a
    triggers: [ping]
    dispatch: [pong]
hacks:
  - triggers: [pong]
    dispatch: [ping]
`)
	warnings := AnalyzeCycles(doc)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"ping", "pong", "ping"}, warnings[0].Path)
	assert.Equal(t, "event loop: ping -> pong -> ping", warnings[0].Message)
	assert.Equal(t, "warning", warnings[0].Level)
}

func TestAnalyzeCycles_SelfLoopThroughSet(t *testing.T) {
	doc := parseYAML(t, `
properties:
  - id: n
    dispatch: [tick]
hacks:
  - triggers: [tick]
    set: {n: 1}
`)
	warnings := AnalyzeCycles(doc)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"tick", "tick"}, warnings[0].Path)
}

func TestAnalyzeCycles_ThroughService(t *testing.T) {
	doc := parseYAML(t, `
properties:
  - id: status
    dispatch: [statusChanged]
services:
  - id: poll
    url: http://api.test/poll
    target: status
hacks:
  - triggers: [statusChanged]
    request: [poll]
  - triggers: [unrelated]
    dispatch: [other]
`)
	warnings := AnalyzeCycles(doc)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"statusChanged", "statusChanged"}, warnings[0].Path)
}
