package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/reactor"
)

func TestObserver_PassCompleted(t *testing.T) {
	o := New(Config{})

	o.PassCompleted(reactor.PassRecord{
		Instance:   "app",
		Depth:      1,
		Emitter:    "module:view",
		Updates:    []reactor.Update{{ID: "count", Value: 1}},
		Dispatched: []string{"countChanged"},
		Hacks:      2,
	})
	o.PassCompleted(reactor.PassRecord{
		Instance: "app",
		Depth:    2,
		Skipped:  []string{"count"},
		Services: []string{"load"},
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(o.passes.WithLabelValues("app")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.loops.WithLabelValues("app", "module")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.updates.WithLabelValues("app", "count")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.skipped.WithLabelValues("app", "count")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.dispatched.WithLabelValues("app", "countChanged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.services.WithLabelValues("app", "load")))
	assert.Equal(t, float64(2), testutil.ToFloat64(o.hacks.WithLabelValues("app")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.depth))
}

func TestObserver_WiredToInstance(t *testing.T) {
	o := New(Config{Prefix: "test"})
	inst, err := reactor.NewRoot().NewInstance("app", reactor.WithObserver(o))
	require.NoError(t, err)
	defer inst.Teardown()

	require.NoError(t, inst.AddProperty(reactor.PropertySpec{
		ID:       "count",
		Type:     "number",
		Value:    0,
		Dispatch: []string{"countChanged"},
	}))
	require.NoError(t, inst.Set("count", 1))
	require.NoError(t, inst.Set("ghost", 1))
	require.NoError(t, inst.Flush(context.Background()))

	assert.Equal(t, float64(2), testutil.ToFloat64(o.passes.WithLabelValues("app")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.softErrors.WithLabelValues("app", "UNKNOWN_PROPERTY")))

	expected := `
# HELP test_events_dispatched_total Total number of events dispatched by passes
# TYPE test_events_dispatched_total counter
test_events_dispatched_total{event="countChanged",instance="app"} 1
`
	require.NoError(t, testutil.GatherAndCompare(o.Registry(), strings.NewReader(expected), "test_events_dispatched_total"))
}

func TestObserver_Handler(t *testing.T) {
	o := New(Config{})
	o.PassCompleted(reactor.PassRecord{Instance: "app", Depth: 1, Emitter: "external"})

	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reactor_loops_total{emitter="external",instance="app"} 1`)
	assert.Contains(t, string(body), "reactor_pass_depth_bucket")
}

func TestEmitterKind(t *testing.T) {
	assert.Equal(t, "module", emitterKind("module:view"))
	assert.Equal(t, "service", emitterKind("service:load:x"))
	assert.Equal(t, "external", emitterKind("external"))
}
