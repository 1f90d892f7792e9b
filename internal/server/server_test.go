package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/metrics"
	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/testutil"
)

func newInstance(t *testing.T, name string, opts ...reactor.Option) *reactor.Instance {
	t.Helper()
	logs := testutil.NewLogCapture()
	base := []reactor.Option{
		reactor.WithLogger(logs.Logger()),
		reactor.WithTokenGenerator(testutil.NewSequenceTokens("")),
	}
	inst, err := reactor.NewRoot().NewInstance(name, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(inst.Teardown)

	require.NoError(t, inst.AddProperty(reactor.PropertySpec{
		ID:       "count",
		Label:    "Count",
		Type:     "number",
		Value:    0,
		Dispatch: []string{"countChanged"},
	}))
	require.NoError(t, inst.AddProperty(reactor.PropertySpec{
		ID:       "status",
		Type:     "string",
		Value:    "idle",
		Triggers: []string{"statusReported"},
	}))
	require.NoError(t, inst.AddShortcut(reactor.ShortcutSpec{
		Key:         "s",
		Events:      []string{"statusReported"},
		Data:        map[string]any{"status": "shortcut"},
		Description: "report status",
	}))
	return inst
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_Properties(t *testing.T) {
	inst := newInstance(t, "app")
	srv := New(inst)

	w := do(t, srv, http.MethodGet, "/properties", "")
	require.Equal(t, http.StatusOK, w.Code)
	props := decodeBody[[]PropertyView](t, w)
	require.Len(t, props, 2)
	assert.Equal(t, "count", props[0].ID)
	assert.Equal(t, "Count", props[0].Label)
	assert.Equal(t, "number", props[0].Type)
	assert.Equal(t, []string{"countChanged"}, props[0].Dispatches)
	assert.Equal(t, []string{"statusReported"}, props[1].Triggers)

	w = do(t, srv, http.MethodGet, "/properties/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeBody[PropertyView](t, w).Value)

	w = do(t, srv, http.MethodGet, "/properties/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_PROPERTY", decodeBody[errorBody](t, w).Error.Code)
}

func TestServer_WritesAreQueued(t *testing.T) {
	inst := newInstance(t, "app")
	srv := New(inst)

	w := do(t, srv, http.MethodPut, "/properties/count", `{"value": 4}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 0, inst.Get("count"), "not propagated before the turn runs")

	w = do(t, srv, http.MethodPost, "/events/statusReported", `{"status": "busy"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.NoError(t, inst.Flush(t.Context()))
	assert.Equal(t, float64(4), inst.Get("count"))
	assert.Equal(t, "busy", inst.Get("status"))
}

func TestServer_ShortcutsAndOrders(t *testing.T) {
	inst := newInstance(t, "app")
	srv := New(inst)

	w := do(t, srv, http.MethodGet, "/shortcuts", "")
	require.Equal(t, http.StatusOK, w.Code)
	shortcuts := decodeBody[[]ShortcutView](t, w)
	require.Len(t, shortcuts, 1)
	assert.Equal(t, "s", shortcuts[0].Key)
	assert.Equal(t, "report status", shortcuts[0].Description)

	w = do(t, srv, http.MethodPost, "/shortcuts/s", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, inst.Flush(t.Context()))
	assert.Equal(t, "shortcut", inst.Get("status"))

	w = do(t, srv, http.MethodPost, "/orders", `{"kind": "update", "data": {"count": 9}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, inst.Flush(t.Context()))
	assert.Equal(t, float64(9), inst.Get("count"))
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", false, http.MethodPut, "/properties/count", `{`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing body", false, http.MethodPut, "/properties/count", ``, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown property", false, http.MethodPut, "/properties/ghost", `{"value": 1}`, http.StatusNotFound, "UNKNOWN_PROPERTY"},
		{"strict unknown shortcut", true, http.MethodPost, "/shortcuts/zz", ``, http.StatusUnprocessableEntity, "UNKNOWN_SHORTCUT"},
		{"strict malformed order", true, http.MethodPost, "/orders", `{"kind": "teleport"}`, http.StatusUnprocessableEntity, "MALFORMED_ORDER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(newInstance(t, "app", reactor.WithStrict(tt.strict)))
			w := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeBody[errorBody](t, w).Error.Code)
		})
	}
}

func TestServer_LenientSoftErrorIsAccepted(t *testing.T) {
	srv := New(newInstance(t, "app"))
	w := do(t, srv, http.MethodPost, "/shortcuts/zz", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestServer_TornDown(t *testing.T) {
	inst := newInstance(t, "app")
	srv := New(inst)
	inst.Teardown()

	w := do(t, srv, http.MethodPost, "/events/ping", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Swap(t *testing.T) {
	first := newInstance(t, "first")
	srv := New(first)

	second := newInstance(t, "second")
	assert.Same(t, first, srv.Swap(second))

	w := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second", decodeBody[map[string]any](t, w)["instance"])
}

func TestServer_RunDrivesWrites(t *testing.T) {
	inst := newInstance(t, "app")
	srv := New(inst)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = inst.Run(ctx)
	}()

	w := do(t, srv, http.MethodPut, "/properties/count", `{"value": 3}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		return inst.Get("count") == float64(3)
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestServer_Metrics(t *testing.T) {
	obs := metrics.New(metrics.Config{})
	inst := newInstance(t, "app", reactor.WithObserver(obs))
	srv := New(inst, WithMetrics(obs.Handler()))

	require.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPut, "/properties/count", `{"value": 1}`).Code)
	require.NoError(t, inst.Flush(t.Context()))

	w := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `reactor_passes_total{instance="app"}`)

	assert.Equal(t, http.StatusNotFound, do(t, New(inst), http.MethodGet, "/metrics", "").Code)
}
