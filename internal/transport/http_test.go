package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/reactor"
)

func TestHTTP_GetEncodesQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ada","tags":["a"],"age":36}`))
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, APIKey: "secret", Headers: map[string]string{"X-App": "reactor"}})
	resp, err := tr.Send(context.Background(), reactor.Request{
		Method:  "get",
		URL:     "/users/7?v=1",
		Payload: map[string]any{"b": 2, "a": "x"},
		Headers: map[string]string{"X-Trace": "t1"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/users/7", got.URL.Path)
	assert.Equal(t, "v=1&a=x&b=2", got.URL.RawQuery)
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, "reactor", got.Header.Get("X-App"))
	assert.Equal(t, "t1", got.Header.Get("X-Trace"))

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"name": "ada", "tags": []any{"a"}, "age": float64(36)}, resp.Data)
	assert.Equal(t, "application/json", resp.Meta["content_type"])
}

func TestHTTP_PostSendsJSON(t *testing.T) {
	var body map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`true`))
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL + "/"})
	resp, err := tr.Send(context.Background(), reactor.Request{
		Method:  "POST",
		URL:     "items",
		Payload: map[string]any{"title": "x"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, map[string]any{"title": "x"}, body)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, true, resp.Data)
}

func TestHTTP_FormAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte("hello " + r.PostForm.Get("name")))
	}))
	defer srv.Close()

	tr := New(Config{})
	resp, err := tr.Send(context.Background(), reactor.Request{
		Method:      "POST",
		URL:         srv.URL + "/greet",
		Payload:     map[string]any{"name": "bob"},
		ContentType: "application/x-www-form-urlencoded",
		DataType:    "text",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", resp.Data)
}

func TestHTTP_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), reactor.Request{URL: "/users/9"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "remote error 404: no such user", err.Error())
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestHTTP_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), reactor.Request{
		URL:     "/slow",
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTP_QueryRejectsNonMap(t *testing.T) {
	_, err := New(Config{}).Send(context.Background(), reactor.Request{URL: "http://localhost/x", Payload: []any{1}})
	assert.ErrorContains(t, err, "cannot be sent as query parameters")
}

func TestHTTP_AsInstanceTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total": 3}`))
	}))
	defer srv.Close()

	inst, err := reactor.NewRoot().NewInstance("app", reactor.WithTransport(New(Config{BaseURL: srv.URL})))
	require.NoError(t, err)
	defer inst.Teardown()

	require.NoError(t, inst.AddProperty(reactor.PropertySpec{ID: "total", Type: "?number"}))
	require.NoError(t, inst.AddService(reactor.ServiceSpec{ID: "stats", URL: "/stats", Target: "total", DataPath: "total"}))
	require.NoError(t, inst.Request("stats", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, inst.Settle(ctx))
	assert.Equal(t, float64(3), inst.Get("total"))
}
