// Package server exposes a running reactor instance over HTTP.
//
// Writes are queued on the instance and answered with 202 Accepted; the
// caller that owns the instance drives propagation (usually with Run).
//
// Routes:
//
//	GET  /healthz
//	GET  /properties
//	GET  /properties/{id}
//	PUT  /properties/{id}      {"value": ..., "force": false}
//	POST /events/{name}        payload object (optional)
//	POST /services/{id}        call parameters (optional)
//	GET  /shortcuts
//	POST /shortcuts/{key}
//	POST /orders               reactor.Order
//	GET  /metrics              when a metrics handler is configured
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/reactor/internal/reactor"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves one instance. The instance can be swapped while serving,
// which is how configuration reload is applied.
type Server struct {
	mu   sync.RWMutex
	inst *reactor.Instance

	logger  *slog.Logger
	metrics http.Handler
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates a server for inst.
func New(inst *reactor.Instance, opts ...Option) *Server {
	s := &Server{inst: inst}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.router = s.routes()
	return s
}

// Instance returns the instance currently served.
func (s *Server) Instance() *reactor.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inst
}

// Swap replaces the served instance and returns the previous one. The
// caller tears the previous instance down.
func (s *Server) Swap(inst *reactor.Instance) *reactor.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.inst
	s.inst = inst
	return old
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/properties", func(r chi.Router) {
		r.Get("/", s.handleListProperties)
		r.Get("/{id}", s.handleGetProperty)
		r.Put("/{id}", s.handlePutProperty)
	})
	r.Post("/events/{name}", s.handleEvent)
	r.Post("/services/{id}", s.handleRequest)
	r.Get("/shortcuts", s.handleListShortcuts)
	r.Post("/shortcuts/{key}", s.handleShortcut)
	r.Post("/orders", s.handleOrder)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// PropertyView is the JSON form of a property.
type PropertyView struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Value      any      `json:"value"`
	Triggers   []string `json:"triggers,omitempty"`
	Dispatches []string `json:"dispatches,omitempty"`
}

func view(inst *reactor.Instance, id string) PropertyView {
	typ := "untyped"
	if t := inst.Type(id); t != nil {
		typ = t.String()
	}
	return PropertyView{
		ID:         id,
		Label:      inst.Label(id),
		Type:       typ,
		Value:      inst.Get(id),
		Triggers:   inst.TriggeringEvents(id),
		Dispatches: inst.DispatchingEvents(id),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	inst := s.Instance()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"instance":  inst.Name(),
		"pending":   inst.Pending(),
		"in_flight": inst.InFlight(),
	})
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	inst := s.Instance()
	ids := inst.Properties()
	out := make([]PropertyView, 0, len(ids))
	for _, id := range ids {
		out = append(out, view(inst, id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	inst := s.Instance()
	id := chi.URLParam(r, "id")
	if !inst.Has(id) {
		writeError(w, http.StatusNotFound, string(reactor.ErrCodeUnknownProperty), "no property "+id)
		return
	}
	writeJSON(w, http.StatusOK, view(inst, id))
}

type putBody struct {
	Value any  `json:"value"`
	Force bool `json:"force"`
}

func (s *Server) handlePutProperty(w http.ResponseWriter, r *http.Request) {
	inst := s.Instance()
	id := chi.URLParam(r, "id")
	if !inst.Has(id) {
		writeError(w, http.StatusNotFound, string(reactor.ErrCodeUnknownProperty), "no property "+id)
		return
	}
	var body putBody
	if !decode(w, r, &body, false) {
		return
	}
	s.submit(w, inst, reactor.Order{
		Kind:  reactor.OrderUpdate,
		Data:  map[string]any{id: body.Value},
		Force: body.Force,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !decode(w, r, &data, true) {
		return
	}
	s.submit(w, s.Instance(), reactor.Order{
		Kind: reactor.OrderEvent,
		Type: chi.URLParam(r, "name"),
		Data: data,
	})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if !decode(w, r, &params, true) {
		return
	}
	s.submit(w, s.Instance(), reactor.Order{
		Kind: reactor.OrderRequest,
		Type: chi.URLParam(r, "id"),
		Data: params,
	})
}

// ShortcutView is the JSON form of a shortcut binding.
type ShortcutView struct {
	Key         string         `json:"key"`
	Events      []string       `json:"events"`
	Data        map[string]any `json:"data,omitempty"`
	Description string         `json:"description,omitempty"`
}

func (s *Server) handleListShortcuts(w http.ResponseWriter, r *http.Request) {
	specs := s.Instance().Shortcuts()
	out := make([]ShortcutView, len(specs))
	for i, sc := range specs {
		out[i] = ShortcutView{Key: sc.Key, Events: sc.Events, Data: sc.Data, Description: sc.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShortcut(w http.ResponseWriter, r *http.Request) {
	s.submit(w, s.Instance(), reactor.Order{
		Kind: reactor.OrderShortcut,
		Type: chi.URLParam(r, "key"),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var o reactor.Order
	if !decode(w, r, &o, false) {
		return
	}
	s.submit(w, s.Instance(), o)
}

func (s *Server) submit(w http.ResponseWriter, inst *reactor.Instance, o reactor.Order) {
	if err := inst.Submit(o); err != nil {
		var re *reactor.RuntimeError
		switch {
		case reactor.HasCode(err, reactor.ErrCodeTornDown):
			writeError(w, http.StatusServiceUnavailable, string(reactor.ErrCodeTornDown), err.Error())
		case errors.As(err, &re):
			writeError(w, http.StatusUnprocessableEntity, string(re.Code), err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":  true,
		"pending": inst.Pending(),
	})
}

// decode reads a JSON body into v. An empty body is accepted when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
