package reactor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/reactor/internal/types"
)

// Transport sends service requests. Implementations must honor ctx
// cancellation; Abort relies on it.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Request is the transport-level description of a service call.
type Request struct {
	Method      string
	URL         string
	Payload     any
	Headers     map[string]string
	ContentType string
	DataType    string
	Timeout     time.Duration
}

// Response carries decoded response data plus transport metadata.
type Response struct {
	Data   any
	Status int
	Meta   map[string]any
}

// ServiceSpec declares a remote service.
type ServiceSpec struct {
	ID string

	// URL may contain {name} placeholders, expanded from call parameters
	// and then from property values. URLFunc takes precedence.
	URL     string
	URLFunc func(s *Scope) string

	Method      string
	Payload     any
	Headers     map[string]string
	ContentType string
	DataType    string
	Timeout     time.Duration

	// Before may adjust the request; returning false cancels the call.
	Before  func(s *Scope, req *Request) bool
	Success func(s *Scope, data any) error
	Error   func(s *Scope, err error) error

	// Expect is a type descriptor the response data must satisfy. A
	// mismatch is handled like a transport error.
	Expect any

	// Events are dispatched with the response data after success.
	Events []string

	// Target receives the response data, or the value found at DataPath
	// (dotted keys, numeric segments index arrays).
	Target   string
	DataPath string
}

// ServiceCall is a request for a service. Services holds follow-up calls:
// flattened into the same pass when services are merged, otherwise issued
// after this call succeeds.
type ServiceCall struct {
	ID       string
	Params   map[string]any
	Services []ServiceCall
}

type service struct {
	spec   ServiceSpec
	expect *types.Type
	events []string
	target string
}

type flight struct {
	cancel  context.CancelFunc
	aborted atomic.Bool
}

type completion struct {
	svc  *service
	call ServiceCall
	resp Response
	err  error
}

type serviceTable struct {
	mu       sync.RWMutex
	services map[string]*service
	order    []string

	flightMu sync.Mutex
	flights  map[string]*flight
	inflight atomic.Int64
}

func newServiceTable() *serviceTable {
	return &serviceTable{
		services: make(map[string]*service),
		flights:  make(map[string]*flight),
	}
}

func (t *serviceTable) get(id string) *service {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.services[id]
}

// AddService registers a service.
func (inst *Instance) AddService(spec ServiceSpec) error {
	if err := inst.alive(); err != nil {
		return err
	}
	id := canonical(spec.ID)
	switch {
	case id == "":
		return inst.configErr(ErrCodeMissingField, "", "service id is required")
	case !validID(id):
		return inst.configErr(ErrCodeInvalidID, id, "service id must match "+idPattern.String())
	case spec.URL == "" && spec.URLFunc == nil:
		return inst.configErr(ErrCodeMissingField, id, "service url is required")
	}
	spec.ID = id
	if spec.Method == "" {
		spec.Method = "GET"
	}
	spec.Method = strings.ToUpper(spec.Method)

	svc := &service{
		spec:   spec,
		events: canonicalAll(spec.Events),
		target: canonical(spec.Target),
	}
	if spec.Expect != nil {
		typ, err := inst.types.Parse(spec.Expect)
		if err == nil && !typ.IsValid() {
			err = fmt.Errorf("descriptor %s references an undefined type", typ)
		}
		if err != nil {
			return &ConfigError{Code: ErrCodeInvalidType, Instance: inst.name, ID: id, Message: "invalid service expect type", Err: err}
		}
		svc.expect = typ
	}

	t := inst.services
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.services[id]; exists {
		return inst.configErr(ErrCodeDuplicateID, id, "service already registered")
	}
	t.services[id] = svc
	t.order = append(t.order, id)
	return nil
}

// Services returns registered service ids in registration order.
func (inst *Instance) Services() []string {
	t := inst.services
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// InFlight returns the number of service calls awaiting completion.
func (inst *Instance) InFlight() int {
	return int(inst.services.inflight.Load())
}

// Abort cancels the in-flight call of a service. The completion is dropped.
// Reports whether a call was in flight.
func (inst *Instance) Abort(id string) bool {
	t := inst.services
	t.flightMu.Lock()
	defer t.flightMu.Unlock()

	fl, ok := t.flights[canonical(id)]
	if !ok {
		return false
	}
	fl.aborted.Store(true)
	fl.cancel()
	delete(t.flights, canonical(id))
	return true
}

func (inst *Instance) abortAll() {
	t := inst.services
	t.flightMu.Lock()
	defer t.flightMu.Unlock()
	for id, fl := range t.flights {
		fl.aborted.Store(true)
		fl.cancel()
		delete(t.flights, id)
	}
}

// expandCalls returns the calls a pass fires. With merging on, nested
// groups are flattened and identical calls dropped.
func (inst *Instance) expandCalls(calls []ServiceCall) []ServiceCall {
	if !inst.settings.MergeServices {
		return calls
	}
	var out []ServiceCall
	var walk func([]ServiceCall)
	walk = func(cs []ServiceCall) {
		for _, c := range cs {
			if c.ID != "" && !containsCall(out, c) {
				out = append(out, ServiceCall{ID: c.ID, Params: c.Params})
			}
			walk(c.Services)
		}
	}
	walk(calls)
	return out
}

func containsCall(calls []ServiceCall, c ServiceCall) bool {
	for _, o := range calls {
		if o.ID == c.ID && types.Equal(o.Params, c.Params) {
			return true
		}
	}
	return false
}

// startService prepares and launches one call. Effects captured by the URL
// function and the Before hook are returned for the pass to merge.
func (inst *Instance) startService(call ServiceCall) (Effects, error) {
	id := canonical(call.ID)
	svc := inst.services.get(id)
	if svc == nil {
		return Effects{}, &RuntimeError{
			Code:     ErrCodeUnknownService,
			Instance: inst.name,
			Message:  fmt.Sprintf("service %q is not registered", id),
		}
	}
	if inst.transport == nil {
		return Effects{}, &RuntimeError{
			Code:     ErrCodeNoTransport,
			Instance: inst.name,
			Message:  fmt.Sprintf("service %q requested without a transport", id),
		}
	}

	spec := svc.spec
	req := Request{
		Method:      spec.Method,
		Payload:     spec.Payload,
		Headers:     copyHeaders(spec.Headers),
		ContentType: spec.ContentType,
		DataType:    spec.DataType,
		Timeout:     spec.Timeout,
	}
	if req.Payload == nil && len(call.Params) > 0 {
		req.Payload = call.Params
	}

	proceed := true
	res, err := inst.Execute(func(s *Scope) (any, error) {
		if spec.URLFunc != nil {
			req.URL = spec.URLFunc(s)
		} else {
			req.URL = s.Expand(spec.URL)
		}
		if spec.Before != nil {
			proceed = spec.Before(s, &req)
		}
		return nil, nil
	}, ExecOptions{Caps: CapAll, Params: call.Params})
	if err != nil {
		return Effects{}, err
	}
	if !proceed {
		inst.logger.Debug("service call cancelled by before hook", "service", id)
		return res.Effects, nil
	}

	inst.launch(svc, call, req)
	return res.Effects, nil
}

func (inst *Instance) launch(svc *service, call ServiceCall, req Request) {
	t := inst.services
	id := svc.spec.ID
	ctx, cancel := context.WithCancel(inst.baseCtx)
	fl := &flight{cancel: cancel}

	t.flightMu.Lock()
	if prev, ok := t.flights[id]; ok {
		prev.aborted.Store(true)
		prev.cancel()
		inst.logger.Debug("service call replaced", "service", id)
	}
	t.flights[id] = fl
	t.inflight.Add(1)
	t.flightMu.Unlock()

	inst.logger.Debug("service call started", "service", id, "method", req.Method, "url", req.URL)

	go func() {
		defer cancel()
		resp, err := inst.transport.Send(ctx, req)

		t.flightMu.Lock()
		if t.flights[id] == fl {
			delete(t.flights, id)
		}
		t.flightMu.Unlock()

		if fl.aborted.Load() {
			inst.logger.Info("service call aborted", "service", id)
			t.inflight.Add(-1)
			inst.queue.Notify()
			return
		}

		// Enqueue before decrementing so Settle never sees an idle instance
		// with a completion still on its way.
		inst.schedule(&turn{
			batch:  newBatch("service:" + id),
			settle: &completion{svc: svc, call: call, resp: resp, err: err},
		})
		t.inflight.Add(-1)
	}()
}

// settle turns a completion into the content of its top-level batch.
func (inst *Instance) settle(c *completion, b *batch) error {
	svc := c.svc
	id := svc.spec.ID
	data := c.resp.Data

	err := c.err
	if err == nil && svc.expect != nil {
		ok, cerr := svc.expect.Check(data)
		switch {
		case cerr != nil:
			err = cerr
		case !ok:
			err = fmt.Errorf("response data does not match %s", svc.expect)
		}
	}

	if err != nil {
		inst.logger.Warn("service call failed", "service", id, "error", err)
		if svc.spec.Error == nil {
			return nil
		}
		res, xerr := inst.Execute(func(s *Scope) (any, error) {
			return nil, svc.spec.Error(s, err)
		}, ExecOptions{Caps: CapAll, Params: c.call.Params, Input: err})
		if xerr != nil {
			return inst.handle(xerr)
		}
		inst.absorb(b, res.Effects, "service:"+id)
		return nil
	}

	inst.logger.Debug("service call succeeded", "service", id, "status", c.resp.Status)
	if svc.spec.Success != nil {
		res, xerr := inst.Execute(func(s *Scope) (any, error) {
			return nil, svc.spec.Success(s, data)
		}, ExecOptions{Caps: CapAll, Params: c.call.Params, Input: data})
		if xerr != nil {
			return inst.handle(xerr)
		}
		inst.absorb(b, res.Effects, "service:"+id)
	}
	if svc.target != "" {
		v := dig(data, svc.spec.DataPath)
		if !b.updates.put(svc.target, v) {
			inst.conflict(svc.target, "service:"+id)
		}
	}
	payload := asPayload(data)
	for _, name := range svc.events {
		b.events = append(b.events, Event{Type: name, Data: payload, Emitter: b.emitter})
	}
	if !inst.settings.MergeServices {
		b.services = append(b.services, c.call.Services...)
	}
	return nil
}

func asPayload(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return map[string]any{"data": data}
}

// dig follows a dotted path through maps and slices. A missing segment
// yields nil.
func dig(data any, path string) any {
	if path == "" {
		return data
	}
	cur := data
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
	}
	return cur
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
