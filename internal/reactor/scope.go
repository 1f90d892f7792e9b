package reactor

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
)

// Capability selects the mutating methods a Scope accepts.
type Capability uint8

const (
	CapUpdate Capability = 1 << iota
	CapDispatch
	CapRequest

	CapNone Capability = 0
	CapAll             = CapUpdate | CapDispatch | CapRequest
)

// Update is one captured property write.
type Update struct {
	ID    string
	Value any
}

// Effects are the side effects a callback captured through its Scope.
// Updates keep call order; a second write to the same id inside one
// callback replaces the first.
type Effects struct {
	Updates  []Update
	Events   []Event
	Services []ServiceCall
}

func (e Effects) empty() bool {
	return len(e.Updates) == 0 && len(e.Events) == 0 && len(e.Services) == 0
}

// ExecOptions configures a sandboxed call.
type ExecOptions struct {
	Caps   Capability
	Params map[string]any
	Input  any
}

// Result is what a sandboxed call returned plus what it captured.
type Result struct {
	Returned any
	Effects
}

// Scope is the restricted view of an Instance handed to user callbacks.
//
// Update, DispatchEvent and Request only record effects; the caller merges
// them after the callback returns. A Scope is disposed as soon as its
// callback returns and panics if used afterwards.
type Scope struct {
	inst     *Instance
	caps     Capability
	params   map[string]any
	input    any
	effects  Effects
	disposed atomic.Bool
}

type dieSignal struct {
	message string
}

func (s *Scope) guard(need Capability, op string) {
	if s.disposed.Load() {
		panic(&RuntimeError{
			Code:     ErrCodeScopeDisposed,
			Instance: s.inst.name,
			Message:  op + " called on a disposed scope",
		})
	}
	if need != CapNone && s.caps&need == 0 {
		panic(&RuntimeError{
			Code:     ErrCodeCapabilityDenied,
			Instance: s.inst.name,
			Message:  op + " is not available in this scope",
		})
	}
}

// Get reads a property.
func (s *Scope) Get(id string) any {
	s.guard(CapNone, "get")
	return s.inst.Get(id)
}

// Input returns the value the callback was invoked for: the incoming value
// for setters, the stored one for getters and property bindings, the
// response data for service hooks.
func (s *Scope) Input() any {
	s.guard(CapNone, "input")
	return s.input
}

// Param returns a call parameter.
func (s *Scope) Param(name string) any {
	s.guard(CapNone, "param")
	return s.params[name]
}

// Params returns a copy of all call parameters.
func (s *Scope) Params() map[string]any {
	s.guard(CapNone, "params")
	out := make(map[string]any, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Update records property writes. Keys are recorded in sorted order.
func (s *Scope) Update(values map[string]any) {
	s.guard(CapUpdate, "update")
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.set(k, values[k])
	}
}

// Set records a single property write.
func (s *Scope) Set(id string, v any) {
	s.guard(CapUpdate, "set")
	s.set(id, v)
}

func (s *Scope) set(id string, v any) {
	id = canonical(id)
	for i := range s.effects.Updates {
		if s.effects.Updates[i].ID == id {
			s.effects.Updates[i].Value = v
			return
		}
	}
	s.effects.Updates = append(s.effects.Updates, Update{ID: id, Value: v})
}

// DispatchEvent records an event to dispatch.
func (s *Scope) DispatchEvent(name string, data map[string]any) {
	s.guard(CapDispatch, "dispatchEvent")
	s.effects.Events = append(s.effects.Events, Event{Type: canonical(name), Data: data})
}

// Request records a service call.
func (s *Scope) Request(id string, params map[string]any) {
	s.guard(CapRequest, "request")
	s.effects.Services = append(s.effects.Services, ServiceCall{ID: id, Params: params})
}

// RequestGroup records a service call with follow-up calls.
func (s *Scope) RequestGroup(call ServiceCall) {
	s.guard(CapRequest, "request")
	s.effects.Services = append(s.effects.Services, call)
}

// Warn logs at warn level through the instance logger.
func (s *Scope) Warn(msg string, args ...any) {
	s.guard(CapNone, "warn")
	s.inst.logger.Warn(msg, args...)
}

// Log logs at info level through the instance logger.
func (s *Scope) Log(msg string, args ...any) {
	s.guard(CapNone, "log")
	s.inst.logger.Info(msg, args...)
}

// Die aborts the callback and the current loop with a fatal error.
func (s *Scope) Die(msg string) {
	s.guard(CapNone, "die")
	panic(dieSignal{message: msg})
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_$][A-Za-z_$0-9.-]*)\}`)

// Expand replaces {name} placeholders with call parameters, falling back to
// property values. Unresolved placeholders are left as they are.
func (s *Scope) Expand(template string) string {
	s.guard(CapNone, "expand")
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := s.params[name]; ok && v != nil {
			return fmt.Sprint(v)
		}
		if v, ok := s.inst.Lookup(name); ok && v != nil {
			return fmt.Sprint(v)
		}
		return m
	})
}

// Execute runs fn against a fresh Scope and returns what it returned plus
// the captured effects. The Scope is disposed when fn returns.
//
// A panic in fn is recovered: Die yields a DIED error, scope misuse is
// returned as is, anything else becomes CALLBACK_FAILED. An error returned
// by fn becomes CALLBACK_FAILED unless it already is a RuntimeError.
func (inst *Instance) Execute(fn func(s *Scope) (any, error), opts ExecOptions) (res Result, err error) {
	s := &Scope{
		inst:   inst,
		caps:   opts.Caps,
		params: opts.Params,
		input:  opts.Input,
	}
	defer s.disposed.Store(true)
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = inst.recovered(r)
		}
	}()

	ret, ferr := fn(s)
	if ferr != nil {
		var re *RuntimeError
		if errors.As(ferr, &re) {
			return Result{}, ferr
		}
		return Result{}, &RuntimeError{
			Code:     ErrCodeCallbackFailed,
			Instance: inst.name,
			Message:  "callback returned an error",
			Err:      ferr,
		}
	}
	return Result{Returned: ret, Effects: s.effects}, nil
}

func (inst *Instance) recovered(r any) error {
	switch v := r.(type) {
	case dieSignal:
		inst.logger.Error("callback died", "message", v.message)
		return &RuntimeError{Code: ErrCodeDied, Instance: inst.name, Message: v.message}
	case *RuntimeError:
		return v
	case error:
		return &RuntimeError{Code: ErrCodeCallbackFailed, Instance: inst.name, Message: "callback panicked", Err: v}
	default:
		return &RuntimeError{Code: ErrCodeCallbackFailed, Instance: inst.name, Message: fmt.Sprintf("callback panicked: %v", v)}
	}
}
