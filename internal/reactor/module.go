package reactor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// PropertyBinding runs once when its module is added and again after every
// accepted change of the bound property. Scope.Input holds the current
// value.
type PropertyBinding func(s *Scope) error

// EventBinding runs for every processed event of its type. emitter names
// the origin of the loop.
type EventBinding func(s *Scope, ev Event, emitter string) error

// Bindings are the trigger tables a module declares.
type Bindings struct {
	Properties map[string]PropertyBinding
	Events     map[string]EventBinding
}

// Module is the handle given to a view or other collaborator. It exposes a
// capability-scoped subset of the instance; writes go through the queue
// with the module as emitter.
type Module struct {
	id        string
	inst      *Instance
	props     map[string]PropertyBinding
	events    map[string]EventBinding
	mu        sync.Mutex
	listeners []ListenerID
	removed   atomic.Bool
}

type moduleTable struct {
	mu      sync.RWMutex
	byID    map[string]*Module
	ordered []*Module
}

func newModuleTable() *moduleTable {
	return &moduleTable{byID: make(map[string]*Module)}
}

func (t *moduleTable) forProperty(id string) []*Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Module
	for _, m := range t.ordered {
		if m.props[id] != nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *moduleTable) forEvent(name string) []*Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Module
	for _, m := range t.ordered {
		if m.events[name] != nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *moduleTable) reset() []*Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.ordered
	t.byID = make(map[string]*Module)
	t.ordered = nil
	return old
}

// AddModule registers a module's bindings and returns its handle.
//
// Every property binding is invoked once with the current value; the
// captured effects are scheduled as one top-level batch.
func (inst *Instance) AddModule(id string, b Bindings) (*Module, error) {
	if err := inst.alive(); err != nil {
		return nil, err
	}
	id = canonical(id)
	if !validID(id) {
		return nil, inst.configErr(ErrCodeInvalidID, id, "module id must match "+idPattern.String())
	}

	m := &Module{
		id:     id,
		inst:   inst,
		props:  make(map[string]PropertyBinding, len(b.Properties)),
		events: make(map[string]EventBinding, len(b.Events)),
	}
	for prop, fn := range b.Properties {
		prop = canonical(prop)
		if !inst.Has(prop) {
			return nil, inst.configErr(ErrCodeUnknownID, prop, fmt.Sprintf("module %q binds an undeclared property", id))
		}
		m.props[prop] = fn
	}
	for name, fn := range b.Events {
		m.events[canonical(name)] = fn
	}

	t := inst.modules
	t.mu.Lock()
	if _, exists := t.byID[id]; exists {
		t.mu.Unlock()
		return nil, inst.configErr(ErrCodeDuplicateID, id, "module already registered")
	}
	t.byID[id] = m
	t.ordered = append(t.ordered, m)
	t.mu.Unlock()

	initial := newBatch("module:" + id)
	for _, prop := range inst.Properties() {
		if m.props[prop] == nil {
			continue
		}
		eff, err := m.runProperty(prop)
		if err != nil {
			if err := inst.handle(err); err != nil {
				return m, err
			}
			continue
		}
		inst.absorb(initial, eff, "module:"+id)
	}
	if !initial.empty() {
		inst.schedule(&turn{batch: initial})
	}

	inst.logger.Debug("module added",
		"module", id,
		"properties", len(m.props),
		"events", len(m.events),
	)
	return m, nil
}

// RemoveModule revokes a module's bindings and hub listeners.
func (inst *Instance) RemoveModule(id string) bool {
	t := inst.modules
	id = canonical(id)

	t.mu.Lock()
	m, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
		for i, o := range t.ordered {
			if o == m {
				t.ordered = append(t.ordered[:i:i], t.ordered[i+1:]...)
				break
			}
		}
	}
	t.mu.Unlock()

	if ok {
		m.revoke()
	}
	return ok
}

// Modules returns module ids in registration order.
func (inst *Instance) Modules() []string {
	t := inst.modules
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, len(t.ordered))
	for i, m := range t.ordered {
		ids[i] = m.id
	}
	return ids
}

func (m *Module) revoke() {
	m.removed.Store(true)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lid := range m.listeners {
		m.inst.hub.Off(lid)
	}
	m.listeners = nil
}

func (m *Module) runProperty(prop string) (Effects, error) {
	fn := m.props[prop]
	res, err := m.inst.Execute(func(s *Scope) (any, error) {
		return nil, fn(s)
	}, ExecOptions{
		Caps:   CapAll,
		Params: map[string]any{"property": prop, "module": m.id},
		Input:  m.inst.Get(prop),
	})
	return res.Effects, err
}

func (m *Module) runEvent(ev Event, emitter string) (Effects, error) {
	fn := m.events[ev.Type]
	res, err := m.inst.Execute(func(s *Scope) (any, error) {
		return nil, fn(s, ev, emitter)
	}, ExecOptions{Caps: CapAll, Params: ev.Data, Input: ev})
	return res.Effects, err
}

// ID returns the module id.
func (m *Module) ID() string { return m.id }

// Get reads a property.
func (m *Module) Get(id string) any { return m.inst.Get(id) }

// Label returns a property label.
func (m *Module) Label(id string) string { return m.inst.Label(id) }

// TriggeringEvents returns the ascending events of a property.
func (m *Module) TriggeringEvents(id string) []string { return m.inst.TriggeringEvents(id) }

// BoundProperties returns the properties the module binds, sorted.
func (m *Module) BoundProperties() []string {
	out := make([]string, 0, len(m.props))
	for id := range m.props {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Update queues property writes.
func (m *Module) Update(values map[string]any) error {
	if err := m.usable(); err != nil {
		return err
	}
	return m.inst.enqueueUpdate(values, "module:"+m.id, false)
}

// Request queues a service call.
func (m *Module) Request(id string, params map[string]any) error {
	if err := m.usable(); err != nil {
		return err
	}
	return m.inst.enqueue("module:"+m.id, func(b *batch) {
		b.services = append(b.services, ServiceCall{ID: id, Params: params})
	})
}

// DispatchEvent queues an event.
func (m *Module) DispatchEvent(name string, data map[string]any) error {
	if err := m.usable(); err != nil {
		return err
	}
	return m.inst.enqueue("module:"+m.id, func(b *batch) {
		b.events = append(b.events, Event{Type: canonical(name), Data: data})
	})
}

// AddEventListener registers a hub listener owned by the module. It is
// removed with the module.
func (m *Module) AddEventListener(fn Handler, names ...string) ListenerID {
	id := m.inst.hub.On(fn, names...)
	m.mu.Lock()
	m.listeners = append(m.listeners, id)
	m.mu.Unlock()
	return id
}

// RemoveEventListener removes a listener, from all or the named events.
func (m *Module) RemoveEventListener(id ListenerID, names ...string) {
	m.inst.hub.Off(id, names...)
}

// Warn logs at warn level with the module id.
func (m *Module) Warn(msg string, args ...any) {
	m.inst.logger.Warn(msg, append([]any{"module", m.id}, args...)...)
}

// Log logs at info level with the module id.
func (m *Module) Log(msg string, args ...any) {
	m.inst.logger.Info(msg, append([]any{"module", m.id}, args...)...)
}

// Die logs msg and returns it as a fatal error.
func (m *Module) Die(msg string) error {
	m.inst.logger.Error("module died", "module", m.id, "message", msg)
	return &RuntimeError{Code: ErrCodeDied, Instance: m.inst.name, Message: msg, Details: map[string]string{"module": m.id}}
}

func (m *Module) usable() error {
	if m.removed.Load() {
		return &RuntimeError{
			Code:     ErrCodeTornDown,
			Instance: m.inst.name,
			Message:  fmt.Sprintf("module %q was removed", m.id),
		}
	}
	return m.inst.alive()
}
