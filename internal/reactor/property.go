package reactor

import (
	"fmt"
	"sync"

	"github.com/roach88/reactor/internal/types"
)

// Getter computes the externally visible value from the stored one.
type Getter func(s *Scope, stored any) any

// Setter replaces the default assignment. It returns the value to store and
// whether a change happened; only changes cascade.
type Setter func(s *Scope, current, next any) (stored any, changed bool, err error)

// PropertySpec declares a property.
type PropertySpec struct {
	ID    string
	Label string

	// Type is a type descriptor (see package types). Nil leaves the property
	// untyped: no check, no no-op suppression.
	Type any

	// Value is the initial value, applied through the setter without
	// cascading. Leave nil for none.
	Value any

	// Triggers lists ascending events: an event whose payload carries a key
	// equal to ID feeds that value into this property.
	Triggers []string

	// Dispatch lists descending events fired after every accepted change.
	Dispatch []string

	Getter Getter
	Setter Setter

	// Clone and Force override the instance defaults when set.
	Clone *bool
	Force *bool
}

type property struct {
	id       string
	label    string
	typ      *types.Type
	scalar   bool
	triggers []string
	dispatch []string
	getter   Getter
	setter   Setter
	clone    *bool
	force    bool
	value    any
}

// propertyStore holds declared properties in registration order.
//
// Values are written only by the pass that holds the execution lock; the
// RWMutex lets Get run from any goroutine.
type propertyStore struct {
	mu        sync.RWMutex
	props     map[string]*property
	order     []string
	byTrigger map[string][]string
}

func newPropertyStore() *propertyStore {
	return &propertyStore{
		props:     make(map[string]*property),
		byTrigger: make(map[string][]string),
	}
}

func (ps *propertyStore) get(id string) *property {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.props[id]
}

func (ps *propertyStore) load(p *property) any {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return p.value
}

func (ps *propertyStore) store(p *property, v any) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p.value = v
}

func (ps *propertyStore) ids() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, len(ps.order))
	copy(out, ps.order)
	return out
}

// triggeredBy returns the ids of properties fed by the event, in
// registration order.
func (ps *propertyStore) triggeredBy(event string) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.byTrigger[event]
}

func (ps *propertyStore) reset() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.props = make(map[string]*property)
	ps.order = nil
	ps.byTrigger = make(map[string][]string)
}

// AddProperty registers a property and applies its initial value.
//
// The id must be a valid identifier, not reserved and not already used. An
// invalid type descriptor fails registration.
func (inst *Instance) AddProperty(spec PropertySpec) error {
	if err := inst.alive(); err != nil {
		return err
	}

	id := canonical(spec.ID)
	switch {
	case id == "":
		return inst.configErr(ErrCodeMissingField, "", "property id is required")
	case !validID(id):
		return inst.configErr(ErrCodeInvalidID, id, "property id must match "+idPattern.String())
	case reservedIDs[id]:
		return inst.configErr(ErrCodeReservedID, id, "property id is reserved")
	}

	p := &property{
		id:       id,
		label:    spec.Label,
		triggers: canonicalAll(spec.Triggers),
		dispatch: canonicalAll(spec.Dispatch),
		getter:   spec.Getter,
		setter:   spec.Setter,
		clone:    spec.Clone,
		force:    spec.Force != nil && *spec.Force,
	}
	if p.label == "" {
		p.label = id
	}
	if spec.Type != nil {
		typ, err := inst.types.Parse(spec.Type)
		if err == nil && !typ.IsValid() {
			err = fmt.Errorf("descriptor %s references an undefined type", typ)
		}
		if err != nil {
			return &ConfigError{Code: ErrCodeInvalidType, Instance: inst.name, ID: id, Message: "invalid property type", Err: err}
		}
		p.typ = typ
		p.scalar = typ.DeepScalar()
	}

	ps := inst.props
	ps.mu.Lock()
	if _, exists := ps.props[id]; exists {
		ps.mu.Unlock()
		return inst.configErr(ErrCodeDuplicateID, id, "property already registered")
	}
	ps.props[id] = p
	ps.order = append(ps.order, id)
	for _, ev := range p.triggers {
		ps.byTrigger[ev] = append(ps.byTrigger[ev], id)
	}
	ps.mu.Unlock()

	if spec.Value != nil {
		if _, eff, err := inst.assign(p, spec.Value); err != nil {
			if err := inst.handle(err); err != nil {
				return err
			}
		} else if !eff.empty() {
			inst.logger.Debug("initial setter effects ignored", "property", id)
		}
	}

	inst.logger.Debug("property registered", "property", id, "type", typeString(p.typ))
	return nil
}

// assign runs the setter for p and stores the result. Effects captured by a
// custom setter are returned for the caller to merge.
func (inst *Instance) assign(p *property, next any) (bool, Effects, error) {
	current := inst.props.load(p)

	if p.typ != nil {
		ok, err := p.typ.Check(next)
		if err != nil {
			return false, Effects{}, err
		}
		if !ok {
			return false, Effects{}, &RuntimeError{
				Code:     ErrCodeTypeMismatch,
				Instance: inst.name,
				Property: p.id,
				Message:  fmt.Sprintf("value of type %s does not match %s", types.Get(next), p.typ),
			}
		}
	}

	if p.setter != nil {
		var (
			stored  any
			changed bool
		)
		res, err := inst.Execute(func(s *Scope) (any, error) {
			var err error
			stored, changed, err = p.setter(s, current, next)
			return nil, err
		}, ExecOptions{
			Caps:   CapAll,
			Params: map[string]any{"property": p.id},
			Input:  next,
		})
		if err != nil {
			return false, Effects{}, err
		}
		if changed {
			inst.props.store(p, inst.copyIn(p, stored))
		}
		return changed, res.Effects, nil
	}

	if p.scalar && p.typ.Compare(next, current) {
		return false, Effects{}, nil
	}
	inst.props.store(p, inst.copyIn(p, next))
	return true, Effects{}, nil
}

func (inst *Instance) cloning(p *property) bool {
	if p.clone != nil {
		return *p.clone
	}
	return inst.settings.Clone
}

func (inst *Instance) copyIn(p *property, v any) any {
	if inst.cloning(p) {
		return types.Clone(v)
	}
	return v
}

// Get returns the current value of a property, through its getter and
// clone policy. Unknown properties read as nil.
func (inst *Instance) Get(id string) any {
	v, _ := inst.Lookup(id)
	return v
}

// Lookup is Get with a presence flag.
func (inst *Instance) Lookup(id string) (any, bool) {
	p := inst.props.get(canonical(id))
	if p == nil {
		return nil, false
	}
	v := inst.props.load(p)
	if p.getter != nil {
		v = inst.runGetter(p, v)
	}
	if inst.cloning(p) {
		v = types.Clone(v)
	}
	return v, true
}

// runGetter returns the getter's view of stored. Updates, events and
// service calls the getter captures run as their own top-level batch. A
// failing getter yields the stored value.
func (inst *Instance) runGetter(p *property, stored any) any {
	res, err := inst.Execute(func(s *Scope) (any, error) {
		return p.getter(s, stored), nil
	}, ExecOptions{Caps: CapAll, Params: map[string]any{"property": p.id}, Input: stored})
	if err != nil {
		inst.logger.Warn("getter failed", "property", p.id, "error", err)
		return stored
	}
	if !res.Effects.empty() {
		b := newBatch("getter:" + p.id)
		inst.absorb(b, res.Effects, "getter:"+p.id)
		inst.schedule(&turn{batch: b})
	}
	return res.Returned
}

// Has reports whether a property is declared.
func (inst *Instance) Has(id string) bool {
	return inst.props.get(canonical(id)) != nil
}

// Properties returns declared property ids in registration order.
func (inst *Instance) Properties() []string {
	return inst.props.ids()
}

// Label returns the human-readable label of a property.
func (inst *Instance) Label(id string) string {
	if p := inst.props.get(canonical(id)); p != nil {
		return p.label
	}
	return ""
}

// TriggeringEvents returns the ascending events of a property.
func (inst *Instance) TriggeringEvents(id string) []string {
	if p := inst.props.get(canonical(id)); p != nil {
		return append([]string(nil), p.triggers...)
	}
	return nil
}

// DispatchingEvents returns the descending events of a property.
func (inst *Instance) DispatchingEvents(id string) []string {
	if p := inst.props.get(canonical(id)); p != nil {
		return append([]string(nil), p.dispatch...)
	}
	return nil
}

// Type returns the parsed type of a property, or nil when untyped.
func (inst *Instance) Type(id string) *types.Type {
	if p := inst.props.get(canonical(id)); p != nil {
		return p.typ
	}
	return nil
}

func typeString(t *types.Type) string {
	if t == nil {
		return "untyped"
	}
	return t.String()
}
