package types

import (
	"fmt"
	"sort"
	"sync"
)

// Predicate backs a custom type with arbitrary Go logic.
type Predicate func(v any) bool

// entry is a registry slot. A placeholder entry exists because another type
// referenced its id before it was registered; it may be cemented exactly once.
type entry struct {
	id          string
	placeholder bool
	node        Node
	pred        Predicate
}

// Registry holds custom types. It replaces a process-wide type table: create
// one per application root and pass it explicitly.
//
// Thread-safety: all methods are safe for concurrent use. Checks only hold
// the read lock while resolving a single id, so predicates may call back
// into the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// AddOption configures a single Add call.
type AddOption func(*addOptions)

type prototype struct {
	id  string
	def any
}

type addOptions struct {
	prototypes []prototype
	extends    []string
}

// WithPrototype declares a helper type visible only while this registration
// is parsed. References to id inside the registration (including from other
// prototypes, recursively) are bound directly to the helper, which is folded
// into the registered type and never becomes a registry key.
func WithPrototype(id string, def any) AddOption {
	return func(o *addOptions) {
		o.prototypes = append(o.prototypes, prototype{id: id, def: def})
	}
}

// Extends folds the fields of already registered shape types into the new
// shape. Fields declared by the new type win over inherited ones. Only the
// base's own consolidated shape is copied, one level deep.
func Extends(ids ...string) AddOption {
	return func(o *addOptions) {
		o.extends = append(o.extends, ids...)
	}
}

// Add registers a custom type. def is either a Predicate (or a plain
// func(any) bool) or a descriptor.
//
// Add fails if id is reserved, malformed, or already cemented. Ids referenced
// by def that are not yet registered become placeholders, which lets two
// types reference each other as long as both are added before they are
// checked.
func (r *Registry) Add(id string, def any, opts ...AddOption) error {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	if IsReserved(id) {
		return &Error{Code: ErrCodeReservedName, Descriptor: id, Message: "custom type id collides with an atomic name"}
	}
	if !typeIDPattern.MatchString(id) {
		return invalidType(id, "malformed type id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok && !e.placeholder {
		return &Error{Code: ErrCodeAlreadyDefined, Descriptor: id, Message: "type already registered"}
	}

	p := &parser{locals: make(map[string]*entry, len(o.prototypes))}
	for _, proto := range o.prototypes {
		if proto.id == id || IsReserved(proto.id) || !typeIDPattern.MatchString(proto.id) {
			return invalidType(proto.id, "invalid prototype id for %s", id)
		}
		if _, dup := p.locals[proto.id]; dup {
			return invalidType(proto.id, "duplicate prototype id for %s", id)
		}
		p.locals[proto.id] = &entry{id: proto.id, placeholder: true}
	}

	for _, proto := range o.prototypes {
		local := p.locals[proto.id]
		if pred, ok := asPredicate(proto.def); ok {
			local.pred = pred
		} else {
			n, err := p.parse(proto.def)
			if err != nil {
				return fmt.Errorf("prototype %s of %s: %w", proto.id, id, err)
			}
			local.node = n
		}
		local.placeholder = false
	}

	staged := &entry{id: id}
	if pred, ok := asPredicate(def); ok {
		if len(o.extends) > 0 {
			return invalidType(id, "predicate types cannot extend other types")
		}
		staged.pred = pred
	} else {
		var n Node
		if def == nil && len(o.extends) > 0 {
			n = &Shape{Fields: map[string]Node{}}
		} else {
			var err error
			if n, err = p.parse(def); err != nil {
				return err
			}
		}
		if len(o.extends) > 0 {
			shape, ok := n.(*Shape)
			if !ok {
				return invalidType(def, "only object shapes can extend other types")
			}
			if err := r.extendLocked(shape, o.extends); err != nil {
				return err
			}
		}
		staged.node = n
	}

	if r.aliasesItselfLocked(staged) {
		return invalidType(def, "type %s resolves to itself without an object or array in between", id)
	}
	for _, local := range p.locals {
		if r.aliasesItselfLocked(local) {
			return invalidType(local.id, "prototype %s of %s resolves to itself", local.id, id)
		}
	}

	// Everything parsed: leave placeholders for forward references.
	roots := []Node{staged.node}
	for _, local := range p.locals {
		roots = append(roots, local.node)
	}
	for _, root := range roots {
		if root == nil {
			continue
		}
		walk(root, func(n Node) {
			named, ok := n.(*Named)
			if !ok || named.local != nil || named.ID == id {
				return
			}
			if _, exists := r.entries[named.ID]; !exists {
				r.entries[named.ID] = &entry{id: named.ID, placeholder: true}
			}
		})
	}

	if existing, ok := r.entries[id]; ok {
		existing.node, existing.pred, existing.placeholder = staged.node, staged.pred, false
	} else {
		r.entries[id] = staged
	}
	return nil
}

// aliasesItselfLocked reports whether following e through unions and names
// alone leads back to e. Such a type has no structure to stop a check.
func (r *Registry) aliasesItselfLocked(e *entry) bool {
	if e.node == nil {
		return false
	}
	return r.reachesLocked(e.node, e, map[*entry]bool{e: true})
}

func (r *Registry) reachesLocked(n Node, staged *entry, open map[*entry]bool) bool {
	switch n := n.(type) {
	case *Union:
		for _, b := range n.Branches {
			if r.reachesLocked(b, staged, open) {
				return true
			}
		}
	case *Named:
		e := n.local
		if e == nil && n.ID == staged.id {
			e = staged
		}
		if e == nil {
			if found, ok := r.entries[n.ID]; ok && !found.placeholder {
				e = found
			}
		}
		if e == nil || e.node == nil {
			return false
		}
		if open[e] {
			return true
		}
		open[e] = true
		defer delete(open, e)
		return r.reachesLocked(e.node, staged, open)
	}
	return false
}

func (r *Registry) extendLocked(shape *Shape, bases []string) error {
	for _, base := range bases {
		e, ok := r.entries[base]
		if !ok || e.placeholder {
			return invalidType(base, "base type is not registered")
		}
		baseShape, ok := unwrapShape(e.node)
		if !ok {
			return invalidType(base, "base type is not an object shape")
		}
		for k, n := range baseShape.Fields {
			if _, own := shape.Fields[k]; !own {
				shape.Fields[k] = n
			}
		}
	}
	return nil
}

// unwrapShape accepts a bare shape or a non-optional single-branch union
// around one.
func unwrapShape(n Node) (*Shape, bool) {
	switch n := n.(type) {
	case *Shape:
		return n, true
	case *Union:
		if !n.Optional && len(n.Branches) == 1 {
			return unwrapShape(n.Branches[0])
		}
	}
	return nil, false
}

func asPredicate(def any) (Predicate, bool) {
	switch fn := def.(type) {
	case Predicate:
		return fn, fn != nil
	case func(any) bool:
		return Predicate(fn), fn != nil
	}
	return nil, false
}

// Has reports whether id is registered and cemented.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && !e.placeholder
}

// IsPlaceholder reports whether id has only been referenced so far.
func (r *Registry) IsPlaceholder(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.placeholder
}

// IDs returns the cemented type ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if !e.placeholder {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// resolve finds the entry a Named node refers to.
func (r *Registry) resolve(n *Named) (*entry, error) {
	if n.local != nil {
		return n.local, nil
	}
	r.mu.RLock()
	e, ok := r.entries[n.ID]
	r.mu.RUnlock()
	if !ok || e.placeholder {
		return nil, invalidType(n.ID, "unknown type %q", n.ID)
	}
	return e, nil
}

// Parse parses a descriptor once for repeated use. Named references are not
// resolved here; they are resolved on every check so that types registered
// later are honored.
func (r *Registry) Parse(desc any) (*Type, error) {
	p := &parser{}
	root, err := p.parse(desc)
	if err != nil {
		return nil, err
	}
	return &Type{reg: r, root: root}, nil
}

// MustParse is like Parse but panics on error. Intended for static schemas.
func (r *Registry) MustParse(desc any) *Type {
	t, err := r.Parse(desc)
	if err != nil {
		panic(err)
	}
	return t
}

// IsValid reports whether desc parses and every name it references,
// transitively, is a cemented type.
func (r *Registry) IsValid(desc any) bool {
	t, err := r.Parse(desc)
	if err != nil {
		return false
	}
	return t.IsValid()
}

// Check parses desc and matches v against it.
func (r *Registry) Check(desc any, v any, opts ...CheckOption) (bool, error) {
	t, err := r.Parse(desc)
	if err != nil {
		return false, err
	}
	return t.Check(v, opts...)
}

// DeepScalar parses desc and reports whether all its leaves are scalars.
// Malformed descriptors report false.
func (r *Registry) DeepScalar(desc any) bool {
	t, err := r.Parse(desc)
	if err != nil {
		return false
	}
	return t.DeepScalar()
}

// Compare reports whether a and b are deeply equal values of type desc.
func (r *Registry) Compare(a, b any, desc any) bool {
	t, err := r.Parse(desc)
	if err != nil {
		return false
	}
	return t.Compare(a, b)
}
