package types

import "slices"

// Type is a parsed descriptor bound to the registry that resolves its names.
type Type struct {
	reg  *Registry
	root Node
}

// Root returns the parsed descriptor tree.
func (t *Type) Root() Node {
	return t.root
}

// String renders the descriptor.
func (t *Type) String() string {
	return t.root.String()
}

// CheckOption configures a structural match.
type CheckOption func(*checker)

// Includes relaxes closed shapes: values may carry keys the descriptor does
// not declare. Applies at every depth.
func Includes() CheckOption {
	return func(c *checker) {
		c.includes = true
	}
}

type checker struct {
	reg      *Registry
	includes bool
	// aliases holds the names resolved since the last shape or array step.
	aliases []*entry
}

// Check reports whether v structurally matches the type. It returns an
// ErrCodeInvalidType error, not false, when the descriptor references a type
// that is not registered.
func (t *Type) Check(v any, opts ...CheckOption) (bool, error) {
	c := &checker{reg: t.reg}
	for _, opt := range opts {
		opt(c)
	}
	return c.check(t.root, v)
}

func (c *checker) check(n Node, v any) (bool, error) {
	switch n := n.(type) {
	case *Union:
		// Every branch must resolve before the value is even looked at.
		for _, b := range n.Branches {
			if named, ok := b.(*Named); ok {
				if _, err := c.reg.resolve(named); err != nil {
					return false, err
				}
			}
		}
		if IsAbsent(v) {
			return n.Optional, nil
		}
		for _, b := range n.Branches {
			ok, err := c.check(b, v)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil

	case *Atomic:
		return n.Name == Any || Get(v) == n.Name, nil

	case *Named:
		e, err := c.reg.resolve(n)
		if err != nil {
			return false, err
		}
		if e.pred != nil {
			return e.pred(v), nil
		}
		if slices.Contains(c.aliases, e) {
			return false, invalidType(n.ID, "type %q resolves to itself", n.ID)
		}
		c.aliases = append(c.aliases, e)
		ok, err := c.check(e.node, v)
		c.aliases = c.aliases[:len(c.aliases)-1]
		return ok, err

	case *Shape:
		obj, ok := asObject(v)
		if !ok {
			return false, nil
		}
		saved := c.aliases
		c.aliases = nil
		defer func() { c.aliases = saved }()
		for _, k := range n.Keys() {
			ok, err := c.check(n.Fields[k], obj.get(k))
			if err != nil || !ok {
				return false, err
			}
		}
		if !c.includes {
			for _, k := range obj.keys() {
				if _, declared := n.Fields[k]; !declared {
					return false, nil
				}
			}
		}
		return true, nil

	case *ArrayOf:
		elems, ok := elements(v)
		if !ok {
			return false, nil
		}
		saved := c.aliases
		c.aliases = nil
		defer func() { c.aliases = saved }()
		for _, elem := range elems {
			ok, err := c.check(n.Elem, elem)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return false, invalidType(n, "unknown descriptor node")
}

// IsValid reports whether every name referenced by the type, transitively,
// is registered and cemented.
func (t *Type) IsValid() bool {
	return t.reg.validNode(t.root, make(map[*entry]bool))
}

func (r *Registry) validNode(n Node, seen map[*entry]bool) bool {
	valid := true
	walk(n, func(n Node) {
		if !valid {
			return
		}
		if a, ok := n.(*ArrayOf); ok && a.Elem == nil {
			valid = false
			return
		}
		named, ok := n.(*Named)
		if !ok {
			return
		}
		e, err := r.resolve(named)
		if err != nil {
			valid = false
			return
		}
		if seen[e] || e.pred != nil {
			return
		}
		seen[e] = true
		valid = r.validNode(e.node, seen)
	})
	return valid
}
