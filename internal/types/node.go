package types

import (
	"sort"
	"strings"
)

// Kind identifies a descriptor node variant.
type Kind int

const (
	KindAtomic Kind = iota + 1
	KindUnion
	KindNamed
	KindShape
	KindArray
)

// Node is a parsed descriptor. The set of implementations is closed.
type Node interface {
	Kind() Kind
	String() string
}

// Atomic matches values whose classified name equals Name, or anything for "*".
type Atomic struct {
	Name Name
}

func (a *Atomic) Kind() Kind      { return KindAtomic }
func (a *Atomic) String() string { return string(a.Name) }

// Union is the parsed form of every string descriptor, even single-branch
// ones, so that the "?" rule is applied uniformly.
type Union struct {
	Optional bool
	Branches []Node
}

func (u *Union) Kind() Kind { return KindUnion }

func (u *Union) String() string {
	parts := make([]string, len(u.Branches))
	for i, b := range u.Branches {
		parts[i] = b.String()
	}
	s := strings.Join(parts, "|")
	if u.Optional {
		return "?" + s
	}
	return s
}

// Named references a custom type by id. Ids declared as prototypes of the
// registration that parsed the node are bound directly and never looked up
// in the registry.
type Named struct {
	ID    string
	local *entry
}

func (n *Named) Kind() Kind      { return KindNamed }
func (n *Named) String() string { return n.ID }

// Shape is a closed object shape.
type Shape struct {
	Fields map[string]Node
}

func (s *Shape) Kind() Kind { return KindShape }

// Keys returns the declared field names in sorted order.
func (s *Shape) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Shape) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(s.Fields[k].String())
	}
	b.WriteString("}")
	return b.String()
}

// ArrayOf matches arrays whose every element matches Elem.
type ArrayOf struct {
	Elem Node
}

func (a *ArrayOf) Kind() Kind      { return KindArray }
func (a *ArrayOf) String() string { return "[" + a.Elem.String() + "]" }

// walk visits every node reachable from n without following Named references.
func walk(n Node, fn func(Node)) {
	fn(n)
	switch n := n.(type) {
	case *Union:
		for _, b := range n.Branches {
			walk(b, fn)
		}
	case *Shape:
		for _, k := range n.Keys() {
			walk(n.Fields[k], fn)
		}
	case *ArrayOf:
		walk(n.Elem, fn)
	}
}
