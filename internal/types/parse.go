package types

import (
	"reflect"
	"regexp"
	"strings"
)

var typeIDPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.\-]*$`)

// ValidID reports whether id can name a custom type.
func ValidID(id string) bool {
	return typeIDPattern.MatchString(id) && !IsReserved(id)
}

// parser turns raw descriptors into nodes. locals holds the prototype ids
// declared by the registration in progress; they take precedence over
// registry ids.
type parser struct {
	locals map[string]*entry
}

func (p *parser) parse(desc any) (Node, error) {
	switch d := desc.(type) {
	case nil:
		return nil, invalidType(desc, "empty descriptor")
	case Node:
		return d, nil
	case *Type:
		return d.root, nil
	case string:
		return p.parseString(d)
	case map[string]any:
		return p.parseShape(d)
	case map[string]string:
		fields := make(map[string]any, len(d))
		for k, v := range d {
			fields[k] = v
		}
		return p.parseShape(fields)
	case []any:
		return p.parseArray(desc, d)
	case []string:
		elems := make([]any, len(d))
		for i, v := range d {
			elems[i] = v
		}
		return p.parseArray(desc, elems)
	}

	// Generic decoders (YAML, CUE) may produce other map/slice types.
	rv := reflect.ValueOf(desc)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, invalidType(desc, "object descriptor keys must be strings")
		}
		fields := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return p.parseShape(fields)
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return p.parseArray(desc, elems)
	}
	return nil, invalidType(desc, "unsupported descriptor of kind %s", rv.Kind())
}

func (p *parser) parseArray(desc any, elems []any) (Node, error) {
	if len(elems) != 1 {
		return nil, invalidType(desc, "array descriptor must have exactly one element, got %d", len(elems))
	}
	elem, err := p.parse(elems[0])
	if err != nil {
		return nil, err
	}
	return &ArrayOf{Elem: elem}, nil
}

func (p *parser) parseShape(fields map[string]any) (Node, error) {
	shape := &Shape{Fields: make(map[string]Node, len(fields))}
	for k, v := range fields {
		n, err := p.parse(v)
		if err != nil {
			return nil, err
		}
		shape.Fields[k] = n
	}
	return shape, nil
}

func (p *parser) parseString(desc string) (Node, error) {
	s := strings.TrimSpace(desc)
	optional := strings.HasPrefix(s, "?")
	if optional {
		s = s[1:]
	}
	if s == "" {
		return nil, invalidType(desc, "empty descriptor")
	}

	var branches []Node
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		depth := 0
		for strings.HasSuffix(part, "[]") {
			part = strings.TrimSpace(strings.TrimSuffix(part, "[]"))
			depth++
		}
		if depth > 0 && optional {
			return nil, invalidType(desc, "nullable prefix cannot be combined with array sugar")
		}
		if part == "" {
			return nil, invalidType(desc, "empty union branch")
		}

		var n Node
		switch {
		case IsAtomic(part):
			n = &Atomic{Name: Name(part)}
		case typeIDPattern.MatchString(part) && !IsReserved(part):
			n = &Named{ID: part, local: p.locals[part]}
		default:
			return nil, invalidType(desc, "malformed type name %q", part)
		}
		for ; depth > 0; depth-- {
			n = &ArrayOf{Elem: &Union{Branches: []Node{n}}}
		}
		branches = append(branches, n)
	}
	return &Union{Optional: optional, Branches: branches}, nil
}
