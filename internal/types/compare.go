package types

// DeepScalar reports whether every leaf of the type is a scalar atomic
// (string, number, boolean). Values of such types can be compared for
// equality; object, array, function, date, regexp, "*" and predicate-backed
// leaves cannot. Unresolvable names report false.
func (t *Type) DeepScalar() bool {
	return t.reg.deepScalar(t.root, make(map[*entry]bool))
}

func (r *Registry) deepScalar(n Node, seen map[*entry]bool) bool {
	switch n := n.(type) {
	case *Union:
		if len(n.Branches) == 0 {
			return false
		}
		for _, b := range n.Branches {
			if !r.deepScalar(b, seen) {
				return false
			}
		}
		return true
	case *Atomic:
		return n.Name == String || n.Name == Number || n.Name == Boolean
	case *Named:
		e, err := r.resolve(n)
		if err != nil || e.pred != nil {
			return false
		}
		// A recursive reference adds no new leaves.
		if seen[e] {
			return true
		}
		seen[e] = true
		return r.deepScalar(e.node, seen)
	case *Shape:
		for _, f := range n.Fields {
			if !r.deepScalar(f, seen) {
				return false
			}
		}
		return true
	case *ArrayOf:
		return r.deepScalar(n.Elem, seen)
	}
	return false
}

// Compare reports whether a and b are deeply equal. It is restricted to
// deep-scalar types and returns false when the type is not deep-scalar or
// either value fails the check.
func (t *Type) Compare(a, b any) bool {
	if !t.DeepScalar() {
		return false
	}
	if ok, err := t.Check(a); err != nil || !ok {
		return false
	}
	if ok, err := t.Check(b); err != nil || !ok {
		return false
	}
	return Equal(a, b)
}

// Equal is a structural equality over classified values. Numbers compare by
// value regardless of their Go kind. Functions are never equal.
func Equal(a, b any) bool {
	na, nb := Get(a), Get(b)
	if na != nb {
		return false
	}
	switch na {
	case Null, Undefined:
		return true
	case Number:
		return toFloat(a) == toFloat(b)
	case String, Boolean:
		return a == b || fmtScalar(a) == fmtScalar(b)
	case Array:
		ea, _ := elements(a)
		eb, _ := elements(b)
		if len(ea) != len(eb) {
			return false
		}
		for i := range ea {
			if !Equal(ea[i], eb[i]) {
				return false
			}
		}
		return true
	case Object:
		oa, okA := asObject(a)
		ob, okB := asObject(b)
		if !okA || !okB {
			return false
		}
		ka, kb := oa.keys(), ob.keys()
		if len(ka) != len(kb) {
			return false
		}
		for i, k := range ka {
			if kb[i] != k || !Equal(oa.get(k), ob.get(k)) {
				return false
			}
		}
		return true
	case Date:
		return dateOf(a).Equal(dateOf(b))
	case RegExp:
		return a == b
	}
	return false
}
