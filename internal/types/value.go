package types

import (
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Name is an atomic type name.
type Name string

// Atomic names accepted in descriptors.
const (
	String   Name = "string"
	Number   Name = "number"
	Boolean  Name = "boolean"
	Array    Name = "array"
	Object   Name = "object"
	Function Name = "function"
	Date     Name = "date"
	RegExp   Name = "regexp"
	Any      Name = "*"
)

// Names returned by Get for absent values. They are reserved but cannot be
// used in descriptors; use the "?" prefix instead.
const (
	Null      Name = "null"
	Undefined Name = "undefined"
)

var atomicNames = map[Name]bool{
	String: true, Number: true, Boolean: true, Array: true, Object: true,
	Function: true, Date: true, RegExp: true, Any: true,
}

// IsAtomic reports whether name is an atomic descriptor name.
func IsAtomic(name string) bool {
	return atomicNames[Name(name)]
}

// IsReserved reports whether name cannot be used as a custom type id.
func IsReserved(name string) bool {
	return atomicNames[Name(name)] || Name(name) == Null || Name(name) == Undefined
}

// undefinedValue marks a missing value, as opposed to an explicit nil.
type undefinedValue struct{}

// Missing is the value reported for absent object fields.
var Missing any = undefinedValue{}

// IsAbsent reports whether v is nil, a nil pointer/func, or Missing.
func IsAbsent(v any) bool {
	n := Get(v)
	return n == Null || n == Undefined
}

// Get classifies a runtime value into exactly one atomic name. Custom type
// names are never returned. nil and Missing are reported as Null and
// Undefined respectively.
func Get(v any) Name {
	switch v.(type) {
	case nil:
		return Null
	case undefinedValue:
		return Undefined
	case string:
		return String
	case bool:
		return Boolean
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return Number
	case time.Time:
		return Date
	case *time.Time:
		if v.(*time.Time) == nil {
			return Null
		}
		return Date
	case *regexp.Regexp:
		if v.(*regexp.Regexp) == nil {
			return Null
		}
		return RegExp
	case map[string]any:
		return Object
	case []any:
		return Array
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null
		}
		return Get(rv.Elem().Interface())
	case reflect.Func:
		if rv.IsNil() {
			return Null
		}
		return Function
	case reflect.String:
		return String
	case reflect.Bool:
		return Boolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.Slice, reflect.Array:
		return Array
	default:
		return Object
	}
}

// object is a read-only view over string-keyed maps and structs.
type object struct {
	m  map[string]any
	rv reflect.Value
}

func asObject(v any) (object, bool) {
	if m, ok := v.(map[string]any); ok {
		return object{m: m}, true
	}
	if Get(v) != Object {
		return object{}, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return object{}, false
		}
	case reflect.Struct:
	default:
		return object{}, false
	}
	return object{rv: rv}, true
}

// keys returns the object's keys in sorted order.
func (o object) keys() []string {
	var keys []string
	switch {
	case o.m != nil:
		keys = make([]string, 0, len(o.m))
		for k := range o.m {
			keys = append(keys, k)
		}
	case o.rv.Kind() == reflect.Map:
		for _, k := range o.rv.MapKeys() {
			keys = append(keys, k.String())
		}
	case o.rv.Kind() == reflect.Struct:
		t := o.rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				keys = append(keys, t.Field(i).Name)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// get returns the value under key, or Missing.
func (o object) get(key string) any {
	switch {
	case o.m != nil:
		if v, ok := o.m[key]; ok {
			return v
		}
	case o.rv.Kind() == reflect.Map:
		mv := o.rv.MapIndex(reflect.ValueOf(key).Convert(o.rv.Type().Key()))
		if mv.IsValid() {
			return mv.Interface()
		}
	case o.rv.Kind() == reflect.Struct:
		f, ok := o.rv.Type().FieldByName(key)
		if ok && f.IsExported() {
			return o.rv.FieldByIndex(f.Index).Interface()
		}
	}
	return Missing
}

// elements returns the elements of an array value.
func elements(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	if Get(v) != Array {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toFloat converts any numeric value to float64.
func toFloat(v any) float64 {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return 0
}

// fmtScalar renders string and boolean values, including named Go types.
func fmtScalar(v any) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	}
	return ""
}

func dateOf(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		return *t
	}
	return time.Time{}
}
