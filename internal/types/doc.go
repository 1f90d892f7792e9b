// Package types implements the structural type system used to validate
// property values and configuration specs.
//
// A descriptor is one of:
//
//   - an atomic name ("string", "number", "boolean", "array", "object",
//     "function", "date", "regexp", "*"), optionally unioned with "|" and
//     optionally prefixed with "?" meaning "or null/undefined";
//   - the id of a custom type registered in a Registry, backed either by a
//     Predicate or by another descriptor;
//   - a map from field name to descriptor (a closed object shape);
//   - a single-element slice [T] meaning "array whose every element matches T".
//     The string sugar "T[]" means the same thing.
//
// Descriptors are parsed once into a closed variant tree (Atomic, Union,
// Named, Shape, ArrayOf). Named nodes are resolved against the Registry at
// check time, which is what makes mutually recursive types work: type A may
// reference B before B is registered. The reference leaves a placeholder that
// the later registration of B cements.
//
// ERROR MODEL:
//
// A descriptor naming an unknown type is a programmer error, not a data error.
// Check reports it as an *Error with ErrCodeInvalidType instead of returning
// false, regardless of any strict/lenient setting of the caller.
package types
