package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error renders the failure with the event part of the trace for context.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nEvents:\n")
	n := 0
	for _, ev := range e.Trace {
		if ev.Kind == KindEvent {
			n++
			fmt.Fprintf(&buf, "  [%d] %s %s\n", n, ev.Event, canonical(ev.Data))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertValue:
			err = assertValue(result, a)
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertEventEmitted:
			err = assertEventEmitted(result.Trace, a)
		case AssertNoEvent:
			zero := 0
			a.Count = &zero
			err = assertEventCount(result.Trace, a)
		case AssertMaxDepth:
			err = assertMaxDepth(result.Trace, a)
		case AssertSoftError:
			err = assertSoftError(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertValue(result *Result, a Assertion) error {
	got, ok := result.Values[a.Property]
	if !ok {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s = %s", a.Property, canonical(a.Equals)),
			Actual:   "property not declared",
			Trace:    result.Trace,
		}
	}
	if !valuesEqual(got, a.Equals) {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s = %s", a.Property, canonical(a.Equals)),
			Actual:   fmt.Sprintf("%s = %s", a.Property, canonical(got)),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Kind == KindEvent && ev.Event == a.Event {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%s emitted %d times", a.Event, *a.Count),
			Actual:   fmt.Sprintf("emitted %d times", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks first occurrences; other events may interleave.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Kind != KindEvent {
			continue
		}
		if _, seen := positions[ev.Event]; !seen {
			positions[ev.Event] = i
		}
	}
	for _, name := range a.Events {
		if _, ok := positions[name]; !ok {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("event %s never emitted", name),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, cur := a.Events[i-1], a.Events[i]
		if positions[prev] > positions[cur] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s emitted before %s", cur, prev),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertEventEmitted(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Kind == KindEvent && ev.Event == a.Event && matchData(ev.Data, a.Data) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with data %s", a.Event, canonical(a.Data)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertMaxDepth(trace []TraceEvent, a Assertion) error {
	deepest := 0
	for _, ev := range trace {
		if ev.Kind == KindPass && ev.Depth > deepest {
			deepest = ev.Depth
		}
	}
	if deepest > a.Depth {
		return &AssertionError{
			Type:     AssertMaxDepth,
			Expected: fmt.Sprintf("no pass deeper than %d", a.Depth),
			Actual:   fmt.Sprintf("reached depth %d", deepest),
			Trace:    trace,
		}
	}
	return nil
}

func assertSoftError(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Kind == KindSoftError && ev.Code == a.Code &&
			(a.Property == "" || ev.Property == a.Property) {
			n++
		}
	}
	if (a.Count == nil && n == 0) || (a.Count != nil && n != *a.Count) {
		want := "at least once"
		if a.Count != nil {
			want = fmt.Sprintf("%d times", *a.Count)
		}
		return &AssertionError{
			Type:     AssertSoftError,
			Expected: fmt.Sprintf("soft error %s reported %s", a.Code, want),
			Actual:   fmt.Sprintf("reported %d times", n),
			Trace:    trace,
		}
	}
	return nil
}

// matchData is a subset match: every expected key must be present with an
// equal value.
func matchData(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares through canonical JSON so that YAML ints, JSON
// floats and Go ints holding the same number are equal.
func valuesEqual(actual, expected any) bool {
	return canonical(actual) == canonical(expected)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(s, fragment string) bool {
	return strings.Contains(s, fragment)
}
