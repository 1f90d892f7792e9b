package harness

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/reactor/internal/journal"
	"github.com/roach88/reactor/internal/reactor"
)

// Trace entry kinds.
const (
	KindEvent     = "event"
	KindPass      = "pass"
	KindSoftError = "soft_error"
)

// TraceEvent is one observation made while a scenario ran.
type TraceEvent struct {
	Kind string `json:"kind"`

	// event
	Event string         `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	// pass
	LoopID     int64            `json:"loop_id,omitempty"`
	Token      string           `json:"token,omitempty"`
	Depth      int              `json:"depth,omitempty"`
	Emitter    string           `json:"emitter,omitempty"`
	Updates    []reactor.Update `json:"updates,omitempty"`
	Dispatched []string         `json:"dispatched,omitempty"`
	Services   []string         `json:"services,omitempty"`
	Hacks      int              `json:"hacks,omitempty"`

	// soft_error
	Code     string `json:"code,omitempty"`
	Property string `json:"property,omitempty"`
}

// Line renders the entry in the golden trace format.
func (e TraceEvent) Line() string {
	switch e.Kind {
	case KindEvent:
		return fmt.Sprintf("event %s %s", e.Event, canonical(e.Data))
	case KindPass:
		var b strings.Builder
		fmt.Fprintf(&b, "pass loop=%d depth=%d emitter=%s", e.LoopID, e.Depth, e.Emitter)
		if len(e.Updates) > 0 {
			parts := make([]string, len(e.Updates))
			for i, u := range e.Updates {
				parts[i] = u.ID + "=" + canonical(u.Value)
			}
			fmt.Fprintf(&b, " updates=[%s]", strings.Join(parts, " "))
		}
		if len(e.Dispatched) > 0 {
			fmt.Fprintf(&b, " dispatched=[%s]", strings.Join(e.Dispatched, " "))
		}
		if len(e.Services) > 0 {
			fmt.Fprintf(&b, " services=[%s]", strings.Join(e.Services, " "))
		}
		if e.Hacks > 0 {
			fmt.Fprintf(&b, " hacks=%d", e.Hacks)
		}
		return b.String()
	case KindSoftError:
		line := "soft_error " + e.Code
		if e.Property != "" {
			line += " property=" + e.Property
		}
		if e.Event != "" {
			line += " event=" + e.Event
		}
		return line
	}
	return e.Kind
}

func canonical(v any) string {
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	b, err := journal.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool           `json:"pass"`
	Trace  []TraceEvent   `json:"trace"`
	Errors []string       `json:"errors,omitempty"`
	Values map[string]any `json:"values"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Values: make(map[string]any),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Format renders the trace one line per entry followed by the final values
// in sorted order.
func (r *Result) Format() string {
	var b strings.Builder
	for _, e := range r.Trace {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	ids := make([]string, 0, len(r.Values))
	for id := range r.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "value %s %s\n", id, canonical(r.Values[id]))
	}
	return b.String()
}

// recorder collects hub events, pass records and soft errors in the order
// they happen.
type recorder struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (r *recorder) add(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, e)
}

func (r *recorder) onEvent(ev reactor.Event) {
	r.add(TraceEvent{Kind: KindEvent, Event: ev.Type, Data: ev.Data})
}

// PassCompleted implements reactor.Observer.
func (r *recorder) PassCompleted(rec reactor.PassRecord) {
	r.add(TraceEvent{
		Kind:       KindPass,
		LoopID:     rec.LoopID,
		Token:      rec.Token,
		Depth:      rec.Depth,
		Emitter:    rec.Emitter,
		Updates:    rec.Updates,
		Dispatched: rec.Dispatched,
		Services:   rec.Services,
		Hacks:      rec.Hacks,
	})
}

// SoftError implements reactor.SoftErrorObserver.
func (r *recorder) SoftError(_ string, err *reactor.RuntimeError) {
	r.add(TraceEvent{Kind: KindSoftError, Code: string(err.Code), Property: err.Property, Event: err.Event})
}

func (r *recorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.trace...)
}
