package reactor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/testutil"
)

func newTestInstance(t *testing.T, opts ...Option) (*Instance, *testutil.LogCapture) {
	t.Helper()
	logs := testutil.NewLogCapture()
	base := []Option{
		WithLogger(logs.Logger()),
		WithTokenGenerator(testutil.NewSequenceTokens("")),
	}
	inst, err := NewRoot().NewInstance("test", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(inst.Teardown)
	return inst, logs
}

func flush(t *testing.T, inst *Instance) {
	t.Helper()
	require.NoError(t, inst.Flush(context.Background()))
}

func boolPtr(b bool) *bool { return &b }

// recorder collects hub events and pass records.
type recorder struct {
	mu     sync.Mutex
	events []Event
	passes []PassRecord
}

func record(inst *Instance) *recorder {
	r := &recorder{}
	inst.Hub().On(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	inst.observers = append(inst.observers, ObserverFunc(func(rec PassRecord) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.passes = append(r.passes, rec)
	}))
	return r
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == name {
			n++
		}
	}
	return n
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) records() []PassRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PassRecord(nil), r.passes...)
}

func addCounter(t *testing.T, inst *Instance) {
	t.Helper()
	require.NoError(t, inst.AddProperty(PropertySpec{
		ID:       "count",
		Type:     "number",
		Value:    0,
		Dispatch: []string{"countChanged"},
	}))
	require.NoError(t, inst.AddHack(HackSpec{
		Triggers: []string{"inc"},
		Action: func(s *Scope, ev Event) error {
			s.Update(map[string]any{"count": s.Get("count").(int) + 1})
			return nil
		},
		Description: "increment count",
	}))
}
