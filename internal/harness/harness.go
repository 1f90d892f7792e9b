package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/reactor/internal/config"
	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger    *slog.Logger
	observers []reactor.Observer
	transport reactor.Transport
}

// WithLogger routes instance logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// WithObserver adds an observer, such as a journal, to the instance.
func WithObserver(o reactor.Observer) Option {
	return func(c *runConfig) { c.observers = append(c.observers, o) }
}

// WithTransport replaces the scripted transport.
func WithTransport(t reactor.Transport) Option {
	return func(c *runConfig) { c.transport = t }
}

// Run executes a scenario on a fresh root and returns the result. Errors are
// returned only when the scenario cannot run at all; step and assertion
// failures are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	rc := &runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.transport == nil {
		rc.transport = NewScriptedTransport(scenario.Responses)
	}

	doc, err := config.Load(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rec := &recorder{}
	instOpts := []reactor.Option{
		reactor.WithLogger(rc.logger),
		reactor.WithTokenGenerator(testutil.NewSequenceTokens(scenario.TokenPrefix)),
		reactor.WithTransport(rc.transport),
		reactor.WithObserver(rec),
	}
	for _, o := range rc.observers {
		instOpts = append(instOpts, reactor.WithObserver(o))
	}
	if scenario.Strict != nil {
		instOpts = append(instOpts, reactor.WithStrict(*scenario.Strict))
	}

	inst, err := config.Build(reactor.NewRoot(), doc, scenario.Instance, instOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance: %w", err)
	}
	defer inst.Teardown()
	inst.Hub().On(rec.onEvent)

	result := NewResult()
	for i, step := range scenario.Steps {
		err := runStep(ctx, inst, step)
		switch {
		case err != nil && step.ExpectError == "":
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		case err == nil && step.ExpectError != "":
			result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q", i, step.ExpectError))
		case err != nil && !contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("steps[%d]: error %q does not contain %q", i, err, step.ExpectError))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, msg := range checkValues(inst, step.Expect) {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
	}

	// A trailing deferred step still has to be processed.
	if err := inst.Settle(ctx); err != nil {
		result.AddError(fmt.Sprintf("settle: %v", err))
	}

	result.Trace = rec.snapshot()
	for _, id := range inst.Properties() {
		result.Values[id] = inst.Get(id)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func runStep(ctx context.Context, inst *reactor.Instance, step Step) error {
	if err := inst.Submit(step.order()); err != nil {
		return err
	}
	if step.Defer {
		return nil
	}
	return inst.Settle(ctx)
}

func checkValues(inst *reactor.Instance, expect map[string]any) []string {
	var msgs []string
	for _, id := range sortedKeys(expect) {
		got, ok := inst.Lookup(id)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("expected %s = %s, property not found", id, canonical(expect[id])))
			continue
		}
		if !valuesEqual(got, expect[id]) {
			msgs = append(msgs, fmt.Sprintf("expected %s = %s, got %s", id, canonical(expect[id]), canonical(got)))
		}
	}
	return msgs
}
