package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reactor/internal/config"
	"github.com/roach88/reactor/internal/journal"
	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Instance string
	Journal  string
	Orders   string
	Sets     []string
	Events   []string
	Keys     []string
	Requests []string
	Strict   bool
	Timeout  time.Duration
	BaseURL  string
	APIKey   string

	// Tokens overrides the loop token generator (for testing).
	Tokens reactor.TokenGenerator
	// Transport overrides the HTTP transport (for testing).
	Transport reactor.Transport
}

// RunResult is the outcome of a run.
type RunResult struct {
	Instance string         `json:"instance"`
	Passes   int64          `json:"passes"`
	Values   map[string]any `json:"values"`
	Errors   []string       `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Build an instance, submit orders and print the settled values",
		Long: `Build an instance from a config, submit orders, propagate until no turn
is queued and no service call is in flight, then print every property.

Orders are submitted in this sequence: the --orders file, then --set,
--event, --shortcut and --request flags in the order given per flag.
Values are parsed as JSON and fall back to plain strings.

Examples:
  reactor run ./counter.cue --set count=5
  reactor run ./counter.cue --event 'statusReported={"status":"ok"}'
  reactor run ./counter.cue --shortcut r --journal ./trace.db
  reactor run ./app.yaml --orders ./orders.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstance(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance name (default: config name)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record passes into this SQLite journal")
	cmd.Flags().StringVar(&opts.Orders, "orders", "", "YAML or JSON file holding a list of orders")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "property update id=value")
	cmd.Flags().StringArrayVar(&opts.Events, "event", nil, "event name or name={json}")
	cmd.Flags().StringArrayVar(&opts.Keys, "shortcut", nil, "shortcut key")
	cmd.Flags().StringArrayVar(&opts.Requests, "request", nil, "service id or id={json}")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail on soft errors (overrides the config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up settling after this long")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "prefix for relative service URLs")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "bearer token sent with service calls")

	return cmd
}

func runInstance(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	orders, err := collectOrders(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid orders", err)
	}

	doc, err := config.Load(path)
	if err != nil {
		return outputLoadError(f, err)
	}

	var passes atomic.Int64
	instOpts := []reactor.Option{
		reactor.WithLogger(logger),
		reactor.WithTransport(runTransport(opts)),
		reactor.WithObserver(reactor.ObserverFunc(func(reactor.PassRecord) { passes.Add(1) })),
	}
	if opts.Tokens != nil {
		instOpts = append(instOpts, reactor.WithTokenGenerator(opts.Tokens))
	}
	if cmd.Flags().Changed("strict") {
		instOpts = append(instOpts, reactor.WithStrict(opts.Strict))
	}

	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal, journal.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		instOpts = append(instOpts, reactor.WithObserver(j))
	}

	inst, err := config.Build(reactor.NewRoot(), doc, opts.Instance, instOpts...)
	if err != nil {
		_ = f.Error(codeOf(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to build instance", err)
	}
	defer inst.Teardown()

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()
	if opts.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.Timeout)
		defer stop()
	}

	result := RunResult{Instance: inst.Name(), Values: map[string]any{}}
	for i, o := range orders {
		if err := inst.Submit(o); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("order %d (%s %s): %v", i+1, o.Kind, o.Type, err))
		}
	}
	if err := inst.Settle(ctx); err != nil {
		result.Errors = append(result.Errors, splitJoined(err)...)
	}

	result.Passes = passes.Load()
	for _, id := range inst.Properties() {
		result.Values[id] = inst.Get(id)
	}
	return outputRunResult(f, inst, result)
}

func runTransport(opts *RunOptions) reactor.Transport {
	if opts.Transport != nil {
		return opts.Transport
	}
	return transport.New(transport.Config{BaseURL: opts.BaseURL, APIKey: opts.APIKey})
}

// collectOrders turns the order flags into orders, file first.
func collectOrders(opts *RunOptions) ([]reactor.Order, error) {
	var orders []reactor.Order
	if opts.Orders != "" {
		data, err := os.ReadFile(opts.Orders)
		if err != nil {
			return nil, fmt.Errorf("reading orders: %w", err)
		}
		// YAML is a superset of JSON.
		if err := yaml.Unmarshal(data, &orders); err != nil {
			return nil, fmt.Errorf("decoding orders: %w", err)
		}
	}

	if len(opts.Sets) > 0 {
		values := make(map[string]any, len(opts.Sets))
		for _, s := range opts.Sets {
			id, raw, ok := strings.Cut(s, "=")
			if !ok || id == "" {
				return nil, fmt.Errorf("--set %q: want id=value", s)
			}
			values[id] = parseValue(raw)
		}
		orders = append(orders, reactor.Order{Kind: reactor.OrderUpdate, Data: values})
	}
	for _, s := range opts.Events {
		name, data, err := parseNamed(s)
		if err != nil {
			return nil, fmt.Errorf("--event: %w", err)
		}
		orders = append(orders, reactor.Order{Kind: reactor.OrderEvent, Type: name, Data: data})
	}
	for _, key := range opts.Keys {
		orders = append(orders, reactor.Order{Kind: reactor.OrderShortcut, Type: key})
	}
	for _, s := range opts.Requests {
		id, params, err := parseNamed(s)
		if err != nil {
			return nil, fmt.Errorf("--request: %w", err)
		}
		orders = append(orders, reactor.Order{Kind: reactor.OrderRequest, Type: id, Data: params})
	}
	return orders, nil
}

// parseValue decodes raw as JSON, falling back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseNamed splits "name" or "name={json object}".
func parseNamed(s string) (string, map[string]any, error) {
	name, raw, ok := strings.Cut(s, "=")
	if name == "" {
		return "", nil, fmt.Errorf("%q: missing name", s)
	}
	if !ok {
		return name, nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", nil, fmt.Errorf("%q: payload must be a JSON object: %w", s, err)
	}
	return name, data, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitJoined(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

func codeOf(err error) string {
	var ce *config.Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return config.ErrCodeGeneric
}

func outputRunResult(f *OutputFormatter, inst *reactor.Instance, r RunResult) error {
	var failure error
	if len(r.Errors) > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("run finished with %d error(s)", len(r.Errors)))
	}
	if f.JSON() {
		if failure != nil {
			if err := f.Failure(r, "E200", r.Errors[0]); err != nil {
				return err
			}
			return failure
		}
		return f.Success(r)
	}

	writeValues(f.Writer, inst.Properties(), r.Values)
	fmt.Fprintf(f.Writer, "\n%d pass(es)\n", r.Passes)
	for _, e := range r.Errors {
		fmt.Fprintf(f.Writer, "✗ %s\n", e)
	}
	return failure
}

// writeValues prints "id = value" lines in canonical JSON.
func writeValues(w io.Writer, ids []string, values map[string]any) {
	for _, id := range ids {
		data, err := journal.MarshalCanonical(values[id])
		if err != nil {
			fmt.Fprintf(w, "%s = <%v>\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s = %s\n", id, data)
	}
}
