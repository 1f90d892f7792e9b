package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/transport"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Addr    string
	Data    string
	Force   bool
	APIKey  string
	Timeout time.Duration

	// Transport overrides the HTTP transport (for testing).
	Transport reactor.Transport
}

var orderKinds = []string{
	string(reactor.OrderUpdate),
	string(reactor.OrderEvent),
	string(reactor.OrderRequest),
	string(reactor.OrderShortcut),
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <kind> [type]",
		Short: "Submit an order to a running server",
		Long: `Submit an order to an instance served by "reactor serve".

Kinds:
  update    --data holds the property writes, no type
  event     type is the event name, --data the payload
  request   type is the service id, --data the parameters
  shortcut  type is the shortcut key

Examples:
  reactor invoke update --data '{"count":5}'
  reactor invoke event statusReported --data '{"status":"ok"}'
  reactor invoke shortcut r --addr http://localhost:9000`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOrder(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.Data, "data", "", "order data as a JSON object")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "dispatch even when an update is a no-op")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "bearer token")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

func invokeOrder(opts *InvokeOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	order := reactor.Order{Kind: reactor.OrderKind(args[0]), Force: opts.Force}
	if !slices.Contains(orderKinds, args[0]) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown order kind %q: must be one of %v", args[0], orderKinds))
	}
	if len(args) == 2 {
		order.Type = args[1]
	}
	if opts.Data != "" {
		if err := json.Unmarshal([]byte(opts.Data), &order.Data); err != nil {
			return WrapExitError(ExitCommandError, "invalid --data JSON", err)
		}
	}

	t := opts.Transport
	if t == nil {
		t = transport.New(transport.Config{BaseURL: opts.Addr, APIKey: opts.APIKey, Timeout: opts.Timeout})
	}
	resp, err := t.Send(cmd.Context(), reactor.Request{
		Method:  http.MethodPost,
		URL:     "/orders",
		Payload: order,
	})
	if err != nil {
		_ = f.Error("E300", err.Error(), nil)
		return WrapExitError(ExitFailure, "order rejected", err)
	}

	if f.JSON() {
		return f.Success(resp.Data)
	}
	if order.Type != "" {
		fmt.Fprintf(f.Writer, "✓ %s %s queued\n", order.Kind, order.Type)
	} else {
		fmt.Fprintf(f.Writer, "✓ %s queued\n", order.Kind)
	}
	return nil
}
