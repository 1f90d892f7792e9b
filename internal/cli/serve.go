package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reactor/internal/config"
	"github.com/roach88/reactor/internal/journal"
	"github.com/roach88/reactor/internal/metrics"
	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	Instance        string
	Journal         string
	Watch           bool
	BaseURL         string
	APIKey          string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <config>",
		Short: "Run an instance behind an HTTP API",
		Long: `Build an instance from a config, drive it with the single-writer loop
and expose it over HTTP: property reads, updates, events, service
requests, shortcuts, generic orders and Prometheus metrics on /metrics.

With --watch the config is reloaded when it changes on disk: a new
instance is built and swapped in, and the previous one is torn down. A
config that fails to load or build leaves the running instance in place.

Examples:
  reactor serve ./counter.cue --addr :8080
  reactor serve ./app --watch --journal ./trace.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance name (default: config name)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record passes into this SQLite journal")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload the config when it changes")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "prefix for relative service URLs")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "bearer token sent with service calls")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for open requests")

	return cmd
}

func runServe(opts *ServeOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	doc, err := config.Load(path)
	if err != nil {
		return outputLoadError(f, err)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	s, err := newServing(ctx, opts, doc, logger)
	if err != nil {
		_ = f.Error(codeOf(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to build instance", err)
	}
	defer s.close()

	if opts.Watch {
		w, err := config.Watch(path, s.reload, config.WithWatchLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch config", err)
		}
		defer w.Close()
	}

	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.Addr, "instance", s.srv.Instance().Name())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}
	logger.Info("server stopped")
	return nil
}

// serving owns the served instance, its Run goroutine and the observers
// shared across reloads.
type serving struct {
	ctx     context.Context
	opts    *ServeOptions
	logger  *slog.Logger
	metrics *metrics.Observer
	journal *journal.Journal
	srv     *server.Server

	mu sync.Mutex // serializes reloads
	wg sync.WaitGroup
}

func newServing(ctx context.Context, opts *ServeOptions, doc *config.Document, logger *slog.Logger) (*serving, error) {
	s := &serving{
		ctx:     ctx,
		opts:    opts,
		logger:  logger,
		metrics: metrics.New(metrics.Config{}),
	}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal, journal.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		s.journal = j
	}

	inst, err := s.build(doc)
	if err != nil {
		s.closeJournal()
		return nil, err
	}
	s.srv = server.New(inst, server.WithLogger(logger), server.WithMetrics(s.metrics.Handler()))
	s.start(inst)
	return s, nil
}

func (s *serving) build(doc *config.Document) (*reactor.Instance, error) {
	opts := []reactor.Option{
		reactor.WithLogger(s.logger),
		reactor.WithTransport(runTransport(&RunOptions{BaseURL: s.opts.BaseURL, APIKey: s.opts.APIKey})),
		reactor.WithObserver(s.metrics),
	}
	if s.journal != nil {
		opts = append(opts, reactor.WithObserver(s.journal))
	}
	// Each build gets its own root so the replacement can take the name of
	// the instance it replaces.
	return config.Build(reactor.NewRoot(), doc, s.opts.Instance, opts...)
}

func (s *serving) start(inst *reactor.Instance) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := inst.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("instance loop failed", "instance", inst.Name(), "error", err)
		}
	}()
}

// reload builds doc and swaps it in. It implements config.ReloadFunc.
func (s *serving) reload(doc *config.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.build(doc)
	if err != nil {
		return err
	}
	s.start(next)
	old := s.srv.Swap(next)
	if n := old.Pending(); n > 0 {
		s.logger.Warn("dropping queued turns of replaced instance", "instance", old.Name(), "pending", n)
	}
	old.Teardown()
	s.logger.Info("instance replaced", "instance", next.Name())
	return nil
}

func (s *serving) close() {
	s.srv.Instance().Teardown()
	s.wg.Wait()
	s.closeJournal()
}

func (s *serving) closeJournal() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		s.logger.Error("error closing journal", "error", err)
	}
}
