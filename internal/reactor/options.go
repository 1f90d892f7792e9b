package reactor

import (
	"log/slog"

	"github.com/roach88/reactor/internal/types"
)

// DefaultMaxDepth is the default maximum number of passes per loop.
// This stops update/dispatch cycles that never settle.
const DefaultMaxDepth = 100

// Settings holds the per-instance behavior switches.
type Settings struct {
	// Strict turns soft errors into returned errors. Lenient instances log
	// them and skip the offending unit.
	Strict bool

	// MaxDepth bounds the passes of one loop. Zero disables the check.
	MaxDepth int

	// Clone deep-copies property values on read and write unless the
	// property overrides it.
	Clone bool

	// MergeServices flattens nested service groups into the requesting pass
	// and drops duplicate calls. When false, nested groups run after their
	// parent call succeeds.
	MergeServices bool
}

// DefaultSettings returns the settings used when no option overrides them.
func DefaultSettings() Settings {
	return Settings{
		MaxDepth:      DefaultMaxDepth,
		MergeServices: true,
	}
}

// Option configures an Instance.
type Option func(*Instance)

// WithStrict sets strict (true) or lenient (false) soft-error handling.
//
// Default: lenient.
func WithStrict(strict bool) Option {
	return func(i *Instance) {
		i.settings.Strict = strict
	}
}

// WithMaxDepth sets the maximum number of passes per loop.
//
// Default: 100 passes (DefaultMaxDepth)
// Use WithMaxDepth(0) to disable the guard.
// Use WithMaxDepth(3) for testing depth enforcement.
func WithMaxDepth(maxDepth int) Option {
	return func(i *Instance) {
		i.settings.MaxDepth = maxDepth
	}
}

// WithClone enables deep-copy semantics for property values.
func WithClone(clone bool) Option {
	return func(i *Instance) {
		i.settings.Clone = clone
	}
}

// WithMergeServices enables flattening and dedupe of service groups.
func WithMergeServices(merge bool) Option {
	return func(i *Instance) {
		i.settings.MergeServices = merge
	}
}

// WithSettings replaces all settings at once.
func WithSettings(s Settings) Option {
	return func(i *Instance) {
		i.settings = s
	}
}

// WithTransport sets the transport used for service requests.
func WithTransport(t Transport) Option {
	return func(i *Instance) {
		i.transport = t
	}
}

// WithLogger sets the logger. The instance adds its name to every record.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instance) {
		i.logger = l
	}
}

// WithObserver registers an observer notified after every pass.
// May be given several times.
func WithObserver(o Observer) Option {
	return func(i *Instance) {
		i.observers = append(i.observers, o)
	}
}

// WithTokenGenerator sets the loop token generator.
//
// Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(i *Instance) {
		i.tokens = g
	}
}

// WithClock sets the loop id clock.
func WithClock(c *Clock) Option {
	return func(i *Instance) {
		i.clock = c
	}
}

// WithTypes sets the type registry used to parse property and service
// descriptors. Defaults to the registry of the owning Root.
func WithTypes(r *types.Registry) Option {
	return func(i *Instance) {
		i.types = r
	}
}
