package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/reactor/internal/reactor"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - passes and soft_errors tables
// 2 - index on passes.token
const currentSchemaVersion = 2

// Journal records completed passes in SQLite. It is a debugging trace, not
// state persistence: nothing is ever replayed into an instance.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used to report write failures from observer
// callbacks, which have no error return.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// Open creates or opens a journal database at path. Pragmas and migrations
// are applied on every open.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB exposes the underlying handle for ad hoc queries.
func (j *Journal) DB() *sql.DB {
	return j.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_passes_token ON passes(token)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// WritePass inserts one pass record.
func (j *Journal) WritePass(ctx context.Context, rec reactor.PassRecord) error {
	updates := make([]any, 0, len(rec.Updates))
	for _, u := range rec.Updates {
		updates = append(updates, map[string]any{"id": u.ID, "value": u.Value})
	}
	cols := make([]string, 5)
	for i, v := range []any{updates, anySlice(rec.Skipped), anySlice(rec.Events), anySlice(rec.Dispatched), anySlice(rec.Services)} {
		b, err := MarshalCanonical(v)
		if err != nil {
			return fmt.Errorf("write pass: %w", err)
		}
		cols[i] = string(b)
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO passes
		(instance, loop_id, token, depth, emitter, updates, skipped, events, dispatched, services, hacks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Instance, rec.LoopID, rec.Token, rec.Depth, rec.Emitter,
		cols[0], cols[1], cols[2], cols[3], cols[4], rec.Hacks,
	)
	if err != nil {
		return fmt.Errorf("write pass: %w", err)
	}
	return nil
}

// WriteSoftError inserts one soft error record.
func (j *Journal) WriteSoftError(ctx context.Context, instance string, e *reactor.RuntimeError) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO soft_errors (instance, code, property, event, message)
		VALUES (?, ?, ?, ?, ?)
	`, instance, string(e.Code), e.Property, e.Event, e.Message)
	if err != nil {
		return fmt.Errorf("write soft error: %w", err)
	}
	return nil
}

// PassCompleted implements reactor.Observer.
func (j *Journal) PassCompleted(rec reactor.PassRecord) {
	if err := j.WritePass(context.Background(), rec); err != nil {
		j.logger.Error("journal write failed",
			"instance", rec.Instance,
			"loop_id", rec.LoopID,
			"depth", rec.Depth,
			"error", err)
	}
}

// SoftError implements reactor.SoftErrorObserver.
func (j *Journal) SoftError(instance string, e *reactor.RuntimeError) {
	if err := j.WriteSoftError(context.Background(), instance, e); err != nil {
		j.logger.Error("journal write failed",
			"instance", instance,
			"code", e.Code,
			"error", err)
	}
}

func anySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
