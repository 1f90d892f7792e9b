package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpdateEntry is an applied write as stored in the journal.
type UpdateEntry struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Entry is one journaled pass.
type Entry struct {
	Seq        int64         `json:"seq"`
	Instance   string        `json:"instance"`
	LoopID     int64         `json:"loop_id"`
	Token      string        `json:"token"`
	Depth      int           `json:"depth"`
	Emitter    string        `json:"emitter"`
	Updates    []UpdateEntry `json:"updates"`
	Skipped    []string      `json:"skipped"`
	Events     []string      `json:"events"`
	Dispatched []string      `json:"dispatched"`
	Services   []string      `json:"services"`
	Hacks      int           `json:"hacks"`
	RecordedAt string        `json:"recorded_at"`
}

// SoftErrorEntry is one journaled soft error.
type SoftErrorEntry struct {
	Seq        int64  `json:"seq"`
	Instance   string `json:"instance"`
	Code       string `json:"code"`
	Property   string `json:"property,omitempty"`
	Event      string `json:"event,omitempty"`
	Message    string `json:"message"`
	RecordedAt string `json:"recorded_at"`
}

const passColumns = `seq, instance, loop_id, token, depth, emitter, updates, skipped, events, dispatched, services, hacks, recorded_at`

// Passes returns every pass recorded for instance in write order.
// An empty instance selects all instances.
func (j *Journal) Passes(ctx context.Context, instance string) ([]Entry, error) {
	if instance == "" {
		return j.queryPasses(ctx, `SELECT `+passColumns+` FROM passes ORDER BY seq ASC`)
	}
	return j.queryPasses(ctx, `SELECT `+passColumns+` FROM passes WHERE instance = ? ORDER BY seq ASC`, instance)
}

// Loop returns the passes of one loop.
func (j *Journal) Loop(ctx context.Context, instance string, loopID int64) ([]Entry, error) {
	return j.queryPasses(ctx, `
		SELECT `+passColumns+` FROM passes
		WHERE instance = ? AND loop_id = ?
		ORDER BY depth ASC, seq ASC
	`, instance, loopID)
}

// Token returns the passes carrying a loop token.
func (j *Journal) Token(ctx context.Context, token string) ([]Entry, error) {
	return j.queryPasses(ctx, `
		SELECT `+passColumns+` FROM passes
		WHERE token = ?
		ORDER BY depth ASC, seq ASC
	`, token)
}

// Instances lists instance names with journaled passes, sorted.
func (j *Journal) Instances(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT instance FROM passes ORDER BY instance COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return names, nil
}

// SoftErrors returns the soft errors recorded for instance in write order.
func (j *Journal) SoftErrors(ctx context.Context, instance string) ([]SoftErrorEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, instance, code, property, event, message, recorded_at
		FROM soft_errors
		WHERE instance = ?
		ORDER BY seq ASC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("query soft errors: %w", err)
	}
	defer rows.Close()

	entries := []SoftErrorEntry{}
	for rows.Next() {
		var e SoftErrorEntry
		if err := rows.Scan(&e.Seq, &e.Instance, &e.Code, &e.Property, &e.Event, &e.Message, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan soft error: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate soft errors: %w", err)
	}
	return entries, nil
}

func (j *Journal) queryPasses(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                                              Entry
		updates, skipped, events, dispatched, services string
	)
	if err := rows.Scan(&e.Seq, &e.Instance, &e.LoopID, &e.Token, &e.Depth, &e.Emitter,
		&updates, &skipped, &events, &dispatched, &services, &e.Hacks, &e.RecordedAt); err != nil {
		return Entry{}, fmt.Errorf("scan pass: %w", err)
	}

	fields := []struct {
		name string
		raw  string
		dst  any
	}{
		{"updates", updates, &e.Updates},
		{"skipped", skipped, &e.Skipped},
		{"events", events, &e.Events},
		{"dispatched", dispatched, &e.Dispatched},
		{"services", services, &e.Services},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Entry{}, fmt.Errorf("unmarshal %s for pass %d: %w", f.name, e.Seq, err)
		}
	}
	return e, nil
}
