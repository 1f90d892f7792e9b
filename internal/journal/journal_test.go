package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/testutil"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	var mode string
	require.NoError(t, j.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, j.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, j.Close())
	}
}

func TestWritePass_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	rec := reactor.PassRecord{
		Instance:   "app",
		LoopID:     3,
		Token:      "loop-0001",
		Depth:      1,
		Emitter:    "external",
		Updates:    []reactor.Update{{ID: "count", Value: 2}, {ID: "user", Value: map[string]any{"name": "ada"}}},
		Skipped:    []string{"title"},
		Dispatched: []string{"countChanged"},
		Hacks:      1,
	}
	require.NoError(t, j.WritePass(ctx, rec))

	entries, err := j.Passes(ctx, "app")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, int64(3), e.LoopID)
	assert.Equal(t, "loop-0001", e.Token)
	assert.Equal(t, "external", e.Emitter)
	assert.Equal(t, []UpdateEntry{
		{ID: "count", Value: float64(2)},
		{ID: "user", Value: map[string]any{"name": "ada"}},
	}, e.Updates)
	assert.Equal(t, []string{"title"}, e.Skipped)
	assert.Equal(t, []string{}, e.Events)
	assert.Equal(t, []string{"countChanged"}, e.Dispatched)
	assert.Equal(t, 1, e.Hacks)
	assert.NotEmpty(t, e.RecordedAt)

	var raw string
	require.NoError(t, j.DB().QueryRow("SELECT updates FROM passes").Scan(&raw))
	assert.Equal(t, `[{"id":"count","value":2},{"id":"user","value":{"name":"ada"}}]`, raw)
}

func TestPasses_EmptyAndFiltered(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	entries, err := j.Passes(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	require.NoError(t, j.WritePass(ctx, reactor.PassRecord{Instance: "b", LoopID: 1, Token: "t1", Depth: 1}))
	require.NoError(t, j.WritePass(ctx, reactor.PassRecord{Instance: "a", LoopID: 1, Token: "t2", Depth: 1}))
	require.NoError(t, j.WritePass(ctx, reactor.PassRecord{Instance: "a", LoopID: 1, Token: "t2", Depth: 2}))

	all, err := j.Passes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	names, err := j.Instances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	loop, err := j.Loop(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, loop, 2)
	assert.Equal(t, 1, loop[0].Depth)
	assert.Equal(t, 2, loop[1].Depth)

	byToken, err := j.Token(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, byToken, 1)
	assert.Equal(t, "b", byToken[0].Instance)
}

func TestJournal_ObservesInstance(t *testing.T) {
	j := openTestJournal(t)
	logs := testutil.NewLogCapture()

	inst, err := reactor.NewRoot().NewInstance("app",
		reactor.WithObserver(j),
		reactor.WithLogger(logs.Logger()),
		reactor.WithTokenGenerator(testutil.NewSequenceTokens("")),
	)
	require.NoError(t, err)
	defer inst.Teardown()

	require.NoError(t, inst.AddProperty(reactor.PropertySpec{
		ID:       "count",
		Type:     "number",
		Value:    0,
		Dispatch: []string{"countChanged"},
	}))
	require.NoError(t, inst.Update(map[string]any{"count": 1, "ghost": true}))
	require.NoError(t, inst.Flush(context.Background()))

	ctx := context.Background()
	entries, err := j.Passes(ctx, "app")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Depth)
	assert.Equal(t, "loop-0001", entries[0].Token)
	assert.Equal(t, []UpdateEntry{{ID: "count", Value: float64(1)}}, entries[0].Updates)
	assert.Equal(t, []string{"countChanged"}, entries[0].Dispatched)

	assert.Equal(t, 2, entries[1].Depth)
	assert.Equal(t, entries[0].LoopID, entries[1].LoopID)
	assert.Equal(t, []string{"countChanged"}, entries[1].Events)

	soft, err := j.SoftErrors(ctx, "app")
	require.NoError(t, err)
	require.Len(t, soft, 1)
	assert.Equal(t, string(reactor.ErrCodeUnknownProperty), soft[0].Code)
	assert.Equal(t, "ghost", soft[0].Property)
}

func TestPassCompleted_LogsWriteFailure(t *testing.T) {
	logs := testutil.NewLogCapture()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), WithLogger(logs.Logger()))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j.PassCompleted(reactor.PassRecord{Instance: "app", Depth: 1})
	assert.True(t, logs.Contains("journal write failed"))
}
