package launcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
	"github.com/roach88/goldenpath/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "launcher.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// bump folds n outcomes of one (category, action) pair into the store.
func bump(t *testing.T, st *store.Store, category, action string, successes, failures int, clock *testutil.ManualClock) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < successes; i++ {
		require.NoError(t, st.BumpRecoveryPolicy(ctx, category, action, true, clock.Now()))
	}
	for i := 0; i < failures; i++ {
		require.NoError(t, st.BumpRecoveryPolicy(ctx, category, action, false, clock.Now()))
	}
}

func TestSuggest_DefaultWithoutHistory(t *testing.T) {
	p := NewPolicies(newTestStore(t), discardLogger())

	action, err := p.Suggest(context.Background(), record.CategoryPort)

	require.NoError(t, err)
	assert.Equal(t, record.ActionFreePort, action)
}

func TestSuggest_PrefersLearnedPolicy(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	// restart succeeded more reliably than the free_port default.
	bump(t, st, record.CategoryPort, record.ActionFreePort, 1, 3, clock)
	bump(t, st, record.CategoryPort, record.ActionRestart, 3, 1, clock)

	p := NewPolicies(st, discardLogger())
	action, err := p.Suggest(context.Background(), record.CategoryPort)

	require.NoError(t, err)
	assert.Equal(t, record.ActionRestart, action)
}

func TestSuggest_IgnoresNeverSuccessfulPolicies(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	bump(t, st, record.CategoryMemory, record.ActionRestart, 0, 5, clock)

	p := NewPolicies(st, discardLogger())
	action, err := p.Suggest(context.Background(), record.CategoryMemory)

	require.NoError(t, err)
	assert.Equal(t, record.ActionWaitMemory, action)
}

func TestSuggest_TiebreakOnAttemptsThenAction(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	// Equal ratios; kill_process has more attempts behind it.
	bump(t, st, record.CategoryZombie, record.ActionRestart, 1, 1, clock)
	bump(t, st, record.CategoryZombie, record.ActionKillProcess, 2, 2, clock)

	p := NewPolicies(st, discardLogger())
	action, err := p.Suggest(context.Background(), record.CategoryZombie)

	require.NoError(t, err)
	assert.Equal(t, record.ActionKillProcess, action)

	// Equal ratios and attempts; action name decides.
	bump(t, st, CategoryCrashExit, record.ActionRestart, 1, 0, clock)
	bump(t, st, CategoryCrashExit, record.ActionNone, 1, 0, clock)

	action, err = p.Suggest(context.Background(), CategoryCrashExit)

	require.NoError(t, err)
	assert.Equal(t, record.ActionNone, action)
}

func TestSuggest_IsolatedPerCategory(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	bump(t, st, record.CategoryPort, record.ActionRestart, 5, 0, clock)

	p := NewPolicies(st, discardLogger())
	action, err := p.Suggest(context.Background(), record.CategoryMemory)

	require.NoError(t, err)
	assert.Equal(t, record.ActionWaitMemory, action)
}

func TestRecord_FoldsOutcome(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	p := NewPolicies(st, discardLogger())

	ctx := context.Background()
	require.NoError(t, p.Record(ctx, record.CategoryPort, record.ActionFreePort, Outcome{Succeeded: true}, clock.Now()))
	require.NoError(t, p.Record(ctx, record.CategoryPort, record.ActionFreePort, Outcome{Succeeded: false}, clock.Now()))

	policies, err := st.ListRecoveryPolicies(ctx, record.CategoryPort)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, int64(2), policies[0].Attempts)
	assert.Equal(t, int64(1), policies[0].Successes)
	assert.Equal(t, clock.Now(), policies[0].UpdatedAt)
}

func TestRecord_SkipsDryRuns(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	p := NewPolicies(st, discardLogger())

	ctx := context.Background()
	require.NoError(t, p.Record(ctx, record.CategoryPort, record.ActionFreePort, Outcome{Succeeded: true, DryRun: true}, clock.Now()))

	policies, err := st.ListRecoveryPolicies(ctx, record.CategoryPort)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
