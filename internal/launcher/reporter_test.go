package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
	"github.com/roach88/goldenpath/internal/testutil"
)

func seedCrash(t *testing.T, st *store.Store, id, service string, at time.Time) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, st.WriteCrashReport(ctx, record.CrashReport{
		ID:          id,
		Service:     service,
		Pid:         100,
		Command:     "sh -c exit 5",
		ExitCode:    5,
		StartedAt:   at.Add(-time.Minute),
		CrashedAt:   at,
		Environment: "development",
		Findings: []record.Detection{
			{Detector: DetectorPortConflict, Category: record.CategoryPort, Severity: record.SeverityCritical, Evidence: []string{"pid:4242"}},
		},
	}))

	_, err := st.WriteRecoveryAttempt(ctx, record.RecoveryAttempt{
		CrashID:   id,
		Action:    record.ActionFreePort,
		Target:    "8089",
		Succeeded: true,
		At:        at,
	})
	require.NoError(t, err)
}

func TestBuild_CollectsCrashesWithAttempts(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	seedCrash(t, st, "crash-1", "backend", clock.Now())
	seedCrash(t, st, "crash-2", "backend", clock.Advance(time.Hour))
	seedCrash(t, st, "crash-3", "worker", clock.Advance(time.Hour))

	r := NewReporter(st, discardLogger())
	r.now = clock.Now

	report, err := r.Build(context.Background(), "backend", 0, false)
	require.NoError(t, err)

	assert.Equal(t, clock.Now(), report.GeneratedAt)
	assert.Equal(t, "backend", report.Service)
	require.Len(t, report.Crashes, 2)

	// Most recent first.
	assert.Equal(t, "crash-2", report.Crashes[0].ID)
	assert.Equal(t, "crash-1", report.Crashes[1].ID)

	require.Len(t, report.Crashes[0].Attempts, 1)
	assert.Equal(t, record.ActionFreePort, report.Crashes[0].Attempts[0].Action)
	require.Len(t, report.Crashes[0].Findings, 1)
	assert.Equal(t, DetectorPortConflict, report.Crashes[0].Findings[0].Detector)

	assert.Nil(t, report.Policies)
}

func TestBuild_Limit(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	seedCrash(t, st, "crash-1", "backend", clock.Now())
	seedCrash(t, st, "crash-2", "backend", clock.Advance(time.Hour))

	r := NewReporter(st, discardLogger())
	report, err := r.Build(context.Background(), "backend", 1, false)
	require.NoError(t, err)

	require.Len(t, report.Crashes, 1)
	assert.Equal(t, "crash-2", report.Crashes[0].ID)
}

func TestBuild_IncludesPolicies(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	require.NoError(t, st.BumpRecoveryPolicy(context.Background(), record.CategoryPort, record.ActionFreePort, true, clock.Now()))

	r := NewReporter(st, discardLogger())
	report, err := r.Build(context.Background(), "", 0, true)
	require.NoError(t, err)

	require.Len(t, report.Policies, 1)
	assert.Equal(t, record.ActionFreePort, report.Policies[0].Action)
}

func TestBuild_EmptyStore(t *testing.T) {
	r := NewReporter(newTestStore(t), discardLogger())

	report, err := r.Build(context.Background(), "", 0, true)
	require.NoError(t, err)

	assert.Empty(t, report.Crashes)
	assert.Empty(t, report.Policies)
}

func TestWriteJSON_RoundTrips(t *testing.T) {
	st := newTestStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	seedCrash(t, st, "crash-1", "backend", clock.Now())

	r := NewReporter(st, discardLogger())
	report, err := r.Build(context.Background(), "", 0, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf, report))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Crashes, 1)
	assert.Equal(t, "crash-1", decoded.Crashes[0].ID)
	assert.Equal(t, record.ActionFreePort, decoded.Crashes[0].Attempts[0].Action)
}
