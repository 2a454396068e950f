package store

import (
	"context"
	"testing"

	"github.com/roach88/goldenpath/internal/record"
)

func TestGetRunState_EmptyRun(t *testing.T) {
	s := createTestStore(t)

	state, err := s.GetRunState(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("GetRunState() failed: %v", err)
	}

	if state.RunToken != "no-such-run" {
		t.Errorf("run token = %q", state.RunToken)
	}
	if state.Status != record.RunStatusActive {
		t.Errorf("status = %q, want active default", state.Status)
	}
	if state.LastSeq != 0 {
		t.Errorf("last seq = %d, want 0", state.LastSeq)
	}
	if state.LastEventType != "" {
		t.Errorf("last event type = %q, want empty", state.LastEventType)
	}
	if state.IsComplete {
		t.Error("empty run reported complete")
	}
}

func TestGetRunState_TracksLastEvent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, ev := range []record.EmittedEvent{
		createTestEvent("ev-1", "run-abc", "agent_started", 1),
		createTestEvent("ev-2", "run-abc", "agent_thinking", 2),
		createTestEvent("ev-3", "run-abc", "tool_executing", 3),
	} {
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(%s) failed: %v", ev.ID, err)
		}
	}

	det := createTestDetection("det-1", "run-abc", "sequence/transition", []string{"ev-3"}, 4)
	if _, err := s.WriteDetection(ctx, det); err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}

	state, err := s.GetRunState(ctx, "run-abc")
	if err != nil {
		t.Fatalf("GetRunState() failed: %v", err)
	}

	if len(state.Events) != 3 {
		t.Errorf("event count = %d, want 3", len(state.Events))
	}
	if len(state.Detections) != 1 {
		t.Errorf("detection count = %d, want 1", len(state.Detections))
	}
	// Detection seq is higher than any event seq
	if state.LastSeq != 4 {
		t.Errorf("last seq = %d, want 4", state.LastSeq)
	}
	// Last event TYPE still comes from the highest-seq event
	if state.LastEventType != "tool_executing" {
		t.Errorf("last event type = %q, want tool_executing", state.LastEventType)
	}
}

func TestGetRunState_CompletenessFromBookkeeping(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteEvent(ctx, createTestEvent("ev-1", "run-abc", "agent_completed", 1)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	run := record.Run{
		RunToken:     "run-abc",
		Contract:     "agentchat",
		Status:       record.RunStatusCompleted,
		TerminalType: "agent_completed",
		EventCount:   1,
		LastSeq:      1,
		Origin:       record.OriginLive,
	}
	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatalf("UpsertRun() failed: %v", err)
	}

	state, err := s.GetRunState(ctx, "run-abc")
	if err != nil {
		t.Fatalf("GetRunState() failed: %v", err)
	}

	if !state.IsComplete {
		t.Error("completed run reported incomplete")
	}
	if state.Status != record.RunStatusCompleted {
		t.Errorf("status = %q, want completed", state.Status)
	}
}

func TestFindIncompleteRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// run-active: bookkeeping says active
	if _, err := s.WriteEvent(ctx, createTestEvent("ev-1", "run-active", "agent_started", 1)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if err := s.UpsertRun(ctx, record.Run{
		RunToken: "run-active", Contract: "agentchat",
		Status: record.RunStatusActive, EventCount: 1, LastSeq: 1, Origin: record.OriginLive,
	}); err != nil {
		t.Fatalf("UpsertRun() failed: %v", err)
	}

	// run-done: bookkeeping says completed
	if _, err := s.WriteEvent(ctx, createTestEvent("ev-2", "run-done", "agent_completed", 2)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if err := s.UpsertRun(ctx, record.Run{
		RunToken: "run-done", Contract: "agentchat",
		Status: record.RunStatusCompleted, TerminalType: "agent_completed",
		EventCount: 1, LastSeq: 2, Origin: record.OriginLive,
	}); err != nil {
		t.Fatalf("UpsertRun() failed: %v", err)
	}

	// run-orphan: events but no bookkeeping row (engine crashed early)
	if _, err := s.WriteEvent(ctx, createTestEvent("ev-3", "run-orphan", "agent_started", 3)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	states, err := s.FindIncompleteRuns(ctx)
	if err != nil {
		t.Fatalf("FindIncompleteRuns() failed: %v", err)
	}

	if len(states) != 2 {
		t.Fatalf("incomplete count = %d, want 2", len(states))
	}
	// Ordered by run token
	if states[0].RunToken != "run-active" || states[1].RunToken != "run-orphan" {
		t.Errorf("incomplete = [%s %s], want [run-active run-orphan]",
			states[0].RunToken, states[1].RunToken)
	}
}

func TestReplayRun_MergedTimeline(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, ev := range []record.EmittedEvent{
		createTestEvent("ev-1", "run-abc", "agent_started", 1),
		createTestEvent("ev-2", "run-abc", "tool_executing", 2),
	} {
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(%s) failed: %v", ev.ID, err)
		}
	}

	det := createTestDetection("det-1", "run-abc", "sequence/transition", []string{"ev-2"}, 2)
	if _, err := s.WriteDetection(ctx, det); err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}

	entries, err := s.ReplayRun(ctx, "run-abc")
	if err != nil {
		t.Fatalf("ReplayRun() failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("entry count = %d, want 3", len(entries))
	}

	// Event sorts before detection at the same seq
	wantKinds := []EntryKind{EntryEvent, EntryEvent, EntryDetection}
	wantIDs := []string{"ev-1", "ev-2", "det-1"}
	for i := range entries {
		if entries[i].Kind != wantKinds[i] {
			t.Errorf("entries[%d].Kind = %s, want %s", i, entries[i].Kind, wantKinds[i])
		}
		if entries[i].ID != wantIDs[i] {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, wantIDs[i])
		}
	}

	// Payload pointers survive the merge
	if entries[1].Event == nil || entries[1].Event.Type != "tool_executing" {
		t.Error("event entry missing its event")
	}
	if entries[2].Detection == nil || entries[2].Detection.Detector != "sequence/transition" {
		t.Error("detection entry missing its detection")
	}
}

func TestReplayRun_Deterministic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, ev := range []record.EmittedEvent{
		createTestEvent("ev-b", "run-abc", "agent_thinking", 2),
		createTestEvent("ev-a", "run-abc", "agent_started", 1),
		createTestEvent("ev-c", "run-abc", "agent_thinking", 2),
	} {
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(%s) failed: %v", ev.ID, err)
		}
	}

	first, err := s.ReplayRun(ctx, "run-abc")
	if err != nil {
		t.Fatalf("ReplayRun() failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := s.ReplayRun(ctx, "run-abc")
		if err != nil {
			t.Fatalf("ReplayRun() iteration %d failed: %v", i, err)
		}
		if len(again) != len(first) {
			t.Fatalf("iteration %d: length %d, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].ID != first[j].ID {
				t.Errorf("iteration %d: entries[%d] = %q, want %q", i, j, again[j].ID, first[j].ID)
			}
		}
	}

	// Seq ties resolve by id: ev-b before ev-c
	if first[1].ID != "ev-b" || first[2].ID != "ev-c" {
		t.Errorf("tie order = [%s %s], want [ev-b ev-c]", first[1].ID, first[2].ID)
	}
}

func TestEntryKind_String(t *testing.T) {
	if EntryEvent.String() != "event" {
		t.Errorf("EntryEvent = %q", EntryEvent.String())
	}
	if EntryDetection.String() != "detection" {
		t.Errorf("EntryDetection = %q", EntryDetection.String())
	}
	if EntryKind(99).String() != "unknown" {
		t.Errorf("EntryKind(99) = %q", EntryKind(99).String())
	}
}

func TestGetLastSeq_EmptyStore(t *testing.T) {
	s := createTestStore(t)

	seq, err := s.GetLastSeq(context.Background())
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0", seq)
	}
}

func TestGetLastSeq_MaxAcrossTables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteEvent(ctx, createTestEvent("ev-1", "run-abc", "agent_started", 5)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	// Detection carries the higher seq
	det := createTestDetection("det-1", "run-abc", "runaway/max-events", nil, 9)
	if _, err := s.WriteDetection(ctx, det); err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}

	seq, err := s.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("seq = %d, want 9", seq)
	}
}

func TestGetLastSeqForRun_Scoped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteEvent(ctx, createTestEvent("ev-1", "run-one", "agent_started", 3)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if _, err := s.WriteEvent(ctx, createTestEvent("ev-2", "run-two", "agent_started", 8)); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	seq, err := s.GetLastSeqForRun(ctx, "run-one")
	if err != nil {
		t.Fatalf("GetLastSeqForRun() failed: %v", err)
	}
	if seq != 3 {
		t.Errorf("seq = %d, want 3 (run-two's events must not leak)", seq)
	}
}

func TestListRunTokens(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, token := range []string{"run-c", "run-a", "run-c", "run-b"} {
		ev := createTestEvent(
			"ev-"+string(rune('0'+i)), token, "agent_started", int64(i+1))
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent() failed: %v", err)
		}
	}

	tokens, err := s.ListRunTokens(ctx)
	if err != nil {
		t.Fatalf("ListRunTokens() failed: %v", err)
	}

	want := []string{"run-a", "run-b", "run-c"}
	if len(tokens) != len(want) {
		t.Fatalf("token count = %d, want %d", len(tokens), len(want))
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestListRunTokens_Empty(t *testing.T) {
	s := createTestStore(t)

	tokens, err := s.ListRunTokens(context.Background())
	if err != nil {
		t.Fatalf("ListRunTokens() failed: %v", err)
	}
	if tokens == nil {
		t.Error("tokens is nil, want empty slice")
	}
	if len(tokens) != 0 {
		t.Errorf("token count = %d, want 0", len(tokens))
	}
}
