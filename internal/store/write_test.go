package store

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/goldenpath/internal/record"
)

func TestWriteEvent_Basic(t *testing.T) {
	s := createTestStore(t)

	ev := record.EmittedEvent{
		ID:       "ev-123",
		RunToken: "run-abc",
		Type:     "tool_executing",
		Payload: record.Object{
			"tool_name":    record.String("search"),
			"tool_call_id": record.String("call-1"),
		},
		Origin:        record.OriginLive,
		Seq:           1,
		ContractHash:  "hash-abc",
		EngineVersion: "0.1.0",
		SchemaVersion: "1",
	}

	inserted, err := s.WriteEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true for new event")
	}

	// Verify stored correctly
	var storedID, runToken, eventType, origin string
	var seq int64
	err = s.db.QueryRow(`
		SELECT id, run_token, type, origin, seq
		FROM events
		WHERE id = ?
	`, ev.ID).Scan(&storedID, &runToken, &eventType, &origin, &seq)

	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if storedID != ev.ID {
		t.Errorf("id = %q, want %q", storedID, ev.ID)
	}
	if runToken != ev.RunToken {
		t.Errorf("run_token = %q, want %q", runToken, ev.RunToken)
	}
	if eventType != ev.Type {
		t.Errorf("type = %q, want %q", eventType, ev.Type)
	}
	if origin != string(ev.Origin) {
		t.Errorf("origin = %q, want %q", origin, ev.Origin)
	}
	if seq != ev.Seq {
		t.Errorf("seq = %d, want %d", seq, ev.Seq)
	}
}

func TestWriteEvent_CanonicalJSON(t *testing.T) {
	s := createTestStore(t)

	ev := createTestEvent("ev-123", "run-abc", "agent_thinking", 1)
	ev.Payload = record.Object{
		"zebra": record.String("z"),
		"apple": record.String("a"),
		"mango": record.String("m"),
	}

	if _, err := s.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	var payloadJSON string
	err := s.db.QueryRow("SELECT payload FROM events WHERE id = ?", ev.ID).Scan(&payloadJSON)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	// Canonical JSON should have keys sorted
	expected := `{"apple":"a","mango":"m","zebra":"z"}`
	if payloadJSON != expected {
		t.Errorf("payload JSON = %q, want %q (canonical order)", payloadJSON, expected)
	}
}

func TestWriteEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)

	ev := createTestEvent("ev-123", "run-abc", "agent_started", 1)

	// First write inserts
	inserted, err := s.WriteEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("first WriteEvent() failed: %v", err)
	}
	if !inserted {
		t.Error("first write: inserted = false, want true")
	}

	// Second write is a structural no-op
	inserted, err = s.WriteEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("second WriteEvent() failed: %v", err)
	}
	if inserted {
		t.Error("second write: inserted = true, want false")
	}

	// Verify only one row exists
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM events WHERE id = ?", ev.ID).Scan(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1 (idempotent write)", count)
	}
}

func TestWriteEvent_SimulatedOrigin(t *testing.T) {
	s := createTestStore(t)

	ev := createTestEvent("ev-sim", "run-abc", "agent_started", 1)
	ev.Origin = record.OriginSimulated

	if _, err := s.WriteEvent(context.Background(), ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	got, err := s.ReadEvent(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("ReadEvent() failed: %v", err)
	}
	if got.Origin != record.OriginSimulated {
		t.Errorf("origin = %q, want %q", got.Origin, record.OriginSimulated)
	}
}

func TestWriteDetection_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Evidence events must exist first (foreign key)
	for i, id := range []string{"ev-1", "ev-2"} {
		ev := createTestEvent(id, "run-abc", "agent_thinking", int64(i+1))
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(%s) failed: %v", id, err)
		}
	}

	det := record.Detection{
		ID:          "det-123",
		RunToken:    "run-abc",
		Detector:    "pairing/unclosed",
		Category:    record.CategoryPairing,
		Severity:    record.SeverityCritical,
		Title:       "tool call never completed",
		Description: "tool_executing call-9 has no matching tool_completed",
		Evidence:    []string{"ev-1", "ev-2"},
		Seq:         3,
	}

	inserted, err := s.WriteDetection(ctx, det)
	if err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true for new detection")
	}

	// Verify the row
	got, err := s.ReadDetection(ctx, det.ID)
	if err != nil {
		t.Fatalf("ReadDetection() failed: %v", err)
	}
	if got.Detector != det.Detector {
		t.Errorf("detector = %q, want %q", got.Detector, det.Detector)
	}
	if got.Severity != det.Severity {
		t.Errorf("severity = %q, want %q", got.Severity, det.Severity)
	}
	if len(got.Evidence) != 2 || got.Evidence[0] != "ev-1" || got.Evidence[1] != "ev-2" {
		t.Errorf("evidence = %v, want [ev-1 ev-2]", got.Evidence)
	}
}

func TestWriteDetection_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := createTestEvent("ev-1", "run-abc", "agent_thinking", 1)
	if _, err := s.WriteEvent(ctx, ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	det := createTestDetection("det-123", "run-abc", "sequence/transition", []string{"ev-1"}, 2)

	inserted, err := s.WriteDetection(ctx, det)
	if err != nil {
		t.Fatalf("first WriteDetection() failed: %v", err)
	}
	if !inserted {
		t.Error("first write: inserted = false, want true")
	}

	inserted, err = s.WriteDetection(ctx, det)
	if err != nil {
		t.Fatalf("second WriteDetection() failed: %v", err)
	}
	if inserted {
		t.Error("second write: inserted = true, want false")
	}

	// Exactly one detection row and one evidence edge
	var detCount, edgeCount int
	s.db.QueryRow("SELECT COUNT(*) FROM detections WHERE id = ?", det.ID).Scan(&detCount)
	s.db.QueryRow("SELECT COUNT(*) FROM evidence_edges WHERE detection_id = ?", det.ID).Scan(&edgeCount)
	if detCount != 1 {
		t.Errorf("detection count = %d, want 1", detCount)
	}
	if edgeCount != 1 {
		t.Errorf("evidence edge count = %d, want 1 (no duplicate edges)", edgeCount)
	}
}

func TestWriteDetection_NoEvidence(t *testing.T) {
	// The runaway detector emits a finding with a stable id and no evidence
	s := createTestStore(t)
	ctx := context.Background()

	det := createTestDetection("det-runaway", "run-abc", "runaway/max-events", nil, 257)
	det.Category = record.CategoryRunaway
	det.Severity = record.SeverityCritical

	inserted, err := s.WriteDetection(ctx, det)
	if err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}

	got, err := s.ReadDetection(ctx, det.ID)
	if err != nil {
		t.Fatalf("ReadDetection() failed: %v", err)
	}
	if len(got.Evidence) != 0 {
		t.Errorf("evidence = %v, want empty", got.Evidence)
	}
}

func TestWriteDetection_EvidenceOrderPreserved(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Insert events whose ids do NOT sort in citation order
	for i, id := range []string{"ev-zz", "ev-aa", "ev-mm"} {
		ev := createTestEvent(id, "run-abc", "agent_thinking", int64(i+1))
		if _, err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(%s) failed: %v", id, err)
		}
	}

	det := createTestDetection("det-123", "run-abc", "loop/repeat", []string{"ev-zz", "ev-aa", "ev-mm"}, 4)

	if _, err := s.WriteDetection(ctx, det); err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}

	got, err := s.ReadDetection(ctx, det.ID)
	if err != nil {
		t.Fatalf("ReadDetection() failed: %v", err)
	}

	// Citation order, not lexical order
	want := []string{"ev-zz", "ev-aa", "ev-mm"}
	if len(got.Evidence) != len(want) {
		t.Fatalf("evidence length = %d, want %d", len(got.Evidence), len(want))
	}
	for i := range want {
		if got.Evidence[i] != want[i] {
			t.Errorf("evidence[%d] = %q, want %q", i, got.Evidence[i], want[i])
		}
	}
}

func TestWriteDetection_MissingEventRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Detection cites an event that was never written
	det := createTestDetection("det-bad", "run-abc", "pairing/unclosed", []string{"ev-ghost"}, 1)

	_, err := s.WriteDetection(ctx, det)
	if err == nil {
		t.Fatal("expected foreign key error, got nil")
	}

	// The whole transaction must roll back: no orphan detection row
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM detections WHERE id = ?", det.ID).Scan(&count)
	if count != 0 {
		t.Errorf("detection count = %d, want 0 after rollback", count)
	}
}

func TestHasDetection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	det := createTestDetection("det-123", "run-abc", "runaway/max-events", nil, 1)

	found, err := s.HasDetection(ctx, det.ID)
	if err != nil {
		t.Fatalf("HasDetection() failed: %v", err)
	}
	if found {
		t.Error("found = true before write, want false")
	}

	if _, err := s.WriteDetection(ctx, det); err != nil {
		t.Fatalf("WriteDetection() failed: %v", err)
	}

	found, err = s.HasDetection(ctx, det.ID)
	if err != nil {
		t.Fatalf("HasDetection() failed: %v", err)
	}
	if !found {
		t.Error("found = false after write, want true")
	}
}

func TestUpsertRun_InsertThenUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := record.Run{
		RunToken:   "run-abc",
		Contract:   "agentchat",
		Status:     record.RunStatusActive,
		EventCount: 1,
		LastSeq:    1,
		Origin:     record.OriginLive,
	}

	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatalf("first UpsertRun() failed: %v", err)
	}

	// Advance the run to completion
	run.Status = record.RunStatusCompleted
	run.TerminalType = "agent_completed"
	run.EventCount = 5
	run.LastSeq = 5

	if err := s.UpsertRun(ctx, run); err != nil {
		t.Fatalf("second UpsertRun() failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-abc")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}

	if got.Status != record.RunStatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, record.RunStatusCompleted)
	}
	if got.TerminalType != "agent_completed" {
		t.Errorf("terminal_type = %q, want agent_completed", got.TerminalType)
	}
	if got.EventCount != 5 {
		t.Errorf("event_count = %d, want 5", got.EventCount)
	}

	// Still one row
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	if count != 1 {
		t.Errorf("run count = %d, want 1", count)
	}
}

func TestWriteContract_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	contract := &record.Contract{
		Name:    "agentchat",
		Version: "1",
		Events: []record.EventSpec{
			{Name: "agent_started", Initial: true},
			{Name: "agent_completed", Terminal: true},
		},
		Transitions: []record.Transition{
			{From: "agent_started", To: "agent_completed"},
		},
		GoldenPath:      []string{"agent_started", "agent_completed"},
		MaxEventsPerRun: record.DefaultMaxEventsPerRun,
		MaxRepeats:      record.DefaultMaxRepeats,
	}

	hash1, err := s.WriteContract(ctx, contract)
	if err != nil {
		t.Fatalf("first WriteContract() failed: %v", err)
	}

	hash2, err := s.WriteContract(ctx, contract)
	if err != nil {
		t.Fatalf("second WriteContract() failed: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("hashes differ: %q vs %q", hash1, hash2)
	}

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM contracts").Scan(&count)
	if count != 1 {
		t.Errorf("contract count = %d, want 1", count)
	}

	row, err := s.GetContract(ctx, hash1)
	if err != nil {
		t.Fatalf("GetContract() failed: %v", err)
	}
	if row.Name != "agentchat" {
		t.Errorf("name = %q, want agentchat", row.Name)
	}
	if row.Canonical == "" {
		t.Error("canonical JSON is empty")
	}
}

func TestWriteCrashReport_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	report := record.CrashReport{
		ID:            "crash-0001",
		Service:       "chat-backend",
		Pid:           4242,
		Command:       "./chat-backend --port 8080",
		ExitCode:      1,
		Signal:        "",
		StartedAt:     started,
		CrashedAt:     started.Add(90 * time.Second),
		UptimeSeconds: 90,
		Environment:   "development",
		RestartCount:  2,
		Findings: []record.Detection{
			{
				ID:       "det-port",
				Detector: "diagnostics/port",
				Category: record.CategoryPort,
				Severity: record.SeverityCritical,
				Title:    "port 8080 still bound",
				Evidence: []string{},
			},
		},
	}

	if err := s.WriteCrashReport(ctx, report); err != nil {
		t.Fatalf("WriteCrashReport() failed: %v", err)
	}

	got, err := s.GetCrashReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetCrashReport() failed: %v", err)
	}

	if got.Service != report.Service {
		t.Errorf("service = %q, want %q", got.Service, report.Service)
	}
	if !got.StartedAt.Equal(report.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, report.StartedAt)
	}
	if !got.CrashedAt.Equal(report.CrashedAt) {
		t.Errorf("crashed_at = %v, want %v", got.CrashedAt, report.CrashedAt)
	}
	if got.UptimeSeconds != 90 {
		t.Errorf("uptime_seconds = %d, want 90", got.UptimeSeconds)
	}
	if len(got.Findings) != 1 || got.Findings[0].Category != record.CategoryPort {
		t.Errorf("findings = %+v, want one system/port finding", got.Findings)
	}
}

func TestWriteRecoveryAttempt_AutoIncrement(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	report := record.CrashReport{
		ID:          "crash-0001",
		Service:     "chat-backend",
		Pid:         1,
		Command:     "./chat-backend",
		ExitCode:    1,
		StartedAt:   time.Now(),
		CrashedAt:   time.Now(),
		Environment: "development",
	}
	if err := s.WriteCrashReport(ctx, report); err != nil {
		t.Fatalf("WriteCrashReport() failed: %v", err)
	}

	first, err := s.WriteRecoveryAttempt(ctx, record.RecoveryAttempt{
		CrashID:   "crash-0001",
		Action:    record.ActionFreePort,
		Target:    "8080",
		Succeeded: true,
		At:        time.Now(),
	})
	if err != nil {
		t.Fatalf("first WriteRecoveryAttempt() failed: %v", err)
	}

	second, err := s.WriteRecoveryAttempt(ctx, record.RecoveryAttempt{
		CrashID:   "crash-0001",
		Action:    record.ActionRestart,
		Succeeded: true,
		At:        time.Now(),
	})
	if err != nil {
		t.Fatalf("second WriteRecoveryAttempt() failed: %v", err)
	}

	if second <= first {
		t.Errorf("ids not increasing: first=%d second=%d", first, second)
	}

	attempts, err := s.ListRecoveryAttempts(ctx, "crash-0001")
	if err != nil {
		t.Fatalf("ListRecoveryAttempts() failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempt count = %d, want 2", len(attempts))
	}
	if attempts[0].Action != record.ActionFreePort || attempts[1].Action != record.ActionRestart {
		t.Errorf("attempts out of order: %+v", attempts)
	}
}

func TestBumpRecoveryPolicy_FoldsCounters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	outcomes := []bool{true, true, false, true}
	for i, ok := range outcomes {
		err := s.BumpRecoveryPolicy(ctx, record.CategoryPort, record.ActionFreePort, ok, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("BumpRecoveryPolicy() %d failed: %v", i, err)
		}
	}

	policies, err := s.ListRecoveryPolicies(ctx, record.CategoryPort)
	if err != nil {
		t.Fatalf("ListRecoveryPolicies() failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("policy count = %d, want 1", len(policies))
	}

	p := policies[0]
	if p.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", p.Attempts)
	}
	if p.Successes != 3 {
		t.Errorf("successes = %d, want 3", p.Successes)
	}
	if p.SuccessPerMille() != 750 {
		t.Errorf("per-mille = %d, want 750", p.SuccessPerMille())
	}
	if !p.UpdatedAt.Equal(now.Add(3 * time.Minute)) {
		t.Errorf("updated_at = %v, want %v", p.UpdatedAt, now.Add(3*time.Minute))
	}
}
