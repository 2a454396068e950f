package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/goldenpath/internal/record"
)

// ReadRun returns all events and detections for a run token.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns empty slices (not nil) if no records exist for the run token.
func (s *Store) ReadRun(ctx context.Context, runToken string) ([]record.EmittedEvent, []record.Detection, error) {
	events, err := s.readRunEvents(ctx, runToken)
	if err != nil {
		return nil, nil, err
	}

	detections, err := s.readRunDetections(ctx, runToken)
	if err != nil {
		return nil, nil, err
	}

	return events, detections, nil
}

// readRunEvents returns all events for a run token with deterministic ordering.
func (s *Store) readRunEvents(ctx context.Context, runToken string) ([]record.EmittedEvent, error) {
	// Deterministic ordering - ORDER BY seq ASC, id COLLATE BINARY ASC
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, type, payload, origin, seq, contract_hash, engine_version, schema_version
		FROM events
		WHERE run_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []record.EmittedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []record.EmittedEvent{}
	}

	return events, nil
}

// readRunDetections returns all detections for a run token with their
// evidence stitched back on, in deterministic order.
func (s *Store) readRunDetections(ctx context.Context, runToken string) ([]record.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, detector, category, severity, title, description, seq
		FROM detections
		WHERE run_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var detections []record.Detection
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}

	if detections == nil {
		return []record.Detection{}, nil
	}

	// One batch query for the run's evidence edges avoids N+1 per detection
	edges, err := s.readRunEvidence(ctx, runToken)
	if err != nil {
		return nil, err
	}
	for i := range detections {
		detections[i].Evidence = edges[detections[i].ID]
		if detections[i].Evidence == nil {
			detections[i].Evidence = []string{}
		}
	}

	return detections, nil
}

// readRunEvidence returns the evidence edges for every detection in a run,
// keyed by detection id, each list in citation order.
func (s *Store) readRunEvidence(ctx context.Context, runToken string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ee.detection_id, ee.event_id
		FROM evidence_edges ee
		JOIN detections d ON ee.detection_id = d.id
		WHERE d.run_token = ?
		ORDER BY ee.detection_id, ee.position ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query evidence edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var detectionID, eventID string
		if err := rows.Scan(&detectionID, &eventID); err != nil {
			return nil, fmt.Errorf("scan evidence edge: %w", err)
		}
		edges[detectionID] = append(edges[detectionID], eventID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence edges: %w", err)
	}

	return edges, nil
}

// HasEvent reports whether an event ID is already persisted.
func (s *Store) HasEvent(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM events WHERE id = ?)
	`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe event %s: %w", id, err)
	}
	return n == 1, nil
}

// ReadEvent retrieves a single event by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEvent(ctx context.Context, id string) (record.EmittedEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_token, type, payload, origin, seq, contract_hash, engine_version, schema_version
		FROM events
		WHERE id = ?
	`, id)

	return scanEventRow(row)
}

// ReadDetection retrieves a single detection by ID, evidence included.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadDetection(ctx context.Context, id string) (record.Detection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_token, detector, category, severity, title, description, seq
		FROM detections
		WHERE id = ?
	`, id)

	det, err := scanDetectionRow(row)
	if err != nil {
		return record.Detection{}, err
	}

	evidence, err := s.readEvidence(ctx, id)
	if err != nil {
		return record.Detection{}, err
	}
	det.Evidence = evidence

	return det, nil
}

// readEvidence returns one detection's cited event ids in citation order.
func (s *Store) readEvidence(ctx context.Context, detectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id FROM evidence_edges
		WHERE detection_id = ?
		ORDER BY position ASC
	`, detectionID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var evidence []string
	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		evidence = append(evidence, eventID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}

	if evidence == nil {
		evidence = []string{}
	}

	return evidence, nil
}

// ReadAllEvents returns all events with deterministic ordering.
// Used by replay verification. Results ordered by seq ASC, id ASC.
func (s *Store) ReadAllEvents(ctx context.Context) ([]record.EmittedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, type, payload, origin, seq, contract_hash, engine_version, schema_version
		FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all events: %w", err)
	}
	defer rows.Close()

	var events []record.EmittedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []record.EmittedEvent{}
	}

	return events, nil
}

// DetectionsCiting returns all detections whose evidence cites the given
// event (backward trace). Answers: "what findings does this event back?"
// Results ordered by seq ASC, id ASC for causality-aligned ordering.
func (s *Store) DetectionsCiting(ctx context.Context, eventID string) ([]record.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.run_token, d.detector, d.category, d.severity, d.title, d.description, d.seq
		FROM detections d
		JOIN evidence_edges ee ON d.id = ee.detection_id
		WHERE ee.event_id = ?
		ORDER BY d.seq ASC, d.id COLLATE BINARY ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query citing detections: %w", err)
	}
	defer rows.Close()

	var detections []record.Detection
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citing detections: %w", err)
	}

	if detections == nil {
		return []record.Detection{}, nil
	}

	for i := range detections {
		evidence, err := s.readEvidence(ctx, detections[i].ID)
		if err != nil {
			return nil, err
		}
		detections[i].Evidence = evidence
	}

	return detections, nil
}

// GetRun retrieves run bookkeeping by token.
// Returns sql.ErrNoRows if the run has never been seen.
func (s *Store) GetRun(ctx context.Context, runToken string) (record.Run, error) {
	var run record.Run
	var origin string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_token, contract, status, terminal_type, event_count, detection_count, last_seq, origin
		FROM runs
		WHERE run_token = ?
	`, runToken).Scan(
		&run.RunToken, &run.Contract, &run.Status, &run.TerminalType,
		&run.EventCount, &run.DetectionCount, &run.LastSeq, &origin,
	)
	if err != nil {
		return record.Run{}, err
	}
	run.Origin = record.Origin(origin)
	return run, nil
}

// ListRuns returns all run rows ordered by run token.
func (s *Store) ListRuns(ctx context.Context) ([]record.Run, error) {
	return s.listRuns(ctx, `
		SELECT run_token, contract, status, terminal_type, event_count, detection_count, last_seq, origin
		FROM runs
		ORDER BY run_token
	`)
}

// ListRunsByStatus returns run rows with the given status, ordered by run token.
func (s *Store) ListRunsByStatus(ctx context.Context, status string) ([]record.Run, error) {
	return s.listRuns(ctx, `
		SELECT run_token, contract, status, terminal_type, event_count, detection_count, last_seq, origin
		FROM runs
		WHERE status = ?
		ORDER BY run_token
	`, status)
}

func (s *Store) listRuns(ctx context.Context, query string, args ...any) ([]record.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []record.Run
	for rows.Next() {
		var run record.Run
		var origin string
		if err := rows.Scan(
			&run.RunToken, &run.Contract, &run.Status, &run.TerminalType,
			&run.EventCount, &run.DetectionCount, &run.LastSeq, &origin,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Origin = record.Origin(origin)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if runs == nil {
		runs = []record.Run{}
	}

	return runs, nil
}

// ContractRow is a stored contract: its identity hash, declared name and
// version, and the canonical JSON its identity was computed over.
type ContractRow struct {
	Hash      string
	Name      string
	Version   string
	Canonical string
}

// GetContract retrieves a stored contract by canonical hash.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetContract(ctx context.Context, hash string) (ContractRow, error) {
	var row ContractRow
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, name, version, canonical
		FROM contracts
		WHERE hash = ?
	`, hash).Scan(&row.Hash, &row.Name, &row.Version, &row.Canonical)
	if err != nil {
		return ContractRow{}, err
	}
	return row, nil
}

// GetContractByName retrieves the most recently stored contract with the
// given name. Contracts carry no timestamps, so recency is insertion order
// (rowid). Returns sql.ErrNoRows if the name is unknown.
func (s *Store) GetContractByName(ctx context.Context, name string) (ContractRow, error) {
	var row ContractRow
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, name, version, canonical
		FROM contracts
		WHERE name = ?
		ORDER BY rowid DESC
		LIMIT 1
	`, name).Scan(&row.Hash, &row.Name, &row.Version, &row.Canonical)
	if err != nil {
		return ContractRow{}, err
	}
	return row, nil
}

// GetCrashReport retrieves a crash report by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetCrashReport(ctx context.Context, id string) (record.CrashReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, pid, command, exit_code, signal, started_at, crashed_at,
		       uptime_seconds, environment, restart_count, findings
		FROM crash_reports
		WHERE id = ?
	`, id)

	return scanCrashReportRow(row)
}

// ListCrashReports returns crash reports for a service, most recent first.
// An empty service matches all services. limit <= 0 means no limit.
func (s *Store) ListCrashReports(ctx context.Context, service string, limit int) ([]record.CrashReport, error) {
	query := `
		SELECT id, service, pid, command, exit_code, signal, started_at, crashed_at,
		       uptime_seconds, environment, restart_count, findings
		FROM crash_reports
	`
	var args []any
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY crashed_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crash reports: %w", err)
	}
	defer rows.Close()

	var reports []record.CrashReport
	for rows.Next() {
		report, err := scanCrashReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crash reports: %w", err)
	}

	if reports == nil {
		reports = []record.CrashReport{}
	}

	return reports, nil
}

// ListRecoveryAttempts returns the attempts recorded for a crash, in the
// order they were made.
func (s *Store) ListRecoveryAttempts(ctx context.Context, crashID string) ([]record.RecoveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, crash_id, action, target, succeeded, dry_run, note, at
		FROM recovery_attempts
		WHERE crash_id = ?
		ORDER BY id ASC
	`, crashID)
	if err != nil {
		return nil, fmt.Errorf("query recovery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []record.RecoveryAttempt
	for rows.Next() {
		var a record.RecoveryAttempt
		var at string
		if err := rows.Scan(&a.ID, &a.CrashID, &a.Action, &a.Target, &a.Succeeded, &a.DryRun, &a.Note, &at); err != nil {
			return nil, fmt.Errorf("scan recovery attempt: %w", err)
		}
		t, err := parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("recovery attempt %d: %w", a.ID, err)
		}
		a.At = t
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery attempts: %w", err)
	}

	if attempts == nil {
		attempts = []record.RecoveryAttempt{}
	}

	return attempts, nil
}

// ListRecoveryPolicies returns learned policies for a crash category, ordered
// by (category, action) so callers rank them deterministically. An empty
// category matches all categories.
func (s *Store) ListRecoveryPolicies(ctx context.Context, category string) ([]record.LearnedPolicy, error) {
	query := `
		SELECT category, action, attempts, successes, updated_at
		FROM recovery_policies
	`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, action`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recovery policies: %w", err)
	}
	defer rows.Close()

	var policies []record.LearnedPolicy
	for rows.Next() {
		var p record.LearnedPolicy
		var updatedAt string
		if err := rows.Scan(&p.Category, &p.Action, &p.Attempts, &p.Successes, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan recovery policy: %w", err)
		}
		t, err := parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("recovery policy %s/%s: %w", p.Category, p.Action, err)
		}
		p.UpdatedAt = t
		policies = append(policies, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery policies: %w", err)
	}

	if policies == nil {
		policies = []record.LearnedPolicy{}
	}

	return policies, nil
}

// scanEvent scans a row into an EmittedEvent struct.
func scanEvent(rows *sql.Rows) (record.EmittedEvent, error) {
	var ev record.EmittedEvent
	var payloadJSON, origin string

	if err := rows.Scan(
		&ev.ID, &ev.RunToken, &ev.Type, &payloadJSON, &origin,
		&ev.Seq, &ev.ContractHash, &ev.EngineVersion, &ev.SchemaVersion,
	); err != nil {
		return record.EmittedEvent{}, fmt.Errorf("scan event: %w", err)
	}

	ev.Origin = record.Origin(origin)

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return record.EmittedEvent{}, err
	}
	ev.Payload = payload

	return ev, nil
}

// scanEventRow scans a single row into an EmittedEvent struct.
func scanEventRow(row *sql.Row) (record.EmittedEvent, error) {
	var ev record.EmittedEvent
	var payloadJSON, origin string

	if err := row.Scan(
		&ev.ID, &ev.RunToken, &ev.Type, &payloadJSON, &origin,
		&ev.Seq, &ev.ContractHash, &ev.EngineVersion, &ev.SchemaVersion,
	); err != nil {
		return record.EmittedEvent{}, err
	}

	ev.Origin = record.Origin(origin)

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return record.EmittedEvent{}, err
	}
	ev.Payload = payload

	return ev, nil
}

// scanDetection scans a row into a Detection struct. Evidence is attached
// separately from the evidence_edges table.
func scanDetection(rows *sql.Rows) (record.Detection, error) {
	var det record.Detection
	var severity string

	if err := rows.Scan(
		&det.ID, &det.RunToken, &det.Detector, &det.Category,
		&severity, &det.Title, &det.Description, &det.Seq,
	); err != nil {
		return record.Detection{}, fmt.Errorf("scan detection: %w", err)
	}

	det.Severity = record.Severity(severity)

	return det, nil
}

// scanDetectionRow scans a single row into a Detection struct.
func scanDetectionRow(row *sql.Row) (record.Detection, error) {
	var det record.Detection
	var severity string

	if err := row.Scan(
		&det.ID, &det.RunToken, &det.Detector, &det.Category,
		&severity, &det.Title, &det.Description, &det.Seq,
	); err != nil {
		return record.Detection{}, err
	}

	det.Severity = record.Severity(severity)

	return det, nil
}

// scanCrashReport scans a row into a CrashReport struct.
func scanCrashReport(rows *sql.Rows) (record.CrashReport, error) {
	var report record.CrashReport
	var startedAt, crashedAt, findingsJSON string

	if err := rows.Scan(
		&report.ID, &report.Service, &report.Pid, &report.Command,
		&report.ExitCode, &report.Signal, &startedAt, &crashedAt,
		&report.UptimeSeconds, &report.Environment, &report.RestartCount, &findingsJSON,
	); err != nil {
		return record.CrashReport{}, fmt.Errorf("scan crash report: %w", err)
	}

	return finishCrashReport(report, startedAt, crashedAt, findingsJSON)
}

// scanCrashReportRow scans a single row into a CrashReport struct.
func scanCrashReportRow(row *sql.Row) (record.CrashReport, error) {
	var report record.CrashReport
	var startedAt, crashedAt, findingsJSON string

	if err := row.Scan(
		&report.ID, &report.Service, &report.Pid, &report.Command,
		&report.ExitCode, &report.Signal, &startedAt, &crashedAt,
		&report.UptimeSeconds, &report.Environment, &report.RestartCount, &findingsJSON,
	); err != nil {
		return record.CrashReport{}, err
	}

	return finishCrashReport(report, startedAt, crashedAt, findingsJSON)
}

// finishCrashReport parses the TEXT columns a crash report stores.
func finishCrashReport(report record.CrashReport, startedAt, crashedAt, findingsJSON string) (record.CrashReport, error) {
	started, err := parseTime(startedAt)
	if err != nil {
		return record.CrashReport{}, fmt.Errorf("crash report %s: %w", report.ID, err)
	}
	report.StartedAt = started

	crashed, err := parseTime(crashedAt)
	if err != nil {
		return record.CrashReport{}, fmt.Errorf("crash report %s: %w", report.ID, err)
	}
	report.CrashedAt = crashed

	findings, err := unmarshalFindings(findingsJSON)
	if err != nil {
		return record.CrashReport{}, fmt.Errorf("crash report %s: %w", report.ID, err)
	}
	report.Findings = findings

	return report, nil
}
