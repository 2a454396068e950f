package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/goldenpath/internal/record"
)

// WriteEvent inserts an event record into the store.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - the id is
// content-addressed, so re-ingesting a capture is a structural no-op.
// Other constraint violations (e.g., NOT NULL) will still return errors.
//
// Returns whether a new row was inserted so callers can skip run bookkeeping
// and detector side effects for duplicates.
//
// The event's Payload is serialized to canonical JSON per RFC 8785 for
// deterministic replay.
func (s *Store) WriteEvent(ctx context.Context, ev record.EmittedEvent) (inserted bool, err error) {
	payloadJSON, err := marshalPayload(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, run_token, type, payload, origin, seq, contract_hash, engine_version, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.RunToken,
		ev.Type,
		payloadJSON,
		string(ev.Origin),
		ev.Seq,
		ev.ContractHash,
		ev.EngineVersion,
		ev.SchemaVersion,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// WriteDetection atomically writes a detection and its evidence edges in a
// single transaction.
//
// The detection id is content-addressed, so the INSERT claims the id slot
// via the primary key:
//  1. Claim the detection id (INSERT ... ON CONFLICT DO NOTHING)
//  2. If not inserted (duplicate), commit and report inserted=false
//  3. If inserted, write evidence edges in citation order
//
// A detection is therefore never visible without its evidence, and replaying
// the same stream never duplicates either.
//
// Note: every cited event must already exist (foreign key constraint).
func (s *Store) WriteDetection(ctx context.Context, det record.Detection) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write detection: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Step 1: Claim the detection id (primary key is the arbiter)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO detections
		(id, run_token, detector, category, severity, title, description, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		det.ID,
		det.RunToken,
		det.Detector,
		det.Category,
		string(det.Severity),
		det.Title,
		det.Description,
		det.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("write detection: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write detection: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Duplicate - the edges were written when the id was first claimed
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("write detection: commit (existing): %w", err)
		}
		return false, nil
	}

	// Step 2: Write evidence edges in citation order
	for position, eventID := range det.Evidence {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evidence_edges
			(detection_id, event_id, position)
			VALUES (?, ?, ?)
		`,
			det.ID,
			eventID,
			position,
		)
		if err != nil {
			return false, fmt.Errorf("write detection: evidence edge %d: %w", position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write detection: commit: %w", err)
	}

	return true, nil
}

// HasDetection checks if a detection with the given id already exists.
// Used by the runaway detector, whose id is stable per (run, detector), to
// avoid re-running evidence collection once the finding is on record.
func (s *Store) HasDetection(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM detections WHERE id = ?
	`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check detection: %w", err)
	}
	return count > 0, nil
}

// UpsertRun writes run bookkeeping, replacing any existing row for the run
// token. Runs are derived state: the engine recomputes them from the event
// log, so last-write-wins is safe here.
func (s *Store) UpsertRun(ctx context.Context, run record.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_token, contract, status, terminal_type, event_count, detection_count, last_seq, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token) DO UPDATE SET
			contract        = excluded.contract,
			status          = excluded.status,
			terminal_type   = excluded.terminal_type,
			event_count     = excluded.event_count,
			detection_count = excluded.detection_count,
			last_seq        = excluded.last_seq,
			origin          = excluded.origin
	`,
		run.RunToken,
		run.Contract,
		run.Status,
		run.TerminalType,
		run.EventCount,
		run.DetectionCount,
		run.LastSeq,
		string(run.Origin),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// WriteContract stores a compiled contract keyed by its canonical hash and
// returns that hash. Uses ON CONFLICT(hash) DO NOTHING - recompiling the
// same contract source is idempotent regardless of declaration order.
func (s *Store) WriteContract(ctx context.Context, c *record.Contract) (string, error) {
	canonical, err := c.Canonical()
	if err != nil {
		return "", fmt.Errorf("write contract: %w", err)
	}
	hash := record.ContractHash(canonical)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contracts
		(hash, name, version, canonical)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		hash,
		c.Name,
		c.Version,
		string(canonical),
	)
	if err != nil {
		return "", fmt.Errorf("write contract: %w", err)
	}

	return hash, nil
}

// WriteCrashReport inserts a crash report.
// Crash ids are UUIDs minted by the reporter, so a plain INSERT suffices;
// a duplicate id is a caller bug and surfaces as a constraint error.
func (s *Store) WriteCrashReport(ctx context.Context, report record.CrashReport) error {
	findingsJSON, err := marshalFindings(report.Findings)
	if err != nil {
		return fmt.Errorf("write crash report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crash_reports
		(id, service, pid, command, exit_code, signal, started_at, crashed_at,
		 uptime_seconds, environment, restart_count, findings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Service,
		report.Pid,
		report.Command,
		report.ExitCode,
		report.Signal,
		formatTime(report.StartedAt),
		formatTime(report.CrashedAt),
		report.UptimeSeconds,
		report.Environment,
		report.RestartCount,
		findingsJSON,
	)
	if err != nil {
		return fmt.Errorf("write crash report: %w", err)
	}

	return nil
}

// WriteRecoveryAttempt appends a recovery attempt and returns its
// auto-generated id.
//
// Note: the crash referenced by CrashID must exist (foreign key constraint).
func (s *Store) WriteRecoveryAttempt(ctx context.Context, attempt record.RecoveryAttempt) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_attempts
		(crash_id, action, target, succeeded, dry_run, note, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		attempt.CrashID,
		attempt.Action,
		attempt.Target,
		attempt.Succeeded,
		attempt.DryRun,
		attempt.Note,
		formatTime(attempt.At),
	)
	if err != nil {
		return 0, fmt.Errorf("write recovery attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write recovery attempt: last insert id: %w", err)
	}

	return id, nil
}

// BumpRecoveryPolicy folds one recovery outcome into the learned policy for
// (category, action). The counter arithmetic happens inside the upsert so
// concurrent launchers sharing a database cannot lose updates.
//
// Dry-run attempts must not be folded in; callers gate on that.
func (s *Store) BumpRecoveryPolicy(ctx context.Context, category, action string, succeeded bool, now time.Time) error {
	success := 0
	if succeeded {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_policies
		(category, action, attempts, successes, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(category, action) DO UPDATE SET
			attempts   = attempts + 1,
			successes  = successes + excluded.successes,
			updated_at = excluded.updated_at
	`,
		category,
		action,
		success,
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("bump recovery policy: %w", err)
	}

	return nil
}
