package record

import "time"

// Origin identifies which pipe delivered an event.
type Origin string

const (
	// OriginLive marks events captured from a real backend connection.
	OriginLive Origin = "live"

	// OriginSimulated marks events served by the transcript simulator.
	OriginSimulated Origin = "simulated"

	// OriginInjected marks events injected manually (emit command, harness).
	OriginInjected Origin = "injected"
)

// ValidOrigins defines the allowed origin strings.
var ValidOrigins = map[Origin]bool{
	OriginLive:      true,
	OriginSimulated: true,
	OriginInjected:  true,
}

// EmittedEvent is one event observed on an agent run's stream.
type EmittedEvent struct {
	ID            string `json:"id"` // Content-addressed hash
	RunToken      string `json:"run_token"`
	Type          string `json:"type"`    // "agent_started", "tool_executing", ...
	Payload       Object `json:"payload"` // Constrained to Value types
	Origin        Origin `json:"origin"`
	Seq           int64  `json:"seq"`            // Logical clock
	ContractHash  string `json:"contract_hash"`  // Hash of active contract
	EngineVersion string `json:"engine_version"` // Engine version
	SchemaVersion string `json:"schema_version"` // Record schema version
}

// Severity grades a detection.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ValidSeverities defines the allowed severity strings.
var ValidSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityCritical: true,
}

// Detection categories. Engine detectors own the first six; launcher
// diagnostics own the system/* ones.
const (
	CategorySchema       = "schema"
	CategorySequence     = "sequence"
	CategoryPairing      = "pairing"
	CategoryLoop         = "loop"
	CategoryRunaway      = "runaway"
	CategoryAuthenticity = "authenticity"
	CategoryPort         = "system/port"
	CategoryZombie       = "system/zombie"
	CategoryMemory       = "system/memory"
)

// Detection is a single validation or diagnostic finding.
type Detection struct {
	ID          string   `json:"id"` // Content-addressed hash
	RunToken    string   `json:"run_token"`
	Detector    string   `json:"detector"` // Rule that fired, e.g. "sequence/transition"
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"` // Event IDs backing the finding
	Seq         int64    `json:"seq"`      // Logical clock
}

// Run statuses.
const (
	RunStatusActive    = "active"    // Events observed, no terminal yet
	RunStatusCompleted = "completed" // Terminal reached, no critical detections
	RunStatusFlagged   = "flagged"   // Terminal reached with critical detections
)

// Run summarizes the state of one agent run.
type Run struct {
	RunToken       string `json:"run_token"`
	Contract       string `json:"contract"` // Contract name
	Status         string `json:"status"`
	TerminalType   string `json:"terminal_type,omitempty"` // Terminal event type, if reached
	EventCount     int64  `json:"event_count"`
	DetectionCount int64  `json:"detection_count"`
	LastSeq        int64  `json:"last_seq"`
	Origin         Origin `json:"origin"`
}

// CrashReport records one service crash observed by the launcher.
// Identity is a UUID, not content-addressed: crash reports are never
// replayed, and wall-clock time is part of their meaning.
type CrashReport struct {
	ID            string      `json:"id"` // UUIDv7
	Service       string      `json:"service"`
	Pid           int         `json:"pid"`
	Command       string      `json:"command"`
	ExitCode      int         `json:"exit_code"`
	Signal        string      `json:"signal,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CrashedAt     time.Time   `json:"crashed_at"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Environment   string      `json:"environment"`
	RestartCount  int         `json:"restart_count"`
	Findings      []Detection `json:"findings"` // Diagnostics at crash time
}

// Recovery action kinds.
const (
	ActionKillProcess = "kill_process"
	ActionFreePort    = "free_port"
	ActionWaitMemory  = "wait_memory"
	ActionRestart     = "restart"
	ActionNone        = "none"
)

// RecoveryAttempt records one recovery action applied (or simulated) after a
// crash.
type RecoveryAttempt struct {
	ID        int64     `json:"id"` // Auto-increment (store-layer)
	CrashID   string    `json:"crash_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"` // pid, port, etc.
	Succeeded bool      `json:"succeeded"`
	DryRun    bool      `json:"dry_run"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
}

// LearnedPolicy tracks how well a recovery action works for a crash
// category. Counters are integers; success ratio is derived, never stored.
type LearnedPolicy struct {
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Attempts  int64     `json:"attempts"`
	Successes int64     `json:"successes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessPerMille returns the success ratio in integer per-mille, 0 when the
// policy has never been attempted. Integer math keeps ranking deterministic.
func (p LearnedPolicy) SuccessPerMille() int64 {
	if p.Attempts == 0 {
		return 0
	}
	return p.Successes * 1000 / p.Attempts
}
