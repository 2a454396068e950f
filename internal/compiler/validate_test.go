package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/goldenpath/internal/record"
)

// validContract builds a minimal contract that passes all checks.
func validContract() *record.Contract {
	return &record.Contract{
		Name:    "agentchat",
		Version: "1",
		Events: []record.EventSpec{
			{Name: "agent_started", Initial: true, Fields: map[string]string{"run_id": "string"}},
			{Name: "agent_thinking", Fields: map[string]string{"step": "int"}},
			{
				Name:    "tool_executing",
				Fields:  map[string]string{"tool_name": "string", "tool_call_id": "string"},
				Pairing: &record.PairingSpec{Role: record.PairingRoleOpen, Counterpart: "tool_completed", Key: "tool_call_id"},
			},
			{
				Name:    "tool_completed",
				Fields:  map[string]string{"tool_call_id": "string"},
				Pairing: &record.PairingSpec{Role: record.PairingRoleClose, Counterpart: "tool_executing", Key: "tool_call_id"},
			},
			{Name: "agent_completed", Terminal: true},
		},
		Transitions: []record.Transition{
			{From: "agent_started", To: "agent_thinking"},
			{From: "agent_thinking", To: "tool_executing"},
			{From: "agent_thinking", To: "agent_completed"},
			{From: "tool_executing", To: "tool_completed"},
			{From: "tool_completed", To: "agent_thinking"},
			{From: "tool_completed", To: "agent_completed"},
		},
		GoldenPath: []string{
			"agent_started", "agent_thinking", "tool_executing",
			"tool_completed", "agent_completed",
		},
		MaxEventsPerRun: 256,
		MaxRepeats:      10,
	}
}

// codes extracts the set of error codes from validation results.
func codes(errs []ValidationError) map[string]bool {
	set := make(map[string]bool, len(errs))
	for _, e := range errs {
		set[e.Code] = true
	}
	return set
}

func TestValidateCleanContract(t *testing.T) {
	errs := Validate(validContract())
	assert.Empty(t, errs, "reference contract must validate cleanly: %v", errs)
}

func TestValidateAcceptsValueAndPointer(t *testing.T) {
	c := validContract()
	assert.Empty(t, Validate(c))
	assert.Empty(t, Validate(*c))
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("not a contract")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedType, errs[0].Code)
}

func TestValidateNoEvents(t *testing.T) {
	c := &record.Contract{Name: "empty", MaxEventsPerRun: 10, MaxRepeats: 5}
	errs := Validate(c)

	got := codes(errs)
	assert.True(t, got[ErrContractNoEvents])
	assert.True(t, got[ErrGoldenPathEmpty])
}

func TestValidateDuplicateEvent(t *testing.T) {
	c := validContract()
	c.Events = append(c.Events, record.EventSpec{Name: "agent_started", Initial: true})

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrDuplicateEvent])
}

func TestValidateFieldTypes(t *testing.T) {
	c := validContract()
	c.Events[1].Fields = map[string]string{
		"score":   "float",
		"blob":    "binary",
		"message": "string",
	}

	errs := Validate(c)
	got := codes(errs)
	assert.True(t, got[ErrFloatTypeForbidden], "float must be flagged")
	assert.True(t, got[ErrInvalidFieldType], "binary must be flagged")
}

func TestValidateLifecycleCoverage(t *testing.T) {
	c := validContract()
	for i := range c.Events {
		c.Events[i].Initial = false
		c.Events[i].Terminal = false
	}

	errs := Validate(c)
	got := codes(errs)
	assert.True(t, got[ErrNoInitialEvent])
	assert.True(t, got[ErrNoTerminalEvent])
}

func TestValidatePairingCounterpartUndeclared(t *testing.T) {
	c := validContract()
	c.Events[2].Pairing.Counterpart = "tool_finished" // not declared

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrPairingUndeclared])
}

func TestValidatePairingNotReciprocal(t *testing.T) {
	c := validContract()
	c.Events[3].Pairing = nil // close side no longer points back

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrPairingAsymmetric])
}

func TestValidatePairingSameRole(t *testing.T) {
	c := validContract()
	c.Events[3].Pairing.Role = record.PairingRoleOpen // both sides open

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrPairingAsymmetric])
}

func TestValidatePairingKeyMismatch(t *testing.T) {
	c := validContract()
	c.Events[3].Pairing.Key = "call_id" // open side uses tool_call_id

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrPairingAsymmetric])
}

func TestValidatePairingMalformed(t *testing.T) {
	c := validContract()
	c.Events[2].Pairing = &record.PairingSpec{Role: "begin", Counterpart: "tool_executing", Key: ""}

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrInvalidPairing])
}

func TestValidateTransitionUnknownEvent(t *testing.T) {
	c := validContract()
	c.Transitions = append(c.Transitions, record.Transition{From: "agent_thinking", To: "agent_paused"})

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrUnknownTransitionEvent])
}

func TestValidateDuplicateTransition(t *testing.T) {
	c := validContract()
	c.Transitions = append(c.Transitions, record.Transition{From: "agent_started", To: "agent_thinking"})

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrDuplicateTransition])
}

func TestValidateTransitionFromTerminal(t *testing.T) {
	c := validContract()
	c.Transitions = append(c.Transitions, record.Transition{From: "agent_completed", To: "agent_thinking"})

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrTransitionFromTerminal])
}

func TestValidateGoldenPathRequired(t *testing.T) {
	c := validContract()
	c.GoldenPath = nil

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrGoldenPathEmpty])
}

func TestValidateGoldenPathUnknownStep(t *testing.T) {
	c := validContract()
	c.GoldenPath = []string{"agent_started", "agent_pondering", "agent_completed"}

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrGoldenPathUnknown])
}

func TestValidateGoldenPathIllegalEdge(t *testing.T) {
	c := validContract()
	// agent_started -> agent_completed is not a declared transition
	c.GoldenPath = []string{"agent_started", "agent_completed"}

	errs := Validate(c)
	assert.True(t, codes(errs)[ErrGoldenPathEdge])
}

func TestValidateGoldenPathEndpoints(t *testing.T) {
	c := validContract()
	// Starts mid-run and ends mid-run
	c.GoldenPath = []string{"agent_thinking", "tool_executing", "tool_completed"}

	errs := Validate(c)
	endpointErrs := 0
	for _, e := range errs {
		if e.Code == ErrGoldenPathEndpoints {
			endpointErrs++
		}
	}
	assert.Equal(t, 2, endpointErrs, "both the non-initial start and non-terminal end must be flagged")
}

func TestValidateQuotas(t *testing.T) {
	c := validContract()
	c.MaxEventsPerRun = 0
	c.MaxRepeats = 1

	errs := Validate(c)
	quotaErrs := 0
	for _, e := range errs {
		if e.Code == ErrInvalidQuota {
			quotaErrs++
		}
	}
	assert.Equal(t, 2, quotaErrs)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	// A contract broken in several independent ways reports every problem,
	// not just the first.
	c := &record.Contract{
		Name: "broken",
		Events: []record.EventSpec{
			{Name: "a", Fields: map[string]string{"x": "float"}},
			{Name: "a"},
		},
		Transitions:     []record.Transition{{From: "a", To: "zz"}},
		GoldenPath:      nil,
		MaxEventsPerRun: 0,
		MaxRepeats:      10,
	}

	errs := Validate(c)
	got := codes(errs)
	assert.True(t, got[ErrDuplicateEvent])
	assert.True(t, got[ErrFloatTypeForbidden])
	assert.True(t, got[ErrNoInitialEvent])
	assert.True(t, got[ErrNoTerminalEvent])
	assert.True(t, got[ErrUnknownTransitionEvent])
	assert.True(t, got[ErrGoldenPathEmpty])
	assert.True(t, got[ErrInvalidQuota])
}

func TestValidationErrorFormatting(t *testing.T) {
	e := ValidationError{Field: "golden_path", Message: "is required", Code: ErrGoldenPathEmpty}
	assert.Equal(t, "[E113] golden_path: is required", e.Error())

	e.Line = 12
	assert.Equal(t, "[E113] line 12: golden_path: is required", e.Error())
}
