package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/goldenpath/internal/compiler"
	"github.com/roach88/goldenpath/internal/engine"
	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory database and a zeroed logical clock,
// so the trace is a pure function of the scenario and contract. Events go
// through the engine's synchronous Process path; a step's expect clause sees
// exactly the detections that step provoked.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	contract, err := loadContracts(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if _, err := st.WriteContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("write contract: %w", err)
	}

	eng, err := engine.New(st, contract,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, err
	}

	runToken := scenario.RunToken
	if runToken == "" {
		runToken = DefaultRunToken
	}
	result := NewResult(runToken)

	for i, step := range scenario.Setup {
		if err := executeStep(ctx, eng, runToken, step, result, fmt.Sprintf("setup[%d]", i)); err != nil {
			return nil, err
		}
	}
	for i, step := range scenario.Flow {
		if err := executeStep(ctx, eng, runToken, step, result, fmt.Sprintf("flow[%d]", i)); err != nil {
			return nil, err
		}
	}

	run, err := st.GetRun(ctx, runToken)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No persisted events. Status stays empty.
	case err != nil:
		return nil, fmt.Errorf("read run: %w", err)
	default:
		result.Status = run.Status
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, RunToken: runToken}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// loadContracts compiles and validates every contract the scenario names.
// The first one drives validation.
func loadContracts(scenario *Scenario) (*record.Contract, error) {
	var active *record.Contract
	for _, path := range scenario.Contracts {
		c, err := compiler.LoadContract(path)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		if errs := compiler.Validate(c); len(errs) > 0 {
			return nil, fmt.Errorf("validate %s: %s", path, errs[0].Error())
		}
		if active == nil {
			active = c
		}
	}
	return active, nil
}

// executeStep seals and processes one emit step, then checks its expect
// clause. Over-quota drops are not execution errors; the scenario may be
// provoking the runaway detector on purpose.
func executeStep(ctx context.Context, eng *engine.Engine, runToken string, step EmitStep, result *Result, label string) error {
	payload, err := record.ObjectFromAnyMap(step.Payload)
	if err != nil {
		return fmt.Errorf("%s: payload: %w", label, err)
	}

	ev, err := eng.Seal(engine.Envelope{
		RunToken: runToken,
		Type:     step.Emit,
		Payload:  payload,
		Origin:   record.OriginInjected,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	res, err := eng.Process(ctx, ev)
	if err != nil && !engine.IsRunLimitError(err) {
		return fmt.Errorf("%s: %w", label, err)
	}

	if !res.Dropped && !res.Duplicate {
		result.addTrace(res.Event)
	}
	before := len(result.Detections)
	result.addDetections(res.Detections)
	produced := len(result.Detections) - before

	if step.Expect != nil && produced != step.Expect.Detections {
		result.AddError(fmt.Sprintf("%s: emit %s: expected %d detections, got %d",
			label, step.Emit, step.Expect.Detections, produced))
	}
	return nil
}
