package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/logger"
)

// StepEvent is a progress update for one pipeline step.
type StepEvent struct {
	RunID  uuid.UUID `json:"run_id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
}

// StepCallback is called as steps start and finish.
type StepCallback func(event StepEvent)

// StepStore persists step rows for a run.
type StepStore interface {
	StartRunStep(ctx context.Context, runID uuid.UUID, name string) (uuid.UUID, error)
	CloseRunStep(ctx context.Context, stepID uuid.UUID, status string, detail string) error
}

// StepRecorder opens a run_steps row around each step and mirrors the
// transitions to an optional progress callback.
type StepRecorder struct {
	store  StepStore
	runID  uuid.UUID
	onStep StepCallback
	log    *logger.Logger
}

func NewStepRecorder(store StepStore, runID uuid.UUID, onStep StepCallback, log *logger.Logger) *StepRecorder {
	return &StepRecorder{store: store, runID: runID, onStep: onStep, log: log}
}

// Run executes fn inside an open step row. The row closes as success or
// failed with the error message as detail, and fn's error is returned
// unchanged so the caller decides whether the run dies.
func (r *StepRecorder) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepID, err := r.store.StartRunStep(ctx, r.runID, name)
	if err != nil {
		return err
	}
	r.emit(name, db.StepStatusRunning, "")

	if err := fn(ctx); err != nil {
		if closeErr := r.store.CloseRunStep(ctx, stepID, db.StepStatusFailed, err.Error()); closeErr != nil {
			r.log.Error("failed to close step row", "run_id", r.runID, "step", name, "error", closeErr)
		}
		r.emit(name, db.StepStatusFailed, err.Error())
		return err
	}

	if err := r.store.CloseRunStep(ctx, stepID, db.StepStatusSuccess, ""); err != nil {
		r.log.Error("failed to close step row", "run_id", r.runID, "step", name, "error", err)
	}
	r.emit(name, db.StepStatusSuccess, "")
	return nil
}

// RunBestEffort executes fn like Run but treats fn's error as a degradation,
// not a failure: the step row closes as success with the error text recorded
// as detail, and no error is returned to the caller. A failed step always
// fails its run, so stages that may be skipped without losing the run must
// never close their row as failed. Step bookkeeping errors still propagate.
func (r *StepRecorder) RunBestEffort(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepID, err := r.store.StartRunStep(ctx, r.runID, name)
	if err != nil {
		return err
	}
	r.emit(name, db.StepStatusRunning, "")

	detail := ""
	if err := fn(ctx); err != nil {
		detail = "degraded: " + err.Error()
	}
	if err := r.store.CloseRunStep(ctx, stepID, db.StepStatusSuccess, detail); err != nil {
		r.log.Error("failed to close step row", "run_id", r.runID, "step", name, "error", err)
	}
	r.emit(name, db.StepStatusSuccess, detail)
	return nil
}

func (r *StepRecorder) emit(name, status, detail string) {
	if r.onStep != nil {
		r.onStep(StepEvent{RunID: r.runID, Name: name, Status: status, Detail: detail})
	}
}
