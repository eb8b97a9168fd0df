// Package registry owns the run lifecycle: submission, the in-memory job
// table, the bounded worker pool and the durable run bookkeeping. The
// pipeline does the actual generation work; the registry decides when a run
// starts, what marks it failed and what the caller can observe.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/pipeline"
	"github.com/martin/scope-generator/internal/types"
)

// DefaultWorkers is the worker pool size when Options leaves it zero. The
// workload is I/O-bound and externally rate-limited, so the pool stays small.
const DefaultWorkers = 2

// DefaultQueueSize bounds how many submitted runs can wait for a worker.
const DefaultQueueSize = 64

// ErrQueueFull is returned when submission outpaces the worker pool.
var ErrQueueFull = errors.New("registry: worker queue is full")

// Store is the slice of the database layer the registry needs.
type Store interface {
	pipeline.StepStore
	CreateRun(ctx context.Context, run *db.Run) error
	MarkRunStarted(ctx context.Context, runID uuid.UUID) error
	MarkRunSucceeded(ctx context.Context, runID uuid.UUID, resultPath string) error
	MarkRunFailed(ctx context.Context, runID uuid.UUID, errorMessage string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, projectID *uuid.UUID, limit int) ([]db.Run, error)
}

// Synchronizer materializes a run's input files into its scratch directory.
type Synchronizer interface {
	Sync(ctx context.Context, projectID uuid.UUID, dir string, includedFileIDs []uuid.UUID) (fatal []error, warnings []string)
}

// Executor runs the generation flows. *pipeline.Pipeline satisfies it.
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request) (string, error)
	ExecuteRegen(ctx context.Context, req pipeline.Request) (string, error)
}

// Deps are the registry's injected collaborators.
type Deps struct {
	Store Store
	Sync  Synchronizer
	Exec  Executor
	Log   *logger.Logger
}

// Options tunes the registry.
type Options struct {
	Workers   int
	QueueSize int
	// WorkRoot is the parent of per-run scratch directories.
	WorkRoot string
}

// SubmitOptions describes one requested run.
type SubmitOptions struct {
	Mode             types.RunMode      `validate:"required,oneof=full fast oneshot"`
	ResearchMode     types.ResearchMode `validate:"omitempty,oneof=none quick full"`
	Instructions     string
	ProjectType      string
	IntegrationNotes []string
	// FileNotes carries caller-supplied context per input file, keyed by
	// filename. The pipeline copies them into the context pack.
	FileNotes       map[string]string
	IncludedFileIDs []uuid.UUID
	ParentRunID      *uuid.UUID
	VariablesDelta   string
	OnStep           pipeline.StepCallback
}

// JobStatus is a point-in-time snapshot of one run.
type JobStatus struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Mode         string     `json:"mode"`
	ResearchMode string     `json:"research_mode"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	ResultPath   string     `json:"result_path,omitempty"`
	ParentRunID  *uuid.UUID `json:"parent_run_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (s *JobStatus) Terminal() bool {
	return s.Status == db.RunStatusSuccess || s.Status == db.RunStatusFailed
}

// JobHandle lets the submitter observe one run.
type JobHandle struct {
	RunID    uuid.UUID
	registry *Registry
	done     chan struct{}
}

// Wait blocks until the run reaches a terminal status or ctx is done.
func (h *JobHandle) Wait(ctx context.Context) (*JobStatus, error) {
	select {
	case <-h.done:
		status, _ := h.registry.Get(h.RunID)
		return status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type queuedJob struct {
	run    *db.Run
	opts   SubmitOptions
	handle *JobHandle
}

// Registry schedules runs on a bounded worker pool and tracks their status
// both in memory and durably.
type Registry struct {
	store    Store
	sync     Synchronizer
	exec     Executor
	log      *logger.Logger
	workRoot string
	validate *validator.Validate
	now      func() time.Time

	mu   sync.Mutex
	jobs map[uuid.UUID]*JobStatus

	queue chan queuedJob
	wg    sync.WaitGroup
}

// New builds a registry and starts its workers.
func New(deps Deps, opts Options) *Registry {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	workRoot := opts.WorkRoot
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "scope-runs")
	}

	r := &Registry{
		store:    deps.Store,
		sync:     deps.Sync,
		exec:     deps.Exec,
		log:      deps.Log,
		workRoot: workRoot,
		validate: validator.New(),
		now:      time.Now,
		jobs:     make(map[uuid.UUID]*JobStatus),
		queue:    make(chan queuedJob, queueSize),
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Close stops accepting work and waits for in-flight runs to finish.
func (r *Registry) Close() {
	close(r.queue)
	r.wg.Wait()
}

// Submit validates the request, inserts the durable Run row as pending,
// registers the in-memory job and enqueues it. It returns as soon as the row
// is durable; execution happens on a worker.
func (r *Registry) Submit(ctx context.Context, projectID uuid.UUID, opts SubmitOptions) (*JobHandle, error) {
	if err := r.validateOptions(opts); err != nil {
		return nil, err
	}

	run := &db.Run{
		ID:              uuid.New(),
		ProjectID:       projectID,
		Mode:            string(opts.Mode),
		ResearchMode:    string(researchModeOrDefault(opts.ResearchMode)),
		Status:          db.RunStatusPending,
		Parameters:      buildParameters(opts),
		ParentRunID:     opts.ParentRunID,
		IncludedFileIDs: opts.IncludedFileIDs,
		Instructions:    opts.Instructions,
		CreatedAt:       r.now(),
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run row: %w", err)
	}

	handle := &JobHandle{RunID: run.ID, registry: r, done: make(chan struct{})}

	r.mu.Lock()
	r.jobs[run.ID] = statusFromRun(run)
	r.mu.Unlock()

	select {
	case r.queue <- queuedJob{run: run, opts: opts, handle: handle}:
	default:
		r.failRun(run.ID, ErrQueueFull.Error())
		close(handle.done)
		return nil, ErrQueueFull
	}

	return handle, nil
}

func (r *Registry) validateOptions(opts SubmitOptions) error {
	if err := r.validate.Struct(opts); err != nil {
		return fmt.Errorf("invalid submit options: %w", err)
	}
	if opts.Mode == types.ModeOneshot && opts.ParentRunID == nil {
		return errors.New("oneshot mode requires a parent run")
	}
	if opts.VariablesDelta != "" && opts.ParentRunID == nil {
		return errors.New("a variables delta requires a parent run")
	}
	return nil
}

func researchModeOrDefault(m types.ResearchMode) types.ResearchMode {
	if m == "" {
		return types.ResearchNone
	}
	return m
}

// buildParameters echoes the submitted options into the run's parameter bag.
func buildParameters(opts SubmitOptions) map[string]interface{} {
	params := map[string]interface{}{}
	if opts.ProjectType != "" {
		params["project_type"] = opts.ProjectType
	}
	if len(opts.IntegrationNotes) > 0 {
		notes := make([]interface{}, len(opts.IntegrationNotes))
		for i, n := range opts.IntegrationNotes {
			notes[i] = n
		}
		params["integration_notes"] = notes
	}
	if len(opts.FileNotes) > 0 {
		notes := make(map[string]interface{}, len(opts.FileNotes))
		for filename, note := range opts.FileNotes {
			notes[filename] = note
		}
		params["file_notes"] = notes
	}
	if opts.VariablesDelta != "" {
		params["variables_delta"] = opts.VariablesDelta
	}
	return params
}

// Get returns the job's status, preferring the in-memory table and falling
// back to the durable row for jobs from earlier processes.
func (r *Registry) Get(jobID uuid.UUID) (*JobStatus, bool) {
	r.mu.Lock()
	if status, ok := r.jobs[jobID]; ok {
		snapshot := *status
		r.mu.Unlock()
		return &snapshot, true
	}
	r.mu.Unlock()

	run, err := r.store.GetRun(context.Background(), jobID)
	if err != nil || run == nil {
		return nil, false
	}
	return statusFromRun(run), true
}

// List merges live in-memory jobs with durable rows, preferring the
// in-memory view where both exist.
func (r *Registry) List(projectID *uuid.UUID) []JobStatus {
	seen := make(map[uuid.UUID]bool)
	var out []JobStatus

	r.mu.Lock()
	for _, status := range r.jobs {
		if projectID != nil && status.ProjectID != *projectID {
			continue
		}
		out = append(out, *status)
		seen[status.ID] = true
	}
	r.mu.Unlock()

	runs, err := r.store.ListRuns(context.Background(), projectID, 0)
	if err != nil {
		r.log.Warn("failed to list durable runs", "error", err)
		return out
	}
	for i := range runs {
		if !seen[runs[i].ID] {
			out = append(out, *statusFromRun(&runs[i]))
		}
	}
	return out
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		r.runJob(job)
	}
}

// runJob executes one run to completion on the calling worker.
func (r *Registry) runJob(job queuedJob) {
	ctx := context.Background()
	run := job.run
	defer close(job.handle.done)

	r.markStarted(ctx, run.ID)

	workDir := filepath.Join(r.workRoot, run.ID.String())
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			r.log.Warn("failed to remove scratch dir", "run_id", run.ID, "error", err)
		}
	}()

	steps := pipeline.NewStepRecorder(r.store, run.ID, job.opts.OnStep, r.log)

	// Regeneration reads only the parent's artifacts, so it skips the
	// workspace sync entirely.
	req := pipeline.Request{Run: run, WorkDir: workDir, OnStep: job.opts.OnStep}

	var resultPath string
	var err error
	if run.ParentRunID != nil {
		resultPath, err = r.exec.ExecuteRegen(ctx, req)
	} else {
		err = steps.Run(ctx, db.StepSyncInputs, func(ctx context.Context) error {
			fatal, warnings := r.sync.Sync(ctx, run.ProjectID, workDir, run.IncludedFileIDs)
			for _, w := range warnings {
				r.log.Warn("workspace sync warning", "run_id", run.ID, "warning", w)
			}
			if len(fatal) > 0 {
				return errors.Join(fatal...)
			}
			return nil
		})
		if err == nil {
			resultPath, err = r.exec.Execute(ctx, req)
		}
	}

	if err != nil {
		r.log.Error("run failed", "run_id", run.ID, "error", err)
		r.failRun(run.ID, err.Error())
		return
	}

	r.succeedRun(run.ID, resultPath)
	r.log.Info("run succeeded", "run_id", run.ID, "result_path", resultPath)
}

// markStarted flips the job to running. The in-memory transition happens
// first; the durable write follows outside the lock.
func (r *Registry) markStarted(ctx context.Context, runID uuid.UUID) {
	started := r.now()
	r.mu.Lock()
	if status, ok := r.jobs[runID]; ok {
		status.Status = db.RunStatusRunning
		status.StartedAt = &started
	}
	r.mu.Unlock()

	if err := r.store.MarkRunStarted(ctx, runID); err != nil {
		r.log.Error("failed to mark run started", "run_id", runID, "error", err)
	}
}

func (r *Registry) succeedRun(runID uuid.UUID, resultPath string) {
	finished := r.now()
	r.mu.Lock()
	if status, ok := r.jobs[runID]; ok {
		status.Status = db.RunStatusSuccess
		status.ResultPath = resultPath
		status.FinishedAt = &finished
	}
	r.mu.Unlock()

	if err := r.store.MarkRunSucceeded(context.Background(), runID, resultPath); err != nil {
		r.log.Error("failed to mark run succeeded", "run_id", runID, "error", err)
	}
}

func (r *Registry) failRun(runID uuid.UUID, message string) {
	finished := r.now()
	r.mu.Lock()
	if status, ok := r.jobs[runID]; ok {
		status.Status = db.RunStatusFailed
		status.Error = message
		status.FinishedAt = &finished
	}
	r.mu.Unlock()

	if err := r.store.MarkRunFailed(context.Background(), runID, message); err != nil {
		r.log.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}

func statusFromRun(run *db.Run) *JobStatus {
	status := &JobStatus{
		ID:           run.ID,
		ProjectID:    run.ProjectID,
		Mode:         run.Mode,
		ResearchMode: run.ResearchMode,
		Status:       run.Status,
		ParentRunID:  run.ParentRunID,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if run.ErrorMessage != nil {
		status.Error = *run.ErrorMessage
	}
	if run.ResultPath != nil {
		status.ResultPath = *run.ResultPath
	}
	return status
}
