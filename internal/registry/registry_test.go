package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/pipeline"
	"github.com/martin/scope-generator/internal/types"
)

type fakeStore struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*db.Run
	transitions map[uuid.UUID][]string
	createErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:        make(map[uuid.UUID]*db.Run),
		transitions: make(map[uuid.UUID][]string),
	}
}

func (s *fakeStore) CreateRun(_ context.Context, run *db.Run) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	s.transitions[run.ID] = append(s.transitions[run.ID], db.RunStatusPending)
	return nil
}

func (s *fakeStore) MarkRunStarted(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.runs[runID].Status = db.RunStatusRunning
	s.runs[runID].StartedAt = &now
	s.transitions[runID] = append(s.transitions[runID], db.RunStatusRunning)
	return nil
}

func (s *fakeStore) MarkRunSucceeded(_ context.Context, runID uuid.UUID, resultPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.runs[runID].Status = db.RunStatusSuccess
	s.runs[runID].ResultPath = &resultPath
	s.runs[runID].FinishedAt = &now
	s.transitions[runID] = append(s.transitions[runID], db.RunStatusSuccess)
	return nil
}

func (s *fakeStore) MarkRunFailed(_ context.Context, runID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.runs[runID].Status = db.RunStatusFailed
	s.runs[runID].ErrorMessage = &message
	s.runs[runID].FinishedAt = &now
	s.transitions[runID] = append(s.transitions[runID], db.RunStatusFailed)
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, runID uuid.UUID) (*db.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (s *fakeStore) ListRuns(_ context.Context, projectID *uuid.UUID, _ int) ([]db.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Run
	for _, run := range s.runs {
		if projectID != nil && run.ProjectID != *projectID {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (s *fakeStore) StartRunStep(_ context.Context, _ uuid.UUID, _ string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (s *fakeStore) CloseRunStep(_ context.Context, _ uuid.UUID, _, _ string) error {
	return nil
}

func (s *fakeStore) transitionsFor(runID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transitions[runID]...)
}

type fakeSync struct {
	fatal    []error
	warnings []string
	calls    int
	mu       sync.Mutex
}

func (f *fakeSync) Sync(_ context.Context, _ uuid.UUID, _ string, _ []uuid.UUID) ([]error, []string) {
	f.mu.Lock()
	f.calls += 1
	f.mu.Unlock()
	return f.fatal, f.warnings
}

type stubExec struct {
	mu         sync.Mutex
	execCalls  int
	regenCalls int
	resultPath string
	err        error
}

func (e *stubExec) Execute(_ context.Context, _ pipeline.Request) (string, error) {
	e.mu.Lock()
	e.execCalls += 1
	e.mu.Unlock()
	return e.resultPath, e.err
}

func (e *stubExec) ExecuteRegen(_ context.Context, _ pipeline.Request) (string, error) {
	e.mu.Lock()
	e.regenCalls += 1
	e.mu.Unlock()
	return e.resultPath, e.err
}

func newTestRegistry(t *testing.T, store *fakeStore, syncer *fakeSync, exec *stubExec) *Registry {
	t.Helper()
	r := New(Deps{
		Store: store,
		Sync:  syncer,
		Exec:  exec,
		Log:   logger.NewNop(),
	}, Options{Workers: 2, WorkRoot: t.TempDir()})
	t.Cleanup(r.Close)
	return r
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitRunsToSuccess(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "runs/x/scope.md"}
	syncer := &fakeSync{}
	r := newTestRegistry(t, store, syncer, exec)

	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)

	status, err := handle.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSuccess, status.Status)
	assert.Equal(t, "runs/x/scope.md", status.ResultPath)
	assert.Empty(t, status.Error)

	require.NotNil(t, status.StartedAt)
	require.NotNil(t, status.FinishedAt)
	assert.False(t, status.FinishedAt.Before(*status.StartedAt))

	assert.Equal(t, []string{db.RunStatusPending, db.RunStatusRunning, db.RunStatusSuccess},
		store.transitionsFor(handle.RunID))
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 1, exec.execCalls)
	assert.Zero(t, exec.regenCalls)
}

func TestSubmitEchoesFileNotesIntoParameters(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store, &fakeSync{}, &stubExec{resultPath: "runs/z/scope.md"})

	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{
		Mode:      types.ModeFull,
		FileNotes: map[string]string{"brief.txt": "primary requirements brief"},
	})
	require.NoError(t, err)
	_, err = handle.Wait(waitCtx(t))
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), handle.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	notes, ok := run.Parameters["file_notes"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "primary requirements brief", notes["brief.txt"])
}

func TestSubmitRejectsInvalidOptions(t *testing.T) {
	r := newTestRegistry(t, newFakeStore(), &fakeSync{}, &stubExec{})

	_, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: "warp"})
	assert.Error(t, err)

	_, err = r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeOneshot})
	assert.ErrorContains(t, err, "parent run")

	_, err = r.Submit(context.Background(), uuid.New(), SubmitOptions{
		Mode:           types.ModeFull,
		VariablesDelta: "change it",
	})
	assert.ErrorContains(t, err, "parent run")
}

func TestSyncFatalErrorFailsRunBeforePipeline(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "unused"}
	syncer := &fakeSync{fatal: []error{errors.New("backend unreachable")}}
	r := newTestRegistry(t, store, syncer, exec)

	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)

	status, err := handle.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, status.Status)
	assert.Contains(t, status.Error, "backend unreachable")
	assert.Zero(t, exec.execCalls)
}

func TestSyncWarningsDoNotFailRun(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "runs/y/scope.md"}
	syncer := &fakeSync{warnings: []string{"missing object for notes.txt"}}
	r := newTestRegistry(t, store, syncer, exec)

	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)

	status, err := handle.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSuccess, status.Status)
}

func TestPipelineErrorRecordedVerbatim(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{err: errors.New("variable extraction failed: quota exceeded")}
	r := newTestRegistry(t, store, &fakeSync{}, exec)

	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)

	status, err := handle.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, status.Status)
	assert.Equal(t, "variable extraction failed: quota exceeded", status.Error)
}

func TestRegenRunSkipsSync(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "runs/z/scope.md"}
	syncer := &fakeSync{}
	r := newTestRegistry(t, store, syncer, exec)

	parent := uuid.New()
	handle, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{
		Mode:           types.ModeOneshot,
		ParentRunID:    &parent,
		VariablesDelta: "tighten the timeline",
	})
	require.NoError(t, err)

	status, err := handle.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSuccess, status.Status)
	assert.Zero(t, syncer.calls)
	assert.Equal(t, 1, exec.regenCalls)
	assert.Zero(t, exec.execCalls)
}

func TestGetFallsBackToDurableStore(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store, &fakeSync{}, &stubExec{})

	// A run from an earlier process exists only durably.
	old := &db.Run{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Mode:      string(types.ModeFull),
		Status:    db.RunStatusSuccess,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(context.Background(), old))

	status, ok := r.Get(old.ID)
	require.True(t, ok)
	assert.Equal(t, db.RunStatusSuccess, status.Status)

	_, ok = r.Get(uuid.New())
	assert.False(t, ok)
}

func TestListFiltersByProject(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "p"}
	r := newTestRegistry(t, store, &fakeSync{}, exec)

	projectA := uuid.New()
	projectB := uuid.New()

	hA, err := r.Submit(context.Background(), projectA, SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)
	hB, err := r.Submit(context.Background(), projectB, SubmitOptions{Mode: types.ModeFull})
	require.NoError(t, err)

	_, err = hA.Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = hB.Wait(waitCtx(t))
	require.NoError(t, err)

	all := r.List(nil)
	assert.Len(t, all, 2)

	onlyA := r.List(&projectA)
	require.Len(t, onlyA, 1)
	assert.Equal(t, projectA, onlyA[0].ProjectID)
}

func TestConcurrentSubmissions(t *testing.T) {
	store := newFakeStore()
	exec := &stubExec{resultPath: "p"}
	r := newTestRegistry(t, store, &fakeSync{}, exec)

	const n = 10
	handles := make([]*JobHandle, n)
	for i := 0; i < n; i++ {
		h, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
		require.NoError(t, err)
		handles[i] = h
	}

	for _, h := range handles {
		status, err := h.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, db.RunStatusSuccess, status.Status)
		assert.Equal(t, []string{db.RunStatusPending, db.RunStatusRunning, db.RunStatusSuccess},
			store.transitionsFor(h.RunID))
	}
}

func TestSubmitSurfacesCreateError(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	r := newTestRegistry(t, store, &fakeSync{}, &stubExec{})

	_, err := r.Submit(context.Background(), uuid.New(), SubmitOptions{Mode: types.ModeFull})
	assert.ErrorContains(t, err, "db down")
}
