package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/llm"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/render"
	"github.com/martin/scope-generator/internal/research"
	"github.com/martin/scope-generator/internal/storage"
	"github.com/martin/scope-generator/internal/types"
)

const extractedJSON = `{
	"title": "CRM Migration",
	"summary": "Migrate the legacy CRM.",
	"objectives": ["Migrate accounts"],
	"deliverables": ["Migrated data"],
	"effort_hours": 320,
	"timeline_weeks": 10,
	"cost_estimate": 48500
}`

type fakeStore struct {
	mu            sync.Mutex
	steps         []db.RunStep
	artifacts     []db.Artifact
	versions      []db.RunVersion
	varsArtifact  map[uuid.UUID]uuid.UUID
	latestProject map[string]*db.Artifact
	latestByRun   map[string]*db.Artifact
	nextVersion   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		varsArtifact:  make(map[uuid.UUID]uuid.UUID),
		latestProject: make(map[string]*db.Artifact),
		latestByRun:   make(map[string]*db.Artifact),
		nextVersion:   2,
	}
}

func (s *fakeStore) StartRunStep(_ context.Context, runID uuid.UUID, name string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.steps = append(s.steps, db.RunStep{ID: id, RunID: runID, Name: name, Status: db.StepStatusRunning})
	return id, nil
}

func (s *fakeStore) CloseRunStep(_ context.Context, stepID uuid.UUID, status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.steps {
		if s.steps[i].ID == stepID {
			s.steps[i].Status = status
			if detail != "" {
				d := detail
				s.steps[i].Detail = &d
			}
		}
	}
	return nil
}

func (s *fakeStore) CreateArtifact(_ context.Context, runID uuid.UUID, kind, path string, _ map[string]interface{}) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := db.Artifact{ID: uuid.New(), RunID: runID, Kind: kind, Path: path}
	s.artifacts = append(s.artifacts, a)
	s.latestByRun[runID.String()+"/"+kind] = &a
	return a.ID, nil
}

func (s *fakeStore) LatestArtifact(_ context.Context, runID uuid.UUID, kind string) (*db.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestByRun[runID.String()+"/"+kind], nil
}

func (s *fakeStore) LatestProjectArtifact(_ context.Context, projectID uuid.UUID, kind string) (*db.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestProject[projectID.String()+"/"+kind], nil
}

func (s *fakeStore) SetRunVariablesArtifact(_ context.Context, runID, artifactID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.varsArtifact[runID] = artifactID
	return nil
}

func (s *fakeStore) NextRunVersion(_ context.Context, _ uuid.UUID) (int, error) {
	return s.nextVersion, nil
}

func (s *fakeStore) CreateRunVersion(_ context.Context, v *db.RunVersion) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = uuid.New()
	s.versions = append(s.versions, *v)
	return v.ID, nil
}

func (s *fakeStore) artifactKinds(runID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []string
	for _, a := range s.artifacts {
		if a.RunID == runID {
			kinds = append(kinds, a.Kind)
		}
	}
	return kinds
}

func (s *fakeStore) stepByName(name string) *db.RunStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.steps {
		if s.steps[i].Name == name {
			return &s.steps[i]
		}
	}
	return nil
}

func (s *fakeStore) stepNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.steps))
	for _, st := range s.steps {
		names = append(names, st.Name)
	}
	return names
}

type memBackend struct {
	storage.Backend
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (b *memBackend) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBackend) ReadBytes(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return data, nil
}

type fakeModel struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (m *fakeModel) GenerateJSON(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls += 1
	return m.response, m.err
}

type stubRetriever struct {
	block string
	err   error
}

func (r *stubRetriever) FetchReferenceBlock(_ context.Context, _ *types.ContextPack, _ *uuid.UUID) (string, error) {
	return r.block, r.err
}

type stubResearcher struct{ snippets []research.Snippet }

func (r *stubResearcher) GatherSnippets(_ context.Context, _ *types.ContextPack, _ types.ResearchMode) []research.Snippet {
	return r.snippets
}

func testRun(mode types.RunMode) *db.Run {
	return &db.Run{
		ID:           uuid.New(),
		ProjectID:    uuid.New(),
		Mode:         string(mode),
		ResearchMode: string(types.ResearchNone),
		Status:       db.RunStatusRunning,
		Parameters:   map[string]interface{}{"project_type": "crm migration"},
	}
}

func workDirWithBrief(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.txt"), []byte("Migrate the CRM."), 0644))
	return dir
}

func TestExecuteFullFlow(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	model := &fakeModel{response: "```json\n" + extractedJSON + "\n```"}
	p := New(store, backend, model, &stubRetriever{block: "reference"}, &stubResearcher{}, logger.NewNop())

	run := testRun(types.ModeFull)
	resultPath, err := p.Execute(context.Background(), Request{Run: run, WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("runs/%s/scope.md", run.ID), resultPath)

	kinds := store.artifactKinds(run.ID)
	assert.Contains(t, kinds, db.ArtifactContextPack)
	assert.Contains(t, kinds, db.ArtifactVariables)
	assert.Contains(t, kinds, db.ArtifactRenderedDoc)
	assert.Contains(t, store.varsArtifact, run.ID)

	names := store.stepNames()
	for _, want := range []string{db.StepIngest, db.StepContextPack, db.StepReference, db.StepResearch, db.StepExtract, db.StepRender, db.StepPersist} {
		assert.Contains(t, names, want)
	}

	doc, err := backend.ReadBytes(context.Background(), resultPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "# CRM Migration")
	assert.Equal(t, 1, model.calls)
}

func TestExecuteReferenceFailureDegradesNotFails(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	model := &fakeModel{response: extractedJSON}
	retriever := &stubRetriever{err: errors.New("vector index unavailable")}
	p := New(store, backend, model, retriever, &stubResearcher{}, logger.NewNop())

	run := testRun(types.ModeFull)
	resultPath, err := p.Execute(context.Background(), Request{Run: run, WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)
	assert.NotEmpty(t, resultPath)
	assert.Equal(t, 1, model.calls)

	// A failed step fails its run, so a surviving run may not carry one.
	for _, name := range store.stepNames() {
		step := store.stepByName(name)
		assert.NotEqual(t, db.StepStatusFailed, step.Status, "step %s", name)
	}

	ref := store.stepByName(db.StepReference)
	require.NotNil(t, ref)
	assert.Equal(t, db.StepStatusSuccess, ref.Status)
	require.NotNil(t, ref.Detail)
	assert.Contains(t, *ref.Detail, "degraded")
	assert.Contains(t, *ref.Detail, "vector index unavailable")
}

func TestExecuteContextPackCarriesFileNotes(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	model := &fakeModel{response: extractedJSON}
	p := New(store, backend, model, nil, nil, logger.NewNop())

	run := testRun(types.ModeFull)
	run.Parameters["file_notes"] = map[string]interface{}{
		"brief.txt": "primary requirements brief",
		"other.txt": "never ingested",
	}
	_, err := p.Execute(context.Background(), Request{Run: run, WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)

	packJSON, err := backend.ReadBytes(context.Background(),
		fmt.Sprintf("runs/%s/context_pack.json", run.ID))
	require.NoError(t, err)

	var pack types.ContextPack
	require.NoError(t, json.Unmarshal(packJSON, &pack))
	require.Len(t, pack.Files, 1)
	assert.Equal(t, "brief.txt", pack.Files[0].Filename)
	assert.Equal(t, "primary requirements brief", pack.Files[0].Note)
}

func TestExecuteFastModeReusesCachedPack(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	run := testRun(types.ModeFast)

	cached := &types.ContextPack{ProjectID: run.ProjectID, ProjectType: "cached type"}
	cachedJSON, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, backend.PutBytes(context.Background(), "runs/old/context_pack.json", cachedJSON, "application/json"))
	store.latestProject[run.ProjectID.String()+"/"+db.ArtifactContextPack] = &db.Artifact{
		Kind: db.ArtifactContextPack,
		Path: "runs/old/context_pack.json",
	}

	model := &fakeModel{response: extractedJSON}
	p := New(store, backend, model, nil, nil, logger.NewNop())

	_, err = p.Execute(context.Background(), Request{Run: run, WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)

	// The cached pack was reused, so no fresh context_pack artifact exists.
	assert.NotContains(t, store.artifactKinds(run.ID), db.ArtifactContextPack)
}

func TestExecuteFastModeFallsBackWithoutCache(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	model := &fakeModel{response: extractedJSON}
	p := New(store, backend, model, nil, nil, logger.NewNop())

	run := testRun(types.ModeFast)
	_, err := p.Execute(context.Background(), Request{Run: run, WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)
	assert.Contains(t, store.artifactKinds(run.ID), db.ArtifactContextPack)
}

func TestExecuteExtractionFailurePropagates(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{err: errors.New("model exploded")}
	p := New(store, newMemBackend(), model, nil, nil, logger.NewNop())

	_, err := p.Execute(context.Background(), Request{Run: testRun(types.ModeFull), WorkDir: workDirWithBrief(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestExecuteRejectsInvalidVariables(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{response: `{"title": "x"}`}
	p := New(store, newMemBackend(), model, nil, nil, logger.NewNop())

	_, err := p.Execute(context.Background(), Request{Run: testRun(types.ModeFull), WorkDir: workDirWithBrief(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestExecuteEmitsStepEvents(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{response: extractedJSON}
	p := New(store, newMemBackend(), model, nil, nil, logger.NewNop())

	var mu sync.Mutex
	var events []StepEvent
	run := testRun(types.ModeFull)
	_, err := p.Execute(context.Background(), Request{
		Run:     run,
		WorkDir: workDirWithBrief(t),
		OnStep: func(e StepEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, run.ID, e.RunID)
	}
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls int
	vars  *types.ScopeVariables
}

func (r *recordingIndexer) IndexScopeVariables(_ context.Context, _ uuid.UUID, vars *types.ScopeVariables) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls += 1
	r.vars = vars
	return nil
}

func TestExecuteIndexesSuccessfulRun(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{response: extractedJSON}
	indexer := &recordingIndexer{}
	p := New(store, newMemBackend(), model, nil, nil, logger.NewNop()).WithIndexer(indexer)

	_, err := p.Execute(context.Background(), Request{Run: testRun(types.ModeFull), WorkDir: workDirWithBrief(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, indexer.calls)
	require.NotNil(t, indexer.vars)
	assert.Equal(t, "CRM Migration", indexer.vars.Title)
}

func TestExecuteFailedRunIsNotIndexed(t *testing.T) {
	store := newFakeStore()
	model := &fakeModel{err: errors.New("boom")}
	indexer := &recordingIndexer{}
	p := New(store, newMemBackend(), model, nil, nil, logger.NewNop()).WithIndexer(indexer)

	_, err := p.Execute(context.Background(), Request{Run: testRun(types.ModeFull), WorkDir: workDirWithBrief(t)})
	require.Error(t, err)
	assert.Zero(t, indexer.calls)
}

func regenRun(parent uuid.UUID, delta string) *db.Run {
	run := testRun(types.ModeOneshot)
	run.ParentRunID = &parent
	if delta != "" {
		run.Parameters["variables_delta"] = delta
	}
	return run
}

func seedParentVariables(t *testing.T, store *fakeStore, backend *memBackend, parent uuid.UUID) {
	t.Helper()
	key := fmt.Sprintf("runs/%s/variables.json", parent)
	require.NoError(t, backend.PutBytes(context.Background(), key, []byte(extractedJSON), "application/json"))
	_, err := store.CreateArtifact(context.Background(), parent, db.ArtifactVariables, key, nil)
	require.NoError(t, err)
}

func TestExecuteRegenEmptyDeltaSkipsModel(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	parent := uuid.New()
	seedParentVariables(t, store, backend, parent)

	model := &fakeModel{response: `should never be used`}
	p := New(store, backend, model, nil, nil, logger.NewNop())

	run := regenRun(parent, "")
	resultPath, err := p.ExecuteRegen(context.Background(), Request{Run: run})
	require.NoError(t, err)
	assert.Zero(t, model.calls)

	doc, err := backend.ReadBytes(context.Background(), resultPath)
	require.NoError(t, err)

	var vars types.ScopeVariables
	require.NoError(t, json.Unmarshal([]byte(extractedJSON), &vars))
	expected, err := render.ScopeDocument(&vars)
	require.NoError(t, err)
	assert.Equal(t, expected, string(doc))

	require.Len(t, store.versions, 1)
	assert.Equal(t, parent, store.versions[0].RunID)
	assert.Equal(t, 2, store.versions[0].Version)

	names := store.stepNames()
	assert.Contains(t, names, db.StepLoadVariables)
	assert.NotContains(t, names, db.StepRewrite)
}

func TestExecuteRegenWithDeltaCallsModelOnce(t *testing.T) {
	store := newFakeStore()
	backend := newMemBackend()
	parent := uuid.New()
	seedParentVariables(t, store, backend, parent)

	rewritten := `{
		"title": "CRM Migration Phase 2",
		"summary": "Migrate the legacy CRM.",
		"objectives": ["Migrate accounts"],
		"deliverables": ["Migrated data"],
		"effort_hours": 400,
		"timeline_weeks": 12,
		"cost_estimate": 60000
	}`
	model := &fakeModel{response: rewritten}
	p := New(store, backend, model, nil, nil, logger.NewNop())

	run := regenRun(parent, "Increase effort to 400 hours")
	resultPath, err := p.ExecuteRegen(context.Background(), Request{Run: run})
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)

	doc, err := backend.ReadBytes(context.Background(), resultPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "CRM Migration Phase 2")

	assert.Contains(t, store.stepNames(), db.StepRewrite)
	require.Len(t, store.versions, 1)
	assert.Equal(t, "Increase effort to 400 hours", store.versions[0].ChangeNote)
}

func TestExecuteRegenMissingParentArtifact(t *testing.T) {
	store := newFakeStore()
	p := New(store, newMemBackend(), &fakeModel{}, nil, nil, logger.NewNop())

	parent := uuid.New()
	_, err := p.ExecuteRegen(context.Background(), Request{Run: regenRun(parent, "")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no variables artifact")
}

func TestExecuteRegenWithoutParent(t *testing.T) {
	p := New(newFakeStore(), newMemBackend(), &fakeModel{}, nil, nil, logger.NewNop())
	_, err := p.ExecuteRegen(context.Background(), Request{Run: testRun(types.ModeOneshot)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parent run")
}
