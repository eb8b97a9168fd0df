// Package pipeline turns a run's synced workspace into a rendered scope
// document plus durable artifacts. The registry owns run rows and worker
// scheduling; the pipeline only executes a run that is already running.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/ingestion"
	"github.com/martin/scope-generator/internal/llm"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/prompts"
	"github.com/martin/scope-generator/internal/render"
	"github.com/martin/scope-generator/internal/research"
	"github.com/martin/scope-generator/internal/schemas"
	"github.com/martin/scope-generator/internal/storage"
	"github.com/martin/scope-generator/internal/types"
)

// Store is the slice of the database layer the pipeline needs. The concrete
// *db.DB satisfies it; tests use a fake.
type Store interface {
	StepStore
	CreateArtifact(ctx context.Context, runID uuid.UUID, kind, path string, metadata map[string]interface{}) (uuid.UUID, error)
	LatestArtifact(ctx context.Context, runID uuid.UUID, kind string) (*db.Artifact, error)
	LatestProjectArtifact(ctx context.Context, projectID uuid.UUID, kind string) (*db.Artifact, error)
	SetRunVariablesArtifact(ctx context.Context, runID, artifactID uuid.UUID) error
	NextRunVersion(ctx context.Context, runID uuid.UUID) (int, error)
	CreateRunVersion(ctx context.Context, v *db.RunVersion) (uuid.UUID, error)
}

// Generator is the model surface the pipeline calls. *llm.ResilientClient
// satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// ReferenceFetcher produces the historical-reference prompt block.
type ReferenceFetcher interface {
	FetchReferenceBlock(ctx context.Context, pack *types.ContextPack, projectID *uuid.UUID) (string, error)
}

// SnippetGatherer produces best-effort research snippets.
type SnippetGatherer interface {
	GatherSnippets(ctx context.Context, pack *types.ContextPack, mode types.ResearchMode) []research.Snippet
}

// ScopeIndexer adds a successful run's variables to the similarity corpus.
type ScopeIndexer interface {
	IndexScopeVariables(ctx context.Context, projectID uuid.UUID, vars *types.ScopeVariables) error
}

// Pipeline wires the generation stages together.
type Pipeline struct {
	store      Store
	backend    storage.Backend
	model      Generator
	retriever  ReferenceFetcher
	researcher SnippetGatherer
	indexer    ScopeIndexer
	log        *logger.Logger
	now        func() time.Time
}

// New builds a pipeline. retriever and researcher may be nil; the matching
// stages are skipped.
func New(store Store, backend storage.Backend, model Generator, retriever ReferenceFetcher, researcher SnippetGatherer, log *logger.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		backend:    backend,
		model:      model,
		retriever:  retriever,
		researcher: researcher,
		log:        log,
		now:        time.Now,
	}
}

// WithIndexer enables embedding successful runs into the similarity corpus.
func (p *Pipeline) WithIndexer(indexer ScopeIndexer) *Pipeline {
	p.indexer = indexer
	return p
}

// Request describes one run the pipeline should execute.
type Request struct {
	Run     *db.Run
	WorkDir string
	OnStep  StepCallback
}

func artifactKey(runID uuid.UUID, name string) string {
	return fmt.Sprintf("runs/%s/%s", runID, name)
}

// Execute runs the full or fast generation flow and returns the storage key
// of the rendered document.
func (p *Pipeline) Execute(ctx context.Context, req Request) (string, error) {
	run := req.Run
	steps := NewStepRecorder(p.store, run.ID, req.OnStep, p.log)

	var docs []ingestion.Document
	if err := steps.Run(ctx, db.StepIngest, func(ctx context.Context) error {
		var err error
		docs, err = ingestion.IngestDirectory(req.WorkDir)
		return err
	}); err != nil {
		return "", err
	}

	var pack *types.ContextPack
	if err := steps.Run(ctx, db.StepContextPack, func(ctx context.Context) error {
		var err error
		pack, err = p.contextPack(ctx, run, docs)
		return err
	}); err != nil {
		return "", err
	}

	// Reference and research both read the pack and are independent, so
	// they run concurrently. Both are best-effort: their errors degrade the
	// step detail instead of failing it, so the run keeps going.
	var referenceBlock, researchBlock string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return steps.RunBestEffort(gctx, db.StepReference, func(ctx context.Context) error {
			if p.retriever == nil {
				return nil
			}
			block, err := p.retriever.FetchReferenceBlock(ctx, pack, nil)
			if err != nil {
				p.log.Warn("reference lookup failed, continuing without it", "run_id", run.ID, "error", err)
				return err
			}
			referenceBlock = block
			return nil
		})
	})
	g.Go(func() error {
		return steps.RunBestEffort(gctx, db.StepResearch, func(ctx context.Context) error {
			if p.researcher == nil {
				return nil
			}
			snippets := p.researcher.GatherSnippets(ctx, pack, types.ResearchMode(run.ResearchMode))
			researchBlock = research.FormatSnippetBlock(snippets)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	var vars *types.ScopeVariables
	if err := steps.Run(ctx, db.StepExtract, func(ctx context.Context) error {
		var err error
		vars, err = p.extractVariables(ctx, run, pack, docs, referenceBlock, researchBlock)
		return err
	}); err != nil {
		return "", err
	}

	var doc string
	if err := steps.Run(ctx, db.StepRender, func(ctx context.Context) error {
		var err error
		doc, err = render.ScopeDocument(vars)
		return err
	}); err != nil {
		return "", err
	}

	var resultPath string
	if err := steps.Run(ctx, db.StepPersist, func(ctx context.Context) error {
		var err error
		resultPath, err = p.persistDocument(ctx, run.ID, doc)
		return err
	}); err != nil {
		return "", err
	}

	// Indexing feeds future reference lookups; a failure here never fails
	// a run that already produced its document.
	if p.indexer != nil {
		if err := p.indexer.IndexScopeVariables(ctx, run.ProjectID, vars); err != nil {
			p.log.Warn("failed to index scope variables", "run_id", run.ID, "error", err)
		}
	}

	return resultPath, nil
}

// contextPack returns the run's context pack. Fast mode reuses the project's
// latest cached pack and falls back to a fresh build when none exists.
func (p *Pipeline) contextPack(ctx context.Context, run *db.Run, docs []ingestion.Document) (*types.ContextPack, error) {
	if run.Mode == string(types.ModeFast) {
		if pack, ok := p.cachedContextPack(ctx, run.ProjectID); ok {
			p.log.Info("reusing cached context pack", "run_id", run.ID, "project_id", run.ProjectID)
			return pack, nil
		}
		p.log.Info("no cached context pack, building fresh", "run_id", run.ID)
	}

	pack := buildContextPack(run, docs, p.now())

	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context pack: %w", err)
	}
	key := artifactKey(run.ID, "context_pack.json")
	if err := p.backend.PutBytes(ctx, key, data, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store context pack: %w", err)
	}
	if _, err := p.store.CreateArtifact(ctx, run.ID, db.ArtifactContextPack, key, nil); err != nil {
		return nil, fmt.Errorf("failed to record context pack artifact: %w", err)
	}

	return pack, nil
}

func (p *Pipeline) cachedContextPack(ctx context.Context, projectID uuid.UUID) (*types.ContextPack, bool) {
	artifact, err := p.store.LatestProjectArtifact(ctx, projectID, db.ArtifactContextPack)
	if err != nil || artifact == nil {
		return nil, false
	}
	data, err := p.backend.ReadBytes(ctx, artifact.Path)
	if err != nil {
		p.log.Warn("cached context pack unreadable, rebuilding", "project_id", projectID, "error", err)
		return nil, false
	}
	var pack types.ContextPack
	if err := json.Unmarshal(data, &pack); err != nil {
		p.log.Warn("cached context pack corrupt, rebuilding", "project_id", projectID, "error", err)
		return nil, false
	}
	return &pack, true
}

// buildContextPack assembles document metadata and caller-supplied notes.
// No model call happens here.
func buildContextPack(run *db.Run, docs []ingestion.Document, builtAt time.Time) *types.ContextPack {
	pack := &types.ContextPack{
		ProjectID: run.ProjectID,
		BuiltAt:   builtAt,
	}
	if v, ok := run.Parameters["project_type"].(string); ok {
		pack.ProjectType = v
	}
	if notes, ok := run.Parameters["integration_notes"].([]interface{}); ok {
		for _, n := range notes {
			if s, ok := n.(string); ok {
				pack.IntegrationNotes = append(pack.IntegrationNotes, s)
			}
		}
	}
	fileNotes, _ := run.Parameters["file_notes"].(map[string]interface{})
	for _, doc := range docs {
		fc := types.FileContext{
			Filename:  doc.Filename,
			MediaType: doc.MediaType,
			Strategy:  string(doc.Strategy),
			SizeBytes: doc.SizeBytes,
			SHA256:    doc.SHA256,
		}
		if note, ok := fileNotes[doc.Filename].(string); ok {
			fc.Note = note
		}
		pack.Files = append(pack.Files, fc)
	}
	return pack
}

func (p *Pipeline) extractVariables(ctx context.Context, run *db.Run, pack *types.ContextPack, docs []ingestion.Document, referenceBlock, researchBlock string) (*types.ScopeVariables, error) {
	prompt, err := buildExtractionPrompt(run, pack, docs, referenceBlock, researchBlock)
	if err != nil {
		return nil, err
	}

	raw, err := p.model.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, fmt.Errorf("variable extraction failed: %w", err)
	}

	payload, err := llm.ParseJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("variable extraction returned no usable JSON: %w", err)
	}

	if err := schemas.ValidateScopeVariables(string(payload)); err != nil {
		return nil, fmt.Errorf("extracted variables failed validation: %w", err)
	}

	var vars types.ScopeVariables
	if err := json.Unmarshal(payload, &vars); err != nil {
		return nil, fmt.Errorf("failed to decode extracted variables: %w", err)
	}

	if err := p.persistVariables(ctx, run.ID, payload); err != nil {
		return nil, err
	}
	return &vars, nil
}

func buildExtractionPrompt(run *db.Run, pack *types.ContextPack, docs []ingestion.Document, referenceBlock, researchBlock string) (string, error) {
	system, err := prompts.Get("extraction.json", "system")
	if err != nil {
		return "", err
	}
	body, err := prompts.Get("extraction.json", "extract_variables")
	if err != nil {
		return "", err
	}

	packJSON, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal context pack for prompt: %w", err)
	}

	prompt := prompts.Format(body, map[string]string{
		"ContextPack":    string(packJSON),
		"Evidence":       ingestion.CombineDocuments(docs),
		"ReferenceBlock": referenceBlock,
		"ResearchBlock":  researchBlock,
	})

	if strings.TrimSpace(run.Instructions) != "" {
		extra, err := prompts.Get("extraction.json", "caller_instructions")
		if err != nil {
			return "", err
		}
		prompt += "\n\n" + prompts.Format(extra, map[string]string{"Instructions": run.Instructions})
	}

	return system + "\n\n" + prompt, nil
}

// persistVariables stores the variables artifact and points the run at it.
func (p *Pipeline) persistVariables(ctx context.Context, runID uuid.UUID, payload json.RawMessage) error {
	key := artifactKey(runID, "variables.json")
	if err := p.backend.PutBytes(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("failed to store variables: %w", err)
	}
	artifactID, err := p.store.CreateArtifact(ctx, runID, db.ArtifactVariables, key, nil)
	if err != nil {
		return fmt.Errorf("failed to record variables artifact: %w", err)
	}
	if err := p.store.SetRunVariablesArtifact(ctx, runID, artifactID); err != nil {
		return fmt.Errorf("failed to link variables artifact: %w", err)
	}
	return nil
}

func (p *Pipeline) persistDocument(ctx context.Context, runID uuid.UUID, doc string) (string, error) {
	key := artifactKey(runID, "scope.md")
	if err := p.backend.PutBytes(ctx, key, []byte(doc), "text/markdown"); err != nil {
		return "", fmt.Errorf("failed to store rendered document: %w", err)
	}
	if _, err := p.store.CreateArtifact(ctx, runID, db.ArtifactRenderedDoc, key, nil); err != nil {
		return "", fmt.Errorf("failed to record rendered document artifact: %w", err)
	}
	return key, nil
}
