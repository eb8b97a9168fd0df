package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/llm"
	"github.com/martin/scope-generator/internal/prompts"
	"github.com/martin/scope-generator/internal/render"
	"github.com/martin/scope-generator/internal/schemas"
	"github.com/martin/scope-generator/internal/types"
)

// VariablesDelta returns the caller's change request for a regeneration run.
func VariablesDelta(run *db.Run) string {
	if v, ok := run.Parameters["variables_delta"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ExecuteRegen runs the quick regeneration flow: load the parent run's
// variables, rewrite them only when a delta was supplied, re-render and
// persist a fresh document plus a RunVersion row. With an empty delta the
// output is identical to re-rendering the parent's variables and no model
// call happens.
func (p *Pipeline) ExecuteRegen(ctx context.Context, req Request) (string, error) {
	run := req.Run
	if run.ParentRunID == nil {
		return "", fmt.Errorf("regeneration run %s has no parent run", run.ID)
	}
	steps := NewStepRecorder(p.store, run.ID, req.OnStep, p.log)

	var payload json.RawMessage
	if err := steps.Run(ctx, db.StepLoadVariables, func(ctx context.Context) error {
		var err error
		payload, err = p.loadParentVariables(ctx, run)
		return err
	}); err != nil {
		return "", err
	}

	delta := VariablesDelta(run)
	if delta != "" {
		if err := steps.Run(ctx, db.StepRewrite, func(ctx context.Context) error {
			var err error
			payload, err = p.rewriteVariables(ctx, payload, delta)
			return err
		}); err != nil {
			return "", err
		}
	}

	if err := p.persistVariables(ctx, run.ID, payload); err != nil {
		return "", err
	}

	var doc string
	if err := steps.Run(ctx, db.StepRender, func(ctx context.Context) error {
		var vars types.ScopeVariables
		if err := json.Unmarshal(payload, &vars); err != nil {
			return fmt.Errorf("failed to decode variables: %w", err)
		}
		var err error
		doc, err = render.ScopeDocument(&vars)
		return err
	}); err != nil {
		return "", err
	}

	var resultPath string
	if err := steps.Run(ctx, db.StepPersist, func(ctx context.Context) error {
		var err error
		resultPath, err = p.persistDocument(ctx, run.ID, doc)
		if err != nil {
			return err
		}

		version, err := p.store.NextRunVersion(ctx, *run.ParentRunID)
		if err != nil {
			return fmt.Errorf("failed to allocate version number: %w", err)
		}
		_, err = p.store.CreateRunVersion(ctx, &db.RunVersion{
			RunID:      *run.ParentRunID,
			Version:    version,
			Content:    doc,
			ChangeNote: delta,
		})
		if err != nil {
			return fmt.Errorf("failed to record run version: %w", err)
		}
		return nil
	}); err != nil {
		return "", err
	}

	return resultPath, nil
}

func (p *Pipeline) loadParentVariables(ctx context.Context, run *db.Run) (json.RawMessage, error) {
	artifact, err := p.store.LatestArtifact(ctx, *run.ParentRunID, db.ArtifactVariables)
	if err != nil {
		return nil, fmt.Errorf("failed to look up parent variables artifact: %w", err)
	}
	if artifact == nil {
		return nil, fmt.Errorf("parent run %s has no variables artifact", run.ParentRunID)
	}
	data, err := p.backend.ReadBytes(ctx, artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parent variables: %w", err)
	}
	return data, nil
}

func (p *Pipeline) rewriteVariables(ctx context.Context, payload json.RawMessage, delta string) (json.RawMessage, error) {
	system, err := prompts.Get("regen.json", "system")
	if err != nil {
		return nil, err
	}
	body, err := prompts.Get("regen.json", "rewrite_variables")
	if err != nil {
		return nil, err
	}

	prompt := system + "\n\n" + prompts.Format(body, map[string]string{
		"Variables": string(payload),
		"Delta":     delta,
	})

	raw, err := p.model.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("variable rewrite failed: %w", err)
	}

	rewritten, err := llm.ParseJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("variable rewrite returned no usable JSON: %w", err)
	}
	if err := schemas.ValidateScopeVariables(string(rewritten)); err != nil {
		return nil, fmt.Errorf("rewritten variables failed validation: %w", err)
	}
	return rewritten, nil
}
