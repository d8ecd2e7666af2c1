// Package flow wires the pipeline stages into the two top-level runs:
// iterating on an existing repository and bootstrapping a new one. Stages run
// strictly in sequence; the persisted snapshot and summary tree make reruns
// cheap, so the unit of restart is the whole flow.
package flow

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"iterflow/internal/collab"
	"iterflow/internal/config"
	"iterflow/internal/debugloop"
	"iterflow/internal/diffmerge"
	"iterflow/internal/execplan"
	"iterflow/internal/plan"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/structure"
	"iterflow/internal/summary"
	"iterflow/internal/testrun"
	"iterflow/internal/types"
)

// Engine runs pipelines against repositories. One Engine may serve many runs,
// but concurrent runs against the same repository are the caller's problem.
type Engine struct {
	Caller   *collab.Caller
	Settings config.Settings
	Spec     scan.SourceSpec
}

func NewEngine(caller *collab.Caller, settings config.Settings) *Engine {
	return &Engine{Caller: caller, Settings: settings, Spec: scan.PythonSpec()}
}

// IterateResult reports one iteration run end to end.
type IterateResult struct {
	RunID  string
	Sync   summary.SyncStats
	Steps  int
	Report types.ExecReport
	Debug  *debugloop.Report
}

// Iterate applies one change request to an existing repository: resolve
// structure and test configuration, sync summaries, plan, execute, then debug
// against the test suite when one is configured. Absence of tests is not a
// failure.
func (e *Engine) Iterate(ctx context.Context, repoPath, prompt string) (IterateResult, error) {
	res := IterateResult{RunID: uuid.NewString()}
	log.Printf("flow: run %s: iterating on %s", res.RunID, repoPath)

	fsys, err := safeio.NewSafeFS(repoPath)
	if err != nil {
		return res, err
	}
	resolver := structure.NewResolver(e.Caller, e.Spec)
	snap, err := resolver.Resolve(ctx, fsys)
	if err != nil {
		return res, err
	}
	// Test configuration is resolved up front so every downstream
	// test-planning and test-implementation call sees the same framework.
	if snap.Structure.HasTests() {
		if err := resolver.EnsureTestConfig(ctx, fsys, &snap); err != nil {
			return res, err
		}
	}

	store := summary.NewStore(fsys, e.Caller, e.Spec,
		snap.Structure.SourceRoot, snap.Structure.SummariesRoot, e.Settings.MaxChars)
	if res.Sync, err = store.Sync(ctx); err != nil {
		return res, err
	}
	log.Printf("flow: run %s: summaries synced (%d files, %d modules generated)",
		res.RunID, res.Sync.FilesGenerated, res.Sync.ModulesGenerated)

	planner := &plan.Planner{
		Caller:     e.Caller,
		Store:      store,
		FS:         fsys,
		Spec:       e.Spec,
		SourceRoot: snap.Structure.SourceRoot,
	}
	steps, err := planner.Plan(ctx, prompt)
	if err != nil {
		return res, err
	}
	res.Steps = len(steps)
	if len(steps) == 0 {
		log.Printf("flow: run %s: empty plan, nothing to do", res.RunID)
		return res, nil
	}

	integrator := &diffmerge.Integrator{
		Caller:     e.Caller,
		FS:         fsys,
		SourceRoot: snap.Structure.SourceRoot,
	}
	executor := execplan.NewExecutor(e.Caller, fsys, resolver, store, integrator, e.Spec, snap)
	if res.Report, err = executor.Execute(ctx, steps); err != nil {
		return res, err
	}
	res.Report.RunID = res.RunID
	snap = executor.Snap

	if snap.Tests != nil && snap.Tests.Command != "" {
		loop := &debugloop.Loop{
			Caller:     e.Caller,
			FS:         fsys,
			Runner:     &testrun.Runner{Dir: fsys.Root(), Timeout: e.Settings.TestTimeout},
			Integrator: integrator,
			Store:      store,
			Spec:       e.Spec,
			SourceRoot: snap.Structure.SourceRoot,
		}
		rep, err := loop.Run(ctx, snap.Tests.Command)
		if err != nil {
			return res, fmt.Errorf("flow: debug loop: %w", err)
		}
		res.Debug = &rep
		log.Printf("flow: run %s: %s", res.RunID, testrun.StatusLine(rep.Final))
	}
	return res, nil
}
