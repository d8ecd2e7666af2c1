// Package execplan executes an ordered action plan against a repository: one
// type-specific handler per step kind, mirrored updates into the summaries and
// tests trees, diff accumulation per target file, and a single integration
// pass once the fold over the plan is done. A failing step is recorded and
// skipped, never fatal to the plan.
package execplan

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"

	"github.com/google/uuid"

	"iterflow/internal/collab"
	"iterflow/internal/diffmerge"
	"iterflow/internal/mirror"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/structure"
	"iterflow/internal/summary"
	"iterflow/internal/types"
)

// Executor folds one action plan over the repository. Steps run strictly in
// plan order; each handler completes (collaborator calls included) before the
// next starts.
type Executor struct {
	Caller     *collab.Caller
	FS         *safeio.SafeFS
	Resolver   *structure.Resolver
	Store      *summary.Store
	Integrator *diffmerge.Integrator
	Spec       scan.SourceSpec

	Snap      types.Snapshot
	summaries *mirror.Tree
	tests     []*mirror.Tree

	handlers map[types.StepType]func(context.Context, *runState, types.ActionStep) error
}

type runState struct {
	changes  *diffmerge.Changes
	snippets *testSnippets
	report   *types.ExecReport
}

func NewExecutor(caller *collab.Caller, fsys *safeio.SafeFS, resolver *structure.Resolver, store *summary.Store, integrator *diffmerge.Integrator, spec scan.SourceSpec, snap types.Snapshot) *Executor {
	e := &Executor{
		Caller:     caller,
		FS:         fsys,
		Resolver:   resolver,
		Store:      store,
		Integrator: integrator,
		Spec:       spec,
		Snap:       snap,
		summaries: &mirror.Tree{
			FS:   fsys,
			Root: snap.Structure.SummariesRoot,
			Ext:  summary.ArtifactExt,
		},
	}
	for _, root := range snap.Structure.TestRoots {
		e.tests = append(e.tests, &mirror.Tree{FS: fsys, Root: root, Prefix: "test_"})
	}
	e.handlers = map[types.StepType]func(context.Context, *runState, types.ActionStep) error{
		types.StepCreateFile: e.createFile,
		types.StepCreateDir:  e.createDir,
		types.StepDeleteFile: e.deleteFile,
		types.StepDeleteDir:  e.deleteDir,
		types.StepRenameFile: e.renameFile,
		types.StepMoveFile:   e.moveFile,
		types.StepCopyFile:   e.copyFile,
		types.StepModifyCode: e.modifyCode,
	}
	return e
}

func (e *Executor) sourceRoot() string { return e.Snap.Structure.SourceRoot }

func (e *Executor) srcPath(rel string) string { return path.Join(e.sourceRoot(), rel) }

// Execute runs the plan and the post-loop integration pass. The report's
// Errors list carries every failed step; partial success is the normal
// outcome.
func (e *Executor) Execute(ctx context.Context, steps []types.ActionStep) (types.ExecReport, error) {
	st := &runState{
		changes:  diffmerge.NewChanges(),
		snippets: newTestSnippets(),
		report:   &types.ExecReport{RunID: uuid.NewString()},
	}
	for _, step := range steps {
		handler, ok := e.handlers[step.Type]
		if !ok {
			st.report.Errors = append(st.report.Errors, types.StepError{
				Step: step.Step, Type: step.Type, Err: "no handler for step type",
			})
			continue
		}
		if err := handler(ctx, st, step); err != nil {
			log.Printf("execplan: step %d (%s) failed: %v", step.Step, step.Type, err)
			st.report.Errors = append(st.report.Errors, types.StepError{
				Step: step.Step, Type: step.Type, Err: err.Error(),
			})
		}
	}
	if err := e.integrate(ctx, st); err != nil {
		return *st.report, err
	}
	log.Printf("execplan: run %s: %d created, %d deleted, %d renamed, %d moved, %d copied, %d modified, %d errors",
		st.report.RunID, len(st.report.Created), len(st.report.Deleted), len(st.report.Renamed),
		len(st.report.Moved), len(st.report.Copied), len(st.report.Modified), len(st.report.Errors))
	return *st.report, nil
}

func (e *Executor) mirrorAll(apply func(t *mirror.Tree) mirror.Result) {
	trees := append([]*mirror.Tree{e.summaries}, e.tests...)
	for _, t := range trees {
		if res := apply(t); !res.Ok() {
			log.Printf("execplan: mirror %s %s: %v", res.Op, res.Path, res.Err)
		}
	}
}

func (e *Executor) createFile(_ context.Context, st *runState, step types.ActionStep) error {
	for _, rel := range step.Targets() {
		if err := e.FS.CreateFile(e.srcPath(rel)); err != nil {
			return err
		}
		e.mirrorAll(func(t *mirror.Tree) mirror.Result { return t.CreateFile(rel) })
		st.report.Created = append(st.report.Created, rel)
		e.Store.MarkDirty(path.Dir(rel))
	}
	return nil
}

func (e *Executor) createDir(_ context.Context, st *runState, step types.ActionStep) error {
	for _, rel := range step.Targets() {
		if err := e.FS.MkdirAll(e.srcPath(rel)); err != nil {
			return err
		}
		e.mirrorAll(func(t *mirror.Tree) mirror.Result { return t.CreateDir(rel) })
		st.report.Created = append(st.report.Created, rel+"/")
	}
	return e.saveSnapshot()
}

func (e *Executor) deleteFile(_ context.Context, st *runState, step types.ActionStep) error {
	for _, rel := range step.Targets() {
		if _, err := e.FS.RemoveFile(e.srcPath(rel)); err != nil {
			return err
		}
		e.mirrorAll(func(t *mirror.Tree) mirror.Result { return t.DeleteFile(rel) })
		st.report.Deleted = append(st.report.Deleted, rel)
		e.Store.MarkDirty(path.Dir(rel))
	}
	return nil
}

func (e *Executor) deleteDir(_ context.Context, st *runState, step types.ActionStep) error {
	for _, rel := range step.Targets() {
		if _, err := e.FS.RemoveDir(e.srcPath(rel)); err != nil {
			return err
		}
		e.mirrorAll(func(t *mirror.Tree) mirror.Result { return t.DeleteDir(rel) })
		st.report.Deleted = append(st.report.Deleted, rel+"/")
	}
	return e.saveSnapshot()
}

func (e *Executor) renameFile(ctx context.Context, st *runState, step types.ActionStep) error {
	return e.relocate(ctx, st, step, "rename_mapping", func(t *mirror.Tree, oldRel, newRel string) mirror.Result {
		return t.Rename(oldRel, newRel)
	}, &st.report.Renamed, false)
}

func (e *Executor) moveFile(ctx context.Context, st *runState, step types.ActionStep) error {
	return e.relocate(ctx, st, step, "move_mapping", func(t *mirror.Tree, oldRel, newRel string) mirror.Result {
		return t.Move(oldRel, newRel)
	}, &st.report.Moved, false)
}

func (e *Executor) copyFile(ctx context.Context, st *runState, step types.ActionStep) error {
	return e.relocate(ctx, st, step, "copy_mapping", func(t *mirror.Tree, oldRel, newRel string) mirror.Result {
		return t.Copy(oldRel, newRel)
	}, &st.report.Copied, true)
}

const mappingSchema = `{"<old path>": "<new path>"}`

const mappingPrompt = `You are a software engineer resolving a file relocation.
The plan step carries a natural-language hint, not guaranteed-exact paths.
Using the file listing, determine the source path and destination path.

Return STRICT JSON ONLY: {"<old path>": "<new path>"}
Return {} when the step cannot be resolved against the listing.`

// relocate handles rename/move/copy. The path-resolution collaborator returns
// a single-entry {old: new} mapping; an empty mapping means skip, not fail. A
// multi-entry mapping is tolerated and applied in source-path order so the
// report stays deterministic.
func (e *Executor) relocate(ctx context.Context, st *runState, step types.ActionStep, phase string, apply func(t *mirror.Tree, oldRel, newRel string) mirror.Result, record *[]string, keepSrc bool) error {
	listing, err := scan.SourceFiles(e.FS, e.sourceRoot(), e.Spec)
	if err != nil {
		return err
	}
	var mapping map[string]string
	if err := e.Caller.Call(ctx, phase, mappingPrompt, map[string]any{
		"instruction": step.Description,
		"hints":       step.Targets(),
		"files":       listing,
	}, mappingSchema, &mapping); err != nil {
		return err
	}
	if len(mapping) == 0 {
		log.Printf("execplan: step %d (%s): empty path mapping, skipping", step.Step, step.Type)
		return nil
	}
	sources := make([]string, 0, len(mapping))
	for oldRel := range mapping {
		sources = append(sources, oldRel)
	}
	sort.Strings(sources)
	for _, oldRel := range sources {
		newRel := mapping[oldRel]
		if oldRel == "" || newRel == "" {
			continue
		}
		if keepSrc {
			err = e.FS.CopyFile(e.srcPath(oldRel), e.srcPath(newRel))
		} else {
			err = e.FS.Rename(e.srcPath(oldRel), e.srcPath(newRel))
		}
		if err != nil {
			return err
		}
		e.mirrorAll(func(t *mirror.Tree) mirror.Result { return apply(t, oldRel, newRel) })
		*record = append(*record, fmt.Sprintf("%s -> %s", oldRel, newRel))
		e.Store.MarkDirty(path.Dir(oldRel))
		e.Store.MarkDirty(path.Dir(newRel))
	}
	return nil
}

const modifySchema = `[{"path": str, "content_diff": str}]`

const modifyPrompt = `You are a software engineer implementing one planned change to existing code.
Produce the change as diff-shaped modifications: each entry names one file
(source-root-relative) and the partial change to apply. Do not return whole
files; return only the changed regions with enough surrounding context to
locate them.

Return STRICT JSON ONLY: [{"path": "<path>", "content_diff": "<change>"}]`

// modifyCode defers all writes: the tiered collaborator's diffs go into the
// per-path accumulator, and test snippets for the change are planned alongside
// when a test tree exists. Integration happens once, after the whole plan.
func (e *Executor) modifyCode(ctx context.Context, st *runState, step types.ActionStep) error {
	for _, rel := range step.Targets() {
		current := ""
		if b, err := e.FS.ReadFile(e.srcPath(rel)); err == nil {
			current = string(b)
		}
		var mods []types.DiffModification
		if err := e.Caller.CallTier(ctx, collab.TierForPoints(step.Points), "modify_code", modifyPrompt, map[string]any{
			"instructions":    step.Description,
			"path":            rel,
			"current_content": current,
		}, modifySchema, &mods); err != nil {
			return err
		}
		for i := range mods {
			if mods[i].Path == "" {
				mods[i].Path = rel
			}
		}
		st.changes.Add(mods...)
		st.report.Modified = append(st.report.Modified, rel)

		if len(e.tests) > 0 {
			if err := e.planTests(ctx, st, step, rel, current, mods); err != nil {
				log.Printf("execplan: test planning for %s failed: %v", rel, err)
			}
		}
	}
	return nil
}

// integrate is the post-loop pass: merge accumulated diffs per file (one read,
// one write, one collaborator call each), refresh the touched summaries, then
// fold accumulated test snippets into their test files.
func (e *Executor) integrate(ctx context.Context, st *runState) error {
	for _, rel := range st.changes.Paths() {
		merged, err := e.Integrator.MergeFile(ctx, rel, st.changes.For(rel))
		if err != nil {
			st.report.Errors = append(st.report.Errors, types.StepError{
				Type: types.StepModifyCode, Err: err.Error(),
			})
			continue
		}
		if err := e.Store.RegenerateFile(ctx, rel, merged); err != nil {
			return err
		}
	}
	if err := e.Store.RegenerateModules(ctx); err != nil {
		return err
	}
	return e.integrateTests(ctx, st)
}

func (e *Executor) saveSnapshot() error {
	return e.Resolver.Save(e.FS, e.Snap)
}
