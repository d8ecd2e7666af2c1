package flow

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path"
	"strings"

	"github.com/google/uuid"

	"iterflow/internal/collab"
	"iterflow/internal/diffmerge"
	"iterflow/internal/safeio"
	"iterflow/internal/sanitize"
	"iterflow/internal/structure"
	"iterflow/internal/summary"
	"iterflow/internal/types"
)

const designSchema = `{"name": str, "files": [{"path": str, "description": str, "points": int}]}`

const designPrompt = `You are a software architect designing a new project from a user prompt.
Decide the file layout and, for each file, what it must contain. Score each
file with "points": 1 for boilerplate, 2 for substantial logic, 3 for the
hardest parts. Paths are project-root-relative with forward slashes.

Return STRICT JSON ONLY:
{"name": "<project name>", "files": [{"path": str, "description": str, "points": int}]}`

const writeFileSchema = `{"path": str, "content": str}`

const writeFilePrompt = `You are a software engineer writing one file of a new project.
The input holds the overall design and the file's path and description. Write
the complete file content, consistent with the rest of the design. Do not wrap
the result in markdown fences.

Return STRICT JSON ONLY: {"path": "<same path>", "content": "<full file content>"}`

const reviewSchema = `[{"path": str, "content_diff": str}]`

const reviewPrompt = `You are a senior engineer reviewing one freshly generated file.
Check it against the overall design: syntax errors, wrong imports, missing
pieces, interface mismatches with the other designed files. Express every
correction as a diff-shaped modification against the file.

Return STRICT JSON ONLY: [{"path": "<path>", "content_diff": "<change>"}]
Return [] when the file needs no correction.`

// NewProjectResult reports one bootstrap run.
type NewProjectResult struct {
	RunID   string
	Name    string
	Written []string
	Sync    summary.SyncStats
}

type designFile struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Points      int    `json:"points"`
}

// NewProject bootstraps a repository under outPath from a natural-language
// prompt: one design call, then per designed file a tiered generation call
// followed by a review round whose fixes are integrated before the file
// settles, then an initial summary sync so the first Iterate starts from a
// warm snapshot, then a best-effort lint/format pass over the fresh tree.
func (e *Engine) NewProject(ctx context.Context, outPath, prompt string) (NewProjectResult, error) {
	res := NewProjectResult{RunID: uuid.NewString()}
	log.Printf("flow: run %s: new project under %s", res.RunID, outPath)

	fsys, err := safeio.NewSafeFS(outPath)
	if err != nil {
		return res, err
	}
	integrator := &diffmerge.Integrator{Caller: e.Caller, FS: fsys, SourceRoot: "."}

	var design struct {
		Name  string       `json:"name"`
		Files []designFile `json:"files"`
	}
	if err := e.Caller.CallTier(ctx, collab.TierLead, "project_design", designPrompt,
		map[string]any{"user_prompt": prompt}, designSchema, &design); err != nil {
		return res, err
	}
	res.Name = design.Name
	if len(design.Files) == 0 {
		return res, fmt.Errorf("flow: design produced no files")
	}

	for _, f := range design.Files {
		if f.Path == "" {
			continue
		}
		var out struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := e.Caller.CallTier(ctx, collab.TierForPoints(f.Points), "code_writer", writeFilePrompt, map[string]any{
			"design":      design,
			"path":        f.Path,
			"description": f.Description,
		}, writeFileSchema, &out); err != nil {
			return res, err
		}
		target := out.Path
		if target == "" {
			target = f.Path
		}
		content := sanitize.Content(out.Content)
		if err := fsys.WriteFile(target, []byte(content)); err != nil {
			return res, err
		}
		if err := e.reviewFile(ctx, integrator, f, target, content); err != nil {
			return res, err
		}
		res.Written = append(res.Written, target)
	}

	snap := types.Snapshot{Structure: types.ProjectStructure{
		SourceRoot:    ".",
		SummariesRoot: structure.DefaultSummariesRoot,
	}}
	for _, f := range design.Files {
		if dir := firstSegment(f.Path); dir == "tests" || dir == "test" {
			snap.Structure.TestRoots = appendUnique(snap.Structure.TestRoots, dir)
		}
	}
	if err := fsys.MkdirAll(snap.Structure.SummariesRoot); err != nil {
		return res, err
	}
	resolver := structure.NewResolver(e.Caller, e.Spec)
	if err := resolver.Save(fsys, snap); err != nil {
		return res, err
	}

	store := summary.NewStore(fsys, e.Caller, e.Spec,
		snap.Structure.SourceRoot, snap.Structure.SummariesRoot, e.Settings.MaxChars)
	if res.Sync, err = store.Sync(ctx); err != nil {
		return res, err
	}
	lintAndFormat(ctx, fsys.Root())
	log.Printf("flow: run %s: wrote %d files, synced %d summaries",
		res.RunID, len(res.Written), res.Sync.FilesGenerated)
	return res, nil
}

// reviewFile runs the post-generation review round for one written file and
// folds its corrections back in. Fixes naming other files are discarded; each
// file's review only settles that file.
func (e *Engine) reviewFile(ctx context.Context, integrator *diffmerge.Integrator, f designFile, target, content string) error {
	var fixes []types.DiffModification
	if err := e.Caller.CallTier(ctx, collab.TierForPoints(f.Points), "code_review", reviewPrompt, map[string]any{
		"path":        target,
		"description": f.Description,
		"content":     content,
	}, reviewSchema, &fixes); err != nil {
		return err
	}
	kept := fixes[:0]
	for _, fx := range fixes {
		if strings.TrimSpace(fx.ContentDiff) == "" {
			continue
		}
		if fx.Path == "" {
			fx.Path = target
		}
		if fx.Path != target {
			continue
		}
		kept = append(kept, fx)
	}
	if len(kept) == 0 {
		return nil
	}
	log.Printf("flow: %s: integrating %d review fix(es)", target, len(kept))
	_, err := integrator.MergeFile(ctx, target, kept)
	return err
}

// lintAndFormat runs the auto-fixing linter and the formatter over the fresh
// tree. Both are best-effort: a missing tool or a non-zero exit is logged,
// never fatal to the bootstrap.
func lintAndFormat(ctx context.Context, dir string) {
	for _, args := range [][]string{
		{"ruff", "check", "--fix", "."},
		{"ruff", "format", "."},
	} {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Printf("flow: %s: %v", strings.Join(args, " "), err)
		} else if len(out) > 0 {
			log.Printf("flow: %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
	}
}

func firstSegment(p string) string {
	p = path.Clean(p)
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
