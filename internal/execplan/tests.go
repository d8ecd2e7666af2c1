package execplan

import (
	"context"
	"io/fs"
	"log"
	"path"
	"strings"

	"iterflow/internal/sanitize"
	"iterflow/internal/types"
)

// testSnippets accumulates generated test code per originating source file,
// in first-seen order, for the post-loop tests-integration pass.
type testSnippets struct {
	order  []string
	byFile map[string][]string
}

func newTestSnippets() *testSnippets {
	return &testSnippets{byFile: map[string][]string{}}
}

func (t *testSnippets) add(rel string, snippets ...string) {
	kept := snippets[:0]
	for _, s := range snippets {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return
	}
	if _, ok := t.byFile[rel]; !ok {
		t.order = append(t.order, rel)
	}
	t.byFile[rel] = append(t.byFile[rel], kept...)
}

const testsPlanningSchema = `[str]`

const testsPlanningPrompt = `You are a test engineer reviewing a planned code change.
Propose the test cases the change needs: one short description per case,
covering the changed behavior and its edge cases. Do not write code yet.

Return STRICT JSON ONLY: ["<test case description>", ...]
Return [] when the change needs no new tests.`

const testsImplSchema = `[str]`

const testsImplPrompt = `You are a test engineer implementing planned test cases.
Write one self-contained test snippet per description, in the repository's
test framework. Snippets will later be merged into an existing test file, so
do not emit imports or fixtures that file already provides unless essential.

Return STRICT JSON ONLY: ["<test code snippet>", ...]`

// planTests runs the test-planning and test-implementation calls for one
// modify-code outcome and accumulates the snippets under the source file.
func (e *Executor) planTests(ctx context.Context, st *runState, step types.ActionStep, rel, current string, mods []types.DiffModification) error {
	var descriptions []string
	if err := e.Caller.Call(ctx, "tests_planning", testsPlanningPrompt, map[string]any{
		"change":          step.Description,
		"path":            rel,
		"current_content": current,
		"diffs":           mods,
	}, testsPlanningSchema, &descriptions); err != nil {
		return err
	}
	if len(descriptions) == 0 {
		return nil
	}
	framework := ""
	if e.Snap.Tests != nil {
		framework = e.Snap.Tests.Framework
	}
	var snippets []string
	if err := e.Caller.Call(ctx, "tests_implementation", testsImplPrompt, map[string]any{
		"descriptions":    descriptions,
		"path":            rel,
		"current_content": current,
		"framework":       framework,
	}, testsImplSchema, &snippets); err != nil {
		return err
	}
	st.snippets.add(rel, snippets...)
	return nil
}

const testsRelevanceSchema = `{"path": str}`

const testsRelevancePrompt = `You are a test engineer placing new tests.
Given a source file and the listing of existing test files, pick the test file
the new tests for that source file belong in.

Return STRICT JSON ONLY: {"path": "<repo-relative test file path>"}
Return {"path": ""} when no existing file fits.`

const testsIntegratorSchema = `{"content": str}`

const testsIntegratorPrompt = `You are a test engineer merging new test snippets into a test file.
The input holds the file's current content ("" for a new file), the snippets
to add, and nearby shared fixture definitions for context. Produce the
COMPLETE merged file: keep existing tests, deduplicate imports, reuse the
provided fixtures instead of redefining them.

Return STRICT JSON ONLY: {"content": "<full test file content>"}`

// integrateTests merges every source file's accumulated snippets into its
// test file: the mirrored path when it exists, otherwise whatever the
// relevance collaborator picks, falling back to the mirrored path for a new
// file. Per-file failures are logged and skipped.
func (e *Executor) integrateTests(ctx context.Context, st *runState) error {
	if len(e.tests) == 0 || len(st.snippets.order) == 0 {
		return nil
	}
	tree := e.tests[0]
	listing := e.testFileListing()
	for _, rel := range st.snippets.order {
		testRel := tree.PathFor(rel)
		if !e.FS.Exists(testRel) && len(listing) > 0 {
			var pick struct {
				Path string `json:"path"`
			}
			if err := e.Caller.Call(ctx, "tests_relevance", testsRelevancePrompt, map[string]any{
				"source_file": rel,
				"test_files":  listing,
			}, testsRelevanceSchema, &pick); err != nil {
				log.Printf("execplan: tests relevance for %s: %v", rel, err)
			} else if pick.Path != "" {
				testRel = pick.Path
			}
		}

		original := ""
		if b, err := e.FS.ReadFile(testRel); err == nil {
			original = string(b)
		}
		fixtures := e.collectFixtures(testRel, tree.Root)

		var out struct {
			Content string `json:"content"`
		}
		if err := e.Caller.Call(ctx, "tests_integrator", testsIntegratorPrompt, map[string]any{
			"path":               testRel,
			"original_test_code": original,
			"new_snippets":       st.snippets.byFile[rel],
			"fixtures":           fixtures,
		}, testsIntegratorSchema, &out); err != nil {
			log.Printf("execplan: tests integration for %s: %v", testRel, err)
			continue
		}
		content := sanitize.Content(out.Content)
		if content == "" {
			continue
		}
		if err := e.FS.WriteFile(testRel, []byte(content)); err != nil {
			log.Printf("execplan: write %s: %v", testRel, err)
		}
	}
	return nil
}

// collectFixtures gathers conftest.py contents from the test file's directory
// upward until the test root, keyed by repo-relative path. Closest first.
func (e *Executor) collectFixtures(testRel, testRoot string) map[string]string {
	out := map[string]string{}
	dir := path.Dir(testRel)
	root := path.Clean(testRoot)
	for {
		p := path.Join(dir, "conftest.py")
		if b, err := e.FS.ReadFile(p); err == nil {
			out[p] = string(b)
		}
		if dir == root || dir == "." || dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}
	return out
}

func (e *Executor) testFileListing() []string {
	var out []string
	for _, t := range e.tests {
		_ = fs.WalkDir(e.FS, path.Clean(t.Root), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == "__pycache__" {
					return fs.SkipDir
				}
				return nil
			}
			out = append(out, p)
			return nil
		})
	}
	return out
}
