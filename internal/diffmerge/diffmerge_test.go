package diffmerge

import (
	"context"
	"testing"

	"iterflow/internal/collab"
	"iterflow/internal/llm"
	"iterflow/internal/safeio"
	"iterflow/internal/tester"
	"iterflow/internal/types"
)

func TestChangesPreserveOrder(t *testing.T) {
	c := NewChanges()
	c.Add(types.DiffModification{Path: "b.py", ContentDiff: "B1"})
	c.Add(types.DiffModification{Path: "a.py", ContentDiff: "A1"})
	c.Add(types.DiffModification{Path: "b.py", ContentDiff: "B2"})
	c.Add(types.DiffModification{Path: "", ContentDiff: "dropped"})

	tester.Eq(t, c.Paths(), []string{"b.py", "a.py"}, "first-seen path order")
	got := c.For("b.py")
	tester.Eq(t, len(got), 2)
	tester.Eq(t, got[0].ContentDiff, "B1")
	tester.Eq(t, got[1].ContentDiff, "B2")
	tester.Eq(t, c.Len(), 2)
}

func TestMergeFileSendsDiffsInProductionOrder(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("diff_apply", `{"path": "a.py", "content": "merged = True"}`)
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	tester.NoErr(t, fsys.WriteFile("src/a.py", []byte("original\n")))
	ig := &Integrator{Caller: collab.NewSingle(fake), FS: fsys, SourceRoot: "src"}

	mods := []types.DiffModification{
		{Path: "a.py", ContentDiff: "diff_A"},
		{Path: "a.py", ContentDiff: "diff_B"},
		{Path: "a.py", ContentDiff: "diff_C"},
	}
	merged, err := ig.MergeFile(context.Background(), "a.py", mods)
	tester.NoErr(t, err)
	tester.Eq(t, merged, "merged = True\n")

	calls := fake.CallsFor("diff_apply")
	tester.Eq(t, len(calls), 1, "one integration call per file")
	input := calls[0].Input.(map[string]any)
	tester.Eq(t, input["original"].(string), "original\n")
	tester.Eq(t, input["diffs"].([]string), []string{"diff_A", "diff_B", "diff_C"})

	b, err := fsys.ReadFile("src/a.py")
	tester.NoErr(t, err)
	tester.Eq(t, string(b), "merged = True\n")
}

func TestMergeFileMissingOriginalIntegratesAgainstEmpty(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("diff_apply", `{"path": "new.py", "content": "fresh = 1"}`)
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	ig := &Integrator{Caller: collab.NewSingle(fake), FS: fsys, SourceRoot: "src"}

	_, err = ig.MergeFile(context.Background(), "new.py", []types.DiffModification{{Path: "new.py", ContentDiff: "d"}})
	tester.NoErr(t, err)
	input := fake.CallsFor("diff_apply")[0].Input.(map[string]any)
	tester.Eq(t, input["original"].(string), "")
}

func TestMergeFileEmptyResultIsAnError(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("diff_apply", `{"path": "a.py", "content": ""}`)
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	tester.NoErr(t, fsys.WriteFile("src/a.py", []byte("original\n")))
	ig := &Integrator{Caller: collab.NewSingle(fake), FS: fsys, SourceRoot: "src"}

	_, err = ig.MergeFile(context.Background(), "a.py", []types.DiffModification{{Path: "a.py", ContentDiff: "d"}})
	tester.Err(t, err)
	b, _ := fsys.ReadFile("src/a.py")
	tester.Eq(t, string(b), "original\n", "original untouched on empty merge")
}

func TestMergeFileNoModsIsNoOp(t *testing.T) {
	fake := llm.NewFakeClient()
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	ig := &Integrator{Caller: collab.NewSingle(fake), FS: fsys, SourceRoot: "src"}
	merged, err := ig.MergeFile(context.Background(), "a.py", nil)
	tester.NoErr(t, err)
	tester.Eq(t, merged, "")
	tester.Eq(t, len(fake.Calls()), 0)
}
