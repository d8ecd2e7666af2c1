package structure

import (
	"context"
	"testing"

	"iterflow/internal/collab"
	"iterflow/internal/llm"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/tester"
	"iterflow/internal/types"
)

func newRepo(t *testing.T) *safeio.SafeFS {
	t.Helper()
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	tester.NoErr(t, fsys.WriteFile("src/pkg/a.py", []byte("x = 1\n")))
	return fsys
}

func TestResolveInfersAndPersists(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("project_structure", `{"source_root": "src", "test_roots": [], "docs_root": null, "summaries_root": null}`)
	r := NewResolver(collab.NewSingle(fake), scan.PythonSpec())
	fsys := newRepo(t)

	snap, err := r.Resolve(context.Background(), fsys)
	tester.NoErr(t, err)
	tester.Eq(t, snap.Structure.SourceRoot, "src")
	tester.Eq(t, snap.Structure.SummariesRoot, DefaultSummariesRoot)
	tester.True(t, fsys.Exists(SnapshotFile), "snapshot persisted")
	tester.True(t, fsys.IsDir(DefaultSummariesRoot), "summaries root created")
}

func TestResolveSnapshotFastPath(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("project_structure", `{"source_root": "src", "test_roots": []}`)
	r := NewResolver(collab.NewSingle(fake), scan.PythonSpec())
	fsys := newRepo(t)

	_, err := r.Resolve(context.Background(), fsys)
	tester.NoErr(t, err)
	calls := len(fake.Calls())

	// Fresh resolver, same repo: the snapshot file short-circuits discovery.
	r2 := NewResolver(collab.NewSingle(fake), scan.PythonSpec())
	snap, err := r2.Resolve(context.Background(), fsys)
	tester.NoErr(t, err)
	tester.Eq(t, snap.Structure.SourceRoot, "src")
	tester.Eq(t, len(fake.Calls()), calls, "fast path must not call the collaborator")
}

func TestResolveFatalOnBadSourceRoot(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("project_structure", `{"source_root": "no/such/dir", "test_roots": []}`)
	r := NewResolver(collab.NewSingle(fake), scan.PythonSpec())
	fsys := newRepo(t)

	_, err := r.Resolve(context.Background(), fsys)
	tester.Err(t, err, "nonexistent source root has no safe default")
}

func TestEnsureTestConfigPersists(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("tests_conf", `{"framework": "pytest", "command": "pytest -q", "description": "run suite", "examples": ["tests/test_a.py"]}`)
	r := NewResolver(collab.NewSingle(fake), scan.PythonSpec())
	fsys := newRepo(t)
	tester.NoErr(t, fsys.WriteFile("tests/test_a.py", []byte("import pytest\n")))

	snap := types.Snapshot{Structure: types.ProjectStructure{
		SourceRoot: "src", TestRoots: []string{"tests"},
	}}
	tester.NoErr(t, r.EnsureTestConfig(context.Background(), fsys, &snap))
	tester.True(t, snap.Tests != nil, "test config set")
	tester.Eq(t, snap.Tests.Command, "pytest -q")

	// Already-configured snapshots are left alone.
	tester.NoErr(t, r.EnsureTestConfig(context.Background(), fsys, &snap))
	tester.Eq(t, len(fake.CallsFor("tests_conf")), 1)
}

func TestDetectFrameworks(t *testing.T) {
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	tester.NoErr(t, fsys.WriteFile("tests/conftest.py", []byte("# fixtures\n")))
	tester.NoErr(t, fsys.WriteFile("tests/test_u.py", []byte("import unittest\n")))

	pytest, unittest := DetectFrameworks(fsys)
	tester.True(t, pytest, "conftest.py implies pytest")
	tester.True(t, unittest, "unittest import detected")
}
