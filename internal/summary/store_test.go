package summary

import (
	"context"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"iterflow/internal/collab"
	"iterflow/internal/llm"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/tester"
)

func newStore(t *testing.T, fake *llm.FakeClient) *Store {
	t.Helper()
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	return NewStore(fsys, collab.NewSingle(fake), scan.PythonSpec(), "src", "summaries", 0)
}

func TestSyncEndToEnd(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("file_summaries", `[{"path": "pkg/a.py", "content": "summary of a"}]`).
		Script("module_summaries", `[{"path": "pkg", "content": "module pkg"}]`)
	s := newStore(t, fake)
	tester.NoErr(t, s.FS.WriteFile("src/pkg/a.py", []byte("x = 1\n")))
	tester.NoErr(t, s.FS.WriteFile("src/pkg/__init__.py", nil))

	stats, err := s.Sync(context.Background())
	tester.NoErr(t, err)
	tester.Eq(t, stats, SyncStats{FilesGenerated: 1, ModulesGenerated: 1})
	tester.True(t, s.FS.Exists("summaries/pkg/a.yaml"), "file summary artifact")
	tester.True(t, s.FS.Exists("summaries/pkg/_module.yaml"), "module sentinel")
	tester.False(t, s.FS.Exists("summaries/pkg/__init__.yaml"), "package markers are excluded")
	tester.Eq(t, len(fake.Calls()), 2, "one batched file call plus one module call")
}

func TestSyncIsIdempotent(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("file_summaries", `[{"path": "pkg/a.py", "content": "summary of a"}]`).
		Script("module_summaries", `[{"path": "pkg", "content": "module pkg"}]`)
	s := newStore(t, fake)
	tester.NoErr(t, s.FS.WriteFile("src/pkg/a.py", []byte("x = 1\n")))

	_, err := s.Sync(context.Background())
	tester.NoErr(t, err)
	calls := len(fake.Calls())

	stats, err := s.Sync(context.Background())
	tester.NoErr(t, err)
	tester.Eq(t, stats, SyncStats{})
	tester.Eq(t, len(fake.Calls()), calls, "second sync must issue zero calls")
}

func TestSyncBatchesPerModule(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("file_summaries", `[{"path": "a/one.py", "content": "s1"}, {"path": "a/two.py", "content": "s2"}]`).
		Script("file_summaries", `[{"path": "b/three.py", "content": "s3"}]`)
	fake.Default = []byte(`[]`)
	s := newStore(t, fake)
	tester.NoErr(t, s.FS.WriteFile("src/a/one.py", []byte("1\n")))
	tester.NoErr(t, s.FS.WriteFile("src/a/two.py", []byte("2\n")))
	tester.NoErr(t, s.FS.WriteFile("src/b/three.py", []byte("3\n")))

	stats, err := s.Sync(context.Background())
	tester.NoErr(t, err)
	tester.Eq(t, stats.FilesGenerated, 3)
	tester.Eq(t, len(fake.CallsFor("file_summaries")), 2, "one call per module group")
}

// Module summaries are derived purely from file summaries: identical
// artifacts must produce byte-identical collaborator input even when the
// underlying source differs.
func TestModuleSummaryDerivationPurity(t *testing.T) {
	inputs := make([]any, 0, 2)
	for _, source := range []string{"x = 1\n", "completely_different()\n"} {
		fake := llm.NewFakeClient().
			Script("module_summaries", `[{"path": "pkg", "content": "m"}]`)
		s := newStore(t, fake)
		tester.NoErr(t, s.FS.WriteFile("src/pkg/a.py", []byte(source)))
		art, err := yaml.Marshal(Artifact{Path: "pkg/a.py", Kind: "file", Content: "identical summary\n"})
		tester.NoErr(t, err)
		tester.NoErr(t, s.FS.WriteFile("summaries/pkg/a.yaml", art))

		_, err = s.Sync(context.Background())
		tester.NoErr(t, err)
		calls := fake.CallsFor("module_summaries")
		tester.Eq(t, len(calls), 1)
		inputs = append(inputs, calls[0].Input)
	}
	tester.True(t, reflect.DeepEqual(inputs[0], inputs[1]),
		"module input must not depend on raw source")
}

func TestModuleWithoutFileSummariesIsSkipped(t *testing.T) {
	fake := llm.NewFakeClient().Script("file_summaries", `[]`)
	s := newStore(t, fake)
	tester.NoErr(t, s.FS.WriteFile("src/pkg/a.py", []byte("x\n")))

	stats, err := s.Sync(context.Background())
	tester.NoErr(t, err)
	tester.Eq(t, stats.ModulesGenerated, 0)
	tester.Eq(t, len(fake.CallsFor("module_summaries")), 0, "nothing to synthesize from nothing")
}

func TestRegenerateFileMarksModuleDirty(t *testing.T) {
	fake := llm.NewFakeClient().
		Script("file_summaries", `[{"path": "pkg/a.py", "content": "old"}]`).
		Script("module_summaries", `[{"path": "pkg", "content": "old module"}]`).
		Script("file_summaries", `[{"path": "pkg/a.py", "content": "new"}]`).
		Script("module_summaries", `[{"path": "pkg", "content": "new module"}]`)
	s := newStore(t, fake)
	tester.NoErr(t, s.FS.WriteFile("src/pkg/a.py", []byte("x = 1\n")))
	_, err := s.Sync(context.Background())
	tester.NoErr(t, err)

	tester.NoErr(t, s.RegenerateFile(context.Background(), "pkg/a.py", "x = 2\n"))
	tester.Eq(t, s.DirtyDirs(), []string{"pkg"})

	got, ok := s.FileSummary("pkg/a.py")
	tester.True(t, ok)
	tester.Eq(t, got, "new\n")

	tester.NoErr(t, s.RegenerateModules(context.Background()))
	tester.Eq(t, len(s.DirtyDirs()), 0, "dirty set cleared")
	mods, err := s.ModuleSummaries()
	tester.NoErr(t, err)
	tester.Eq(t, mods["pkg"], "new module\n")
}
