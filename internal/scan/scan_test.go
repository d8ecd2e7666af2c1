package scan

import (
	"testing"

	"iterflow/internal/safeio"
	"iterflow/internal/tester"
)

func seedRepo(t *testing.T) *safeio.SafeFS {
	t.Helper()
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	files := map[string]string{
		"src/pkg/a.py":          "x = 1\n",
		"src/pkg/__init__.py":   "",
		"src/top.py":            "y = 2\n",
		"README.md":             "# readme\n",
		"venv/lib/site.py":      "ignored\n",
		"src/__pycache__/a.pyc": "",
	}
	for p, content := range files {
		tester.NoErr(t, fsys.WriteFile(p, []byte(content)))
	}
	return fsys
}

func TestCandidates(t *testing.T) {
	fsys := seedRepo(t)
	got, err := Candidates(fsys, PythonSpec())
	tester.NoErr(t, err)
	want := []string{"README.md", "src/pkg/__init__.py", "src/pkg/a.py", "src/top.py"}
	tester.Eq(t, got, want)
}

func TestSourceFilesRelativeToRoot(t *testing.T) {
	fsys := seedRepo(t)
	got, err := SourceFiles(fsys, "src", PythonSpec())
	tester.NoErr(t, err)
	tester.Eq(t, got, []string{"pkg/a.py", "top.py"}, "markers and ignored dirs excluded")
}

func TestSourceFilesAtRepoRoot(t *testing.T) {
	fsys := seedRepo(t)
	got, err := SourceFiles(fsys, ".", PythonSpec())
	tester.NoErr(t, err)
	tester.Eq(t, got, []string{"src/pkg/a.py", "src/top.py"})
}

func TestModulesGrouping(t *testing.T) {
	mods := Modules([]string{"pkg/a.py", "pkg/b.py", "top.py", "other/c.py"})
	tester.Eq(t, mods["pkg"], []string{"pkg/a.py", "pkg/b.py"})
	tester.Eq(t, mods["."], []string{"top.py"})
	tester.Eq(t, ModuleDirs([]string{"pkg/a.py", "top.py", "other/c.py"}), []string{".", "other", "pkg"})
}
