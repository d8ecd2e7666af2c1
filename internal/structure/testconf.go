package structure

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"regexp"
	"strings"

	"iterflow/internal/safeio"
	"iterflow/internal/types"
)

const testsConfSchema = `{
  "framework": "pytest|unittest|script|null",
  "command": str,
  "description": str,
  "examples": [str]
}`

const testsConfPrompt = `You are a build engineer configuring test execution for a repository.
Given which frameworks were detected and a listing of test files, produce the
single command that runs the whole suite from the repository root.

Return STRICT JSON ONLY:
{"framework": "<pytest|unittest|script>", "command": "<shell command>", "description": "<one line>", "examples": ["<representative test file>"]}`

// EnsureTestConfig detects the repository's test framework once and persists
// it into the snapshot, so downstream test-planning calls share consistent
// context. Repositories without test roots are left alone.
func (r *Resolver) EnsureTestConfig(ctx context.Context, fsys *safeio.SafeFS, snap *types.Snapshot) error {
	if snap.Tests != nil || !snap.Structure.HasTests() {
		return nil
	}
	pytest, unittest := DetectFrameworks(fsys)
	var testFiles []string
	for _, root := range snap.Structure.TestRoots {
		entries, err := fsys.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				testFiles = append(testFiles, path.Join(root, e.Name()))
			}
		}
	}

	var cfg types.TestConfig
	if err := r.Caller.Call(ctx, "tests_conf", testsConfPrompt, map[string]any{
		"detected":   map[string]bool{"pytest": pytest, "unittest": unittest},
		"test_files": testFiles,
	}, testsConfSchema, &cfg); err != nil {
		return fmt.Errorf("structure: tests config: %w", err)
	}
	if cfg.Command == "" {
		log.Printf("structure: tests config came back empty, leaving repository unconfigured")
		return nil
	}
	snap.Tests = &cfg
	return r.Save(fsys, *snap)
}

var (
	rePytestImport   = regexp.MustCompile(`\b(?:import|from)\s+pytest\b`)
	reUnittestImport = regexp.MustCompile(`\b(?:import|from)\s+unittest\b|\bunittest\.TestCase\b`)
)

// maxDetectScan bounds how many files the detection pass reads.
const maxDetectScan = 800

// DetectFrameworks scans for pytest/unittest usage with a bounded budget.
// conftest.py is a strong pytest signal and short-circuits reading; test
// files are scanned first, the rest of the tree only if needed.
func DetectFrameworks(fsys *safeio.SafeFS) (pytest, unittest bool) {
	scanned := 0
	visit := func(p string) {
		if scanned >= maxDetectScan || (pytest && unittest) {
			return
		}
		if path.Base(p) == "conftest.py" {
			pytest = true
			return
		}
		scanned++
		b, err := fsys.ReadFile(p)
		if err != nil {
			return
		}
		text := string(b)
		if len(text) > 20000 {
			text = text[:20000]
		}
		if !pytest && rePytestImport.MatchString(text) {
			pytest = true
		}
		if !unittest && reUnittestImport.MatchString(text) {
			unittest = true
		}
	}

	var deferred []string
	_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor", "venv", ".venv", "__pycache__", SnapshotDir:
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".py") {
			return nil
		}
		base := path.Base(p)
		testy := base == "conftest.py" || strings.HasPrefix(base, "test_") || inTestDir(p)
		if testy {
			visit(p)
		} else {
			deferred = append(deferred, p)
		}
		return nil
	})
	for _, p := range deferred {
		if (pytest && unittest) || scanned >= maxDetectScan {
			break
		}
		visit(p)
	}
	return pytest, unittest
}

func inTestDir(p string) bool {
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if seg == "tests" || seg == "test" {
			return true
		}
	}
	return false
}
