// Package types holds the data model shared across the iteration pipeline.
package types

import (
	"iterflow/internal/collab"
)

// ProjectStructure locates the trees the pipeline mutates. All roots are
// repo-relative, forward-slash paths. SourceRoot must exist and be a
// directory; SummariesRoot defaults to the snapshot directory when the
// structure collaborator does not report one.
type ProjectStructure struct {
	SourceRoot    string   `json:"source_root"`
	DocsRoot      string   `json:"docs_root,omitempty"`
	TestRoots     []string `json:"test_roots"`
	SummariesRoot string   `json:"summaries_root,omitempty"`
}

// HasTests reports whether any test root is declared.
func (p ProjectStructure) HasTests() bool { return len(p.TestRoots) > 0 }

// TestConfig is detected once per repository and persisted in the snapshot.
type TestConfig struct {
	Framework   string   `json:"framework"`
	Command     string   `json:"command"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// Snapshot is the persisted cross-run state, written to
// <repo>/.iterflow/structure.json (read-modify-write, single writer).
type Snapshot struct {
	Structure ProjectStructure `json:"structure"`
	Tests     *TestConfig      `json:"tests,omitempty"`
}

// DiffModification is one partial, diff-shaped change to a file. Multiple
// modifications targeting the same path are aggregated in production order
// before integration.
type DiffModification struct {
	Path        string `json:"path"`
	ContentDiff string `json:"content_diff"`
}

// GroupedFailure is one root-cause group from test-output analysis. Fields
// tolerate both scalar and list shapes (collaborators emit either).
type GroupedFailure struct {
	FilePath         collab.Scalar     `json:"file_path"`
	AffectedCallable collab.Scalar     `json:"affected_callable"`
	Errors           collab.StringList `json:"error"`
	Tracebacks       collab.StringList `json:"traceback"`
}

// InvolvedFiles extends a failure group with the files to read for context.
type InvolvedFiles struct {
	FilePaths         collab.StringList `json:"file_path"`
	AffectedCallables collab.StringList `json:"affected_callable"`
	Errors            collab.StringList `json:"error"`
	Tracebacks        collab.StringList `json:"traceback"`
	InvolvedFiles     []string          `json:"involved_files"`
	ID                int               `json:"id"`
}

// BugFinding is one bug identified by analysis; Points selects the fixer tier.
type BugFinding struct {
	FilePaths         []string `json:"file_paths"`
	AffectedCallables []string `json:"affected_callables"`
	Points            int      `json:"points"`
	Description       string   `json:"description"`
	Fix               string   `json:"fix"`
	ID                int      `json:"id"`
}

// TestResult is the outcome of one test-suite execution. A subprocess timeout
// surfaces as a failing result with ExitCode == TimeoutExitCode, never as an
// error.
type TestResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	TimedOut bool   `json:"timed_out"`
}

// TimeoutExitCode marks a test run killed by the subprocess timeout.
const TimeoutExitCode = -1

// Passing reports whether the run succeeded.
func (r TestResult) Passing() bool { return r.ExitCode == 0 }
