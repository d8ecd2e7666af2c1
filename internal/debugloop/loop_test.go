package debugloop

import (
	"context"
	"testing"

	"iterflow/internal/collab"
	"iterflow/internal/diffmerge"
	"iterflow/internal/llm"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/tester"
	"iterflow/internal/types"
)

// scriptedRunner returns canned results in order, repeating the last one, and
// counts executions.
type scriptedRunner struct {
	results []types.TestResult
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, command string) (types.TestResult, error) {
	res := r.results[min(r.calls, len(r.results)-1)]
	r.calls++
	res.Command = command
	return res, nil
}

func newLoop(t *testing.T, fake *llm.FakeClient, runner *scriptedRunner, maxAttempts int) *Loop {
	t.Helper()
	fsys, err := safeio.NewSafeFS(t.TempDir())
	tester.NoErr(t, err)
	tester.NoErr(t, fsys.WriteFile("src/a.py", []byte("broken = True\n")))
	caller := collab.NewSingle(fake)
	return &Loop{
		Caller:     caller,
		FS:         fsys,
		Runner:     runner,
		Integrator: &diffmerge.Integrator{Caller: caller, FS: fsys, SourceRoot: "src"},
		Spec:       scan.PythonSpec(),
		SourceRoot: "src",
		MaxAttempts: maxAttempts,
	}
}

func scriptFixRound(fake *llm.FakeClient) {
	fake.Script("pytest_output_analysis", `[{"file_path": "tests/test_a.py", "affected_callable": "test_a", "error": ["AssertionError"], "traceback": ["tb"]}]`).
		Script("analyze_involved_files", `[{"file_path": ["tests/test_a.py"], "error": ["AssertionError"], "involved_files": ["a.py"], "id": 1}]`).
		Script("bug_analysis", `[{"file_paths": ["a.py"], "points": 2, "description": "bug", "fix": "flip flag", "id": 1}]`).
		Script("bug_fixer", `[{"path": "a.py", "content_diff": "- broken = True\n+ broken = False"}]`).
		Script("diff_apply", `{"path": "a.py", "content": "broken = False"}`)
}

func TestPassingSuiteReturnsImmediately(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{{ExitCode: 0, Output: "ok"}}}
	fake := llm.NewFakeClient()
	loop := newLoop(t, fake, runner, 2)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.Eq(t, rep.Runs, 1)
	tester.Eq(t, rep.FixRounds, 0)
	tester.True(t, rep.Final.Passing())
	tester.Eq(t, len(fake.Calls()), 0, "no analysis for a green suite")
}

func TestBoundedRetry(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{{ExitCode: 1, Output: "FAILED"}}}
	fake := llm.NewFakeClient()
	scriptFixRound(fake)
	scriptFixRound(fake)
	loop := newLoop(t, fake, runner, 3)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.Eq(t, runner.calls, 3, "never more test executions than the cap")
	tester.Eq(t, rep.Runs, 3)
	tester.Eq(t, rep.FixRounds, 2, "no fix round after the final confirmation run")
	tester.False(t, rep.Final.Passing(), "last result surfaced even when failing")
}

func TestFixRoundRepairsThenConfirms(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{
		{ExitCode: 1, Output: "FAILED"},
		{ExitCode: 0, Output: "ok"},
	}}
	fake := llm.NewFakeClient()
	scriptFixRound(fake)
	loop := newLoop(t, fake, runner, 2)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.Eq(t, rep.Runs, 2)
	tester.Eq(t, rep.FixRounds, 1)
	tester.True(t, rep.Final.Passing())

	b, err := loop.FS.ReadFile("src/a.py")
	tester.NoErr(t, err)
	tester.Eq(t, string(b), "broken = False\n", "fix integrated before the confirmation run")

	fixes := fake.CallsFor("bug_fixer")
	tester.Eq(t, len(fixes), 1)
	input := fixes[0].Input.(map[string]any)
	tester.Eq(t, input["output"].(string), "FAILED", "fixer sees the raw test output")
	tester.Eq(t, len(input["failures"].([]types.InvolvedFiles)), 1, "fixer sees the grouped failures")
}

func TestNothingActionableStopsEarly(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{{ExitCode: 1, Output: "collection error"}}}
	fake := llm.NewFakeClient().Script("pytest_output_analysis", `[]`)
	loop := newLoop(t, fake, runner, 5)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.Eq(t, runner.calls, 1, "no retry when there is nothing to fix")
	tester.Eq(t, rep.FixRounds, 0)
	tester.Eq(t, len(fake.CallsFor("analyze_involved_files")), 0)
}

func TestZeroFindingsStopsEarly(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{{ExitCode: 1, Output: "FAILED"}}}
	fake := llm.NewFakeClient().
		Script("pytest_output_analysis", `[{"file_path": "t.py", "error": ["error"]}]`).
		Script("analyze_involved_files", `[{"involved_files": ["a.py"], "id": 1}]`).
		Script("bug_analysis", `[]`)
	loop := newLoop(t, fake, runner, 5)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.Eq(t, runner.calls, 1)
	tester.Eq(t, rep.FixRounds, 0)
	tester.Eq(t, len(fake.CallsFor("bug_fixer")), 0)
}

func TestTimeoutConsumesAnAttempt(t *testing.T) {
	runner := &scriptedRunner{results: []types.TestResult{
		{ExitCode: types.TimeoutExitCode, TimedOut: true, Output: "hung"},
	}}
	fake := llm.NewFakeClient().Script("pytest_output_analysis", `[]`)
	loop := newLoop(t, fake, runner, 2)

	rep, err := loop.Run(context.Background(), "pytest")
	tester.NoErr(t, err)
	tester.True(t, rep.Final.TimedOut, "timeout is a failing result, not an error")
	tester.Eq(t, rep.Runs, 1)
}
