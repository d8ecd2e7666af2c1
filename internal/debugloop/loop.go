// Package debugloop runs the configured test suite and, while it fails,
// drives a bounded analyze-fix-retest cycle: group the failures, collect the
// involved files, diagnose, and route each fix to a collaborator tier matching
// its complexity. The final execution is always a confirmation run with no fix
// round behind it.
package debugloop

import (
	"context"
	"encoding/json"
	"log"
	"path"
	"strings"

	"iterflow/internal/collab"
	"iterflow/internal/diffmerge"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/summary"
	"iterflow/internal/types"
)

// DefaultMaxAttempts is the default cap on total test executions per loop.
const DefaultMaxAttempts = 2

// TestRunner executes one test command.
type TestRunner interface {
	Run(ctx context.Context, command string) (types.TestResult, error)
}

const failuresSchema = `[{"file_path": str, "affected_callable": str, "error": [str], "traceback": [str]}]`

const failuresPrompt = `You are a senior engineer triaging a failed test run.
Group the raw test output into distinct root causes. Collapse repeated
failures of the same cause into one group.

Return STRICT JSON ONLY:
[{"file_path": "<file>", "affected_callable": "<function or class>", "error": ["<message>"], "traceback": ["<relevant traceback>"]}]
Return [] when the output shows nothing actionable.`

const involvedSchema = `[{"file_path": [str], "affected_callable": [str], "error": [str], "traceback": [str], "involved_files": [str], "id": int}]`

const involvedPrompt = `You are a senior engineer scoping a bug investigation.
For each failure group, list the source files (from the provided listing) that
must be read to understand and fix it. Keep the group's fields and add
"involved_files" and a stable integer "id".

Return STRICT JSON ONLY:
[{"file_path": [str], "affected_callable": [str], "error": [str], "traceback": [str], "involved_files": ["<source-root-relative path>"], "id": int}]`

const findingsSchema = `[{"file_paths": [str], "affected_callables": [str], "points": int, "description": str, "fix": str, "id": int}]`

const findingsPrompt = `You are a lead engineer diagnosing test failures.
Given the failure groups and the content of the involved files, identify the
underlying bugs. Score each with "points": 1 for a trivial fix, 2 for a
substantial one, 3 for a cross-cutting or subtle one.

Return STRICT JSON ONLY:
[{"file_paths": [str], "affected_callables": [str], "points": int, "description": str, "fix": str, "id": int}]
Return [] when no code-level bug can be identified.`

const fixerSchema = `[{"path": str, "content_diff": str}]`

const fixerPrompt = `You are a software engineer implementing a reviewed bug fix.
The input carries the finding, the grouped failures it came from, the raw test
output, and the involved code. Produce the code changes for the finding as
diff-shaped modifications: each entry names one file and the partial change to
apply to it. Touch only what the fix requires.

Return STRICT JSON ONLY: [{"path": "<source-root-relative path>", "content_diff": "<change>"}]`

// Loop owns one debug cycle over a repository.
type Loop struct {
	Caller     *collab.Caller
	FS         *safeio.SafeFS
	Runner     TestRunner
	Integrator *diffmerge.Integrator
	Store      *summary.Store
	Spec       scan.SourceSpec
	SourceRoot string
	// MaxAttempts caps TOTAL test executions. With the default of 2 the loop
	// runs the suite, fixes once, and re-runs to confirm.
	MaxAttempts int
}

// Report summarizes one loop.
type Report struct {
	Runs      int
	FixRounds int
	Findings  int
	Final     types.TestResult
}

// Run executes the loop for the given test command. A passing suite returns
// immediately; an exhausted attempt budget returns the last failing result
// without error, since a still-failing suite is an outcome, not a fault.
func (l *Loop) Run(ctx context.Context, command string) (Report, error) {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	var rep Report
	for rep.Runs < attempts {
		res, err := l.Runner.Run(ctx, command)
		if err != nil {
			return rep, err
		}
		rep.Runs++
		rep.Final = res
		if res.Passing() {
			log.Printf("debugloop: suite passing after %d run(s)", rep.Runs)
			return rep, nil
		}
		if rep.Runs >= attempts {
			break
		}
		fixed, findings, err := l.fixRound(ctx, res)
		if err != nil {
			return rep, err
		}
		rep.Findings += findings
		if !fixed {
			log.Printf("debugloop: nothing actionable in failing output, stopping early")
			return rep, nil
		}
		rep.FixRounds++
	}
	log.Printf("debugloop: suite still failing after %d run(s), %d fix round(s)", rep.Runs, rep.FixRounds)
	return rep, nil
}

// fixRound analyzes one failing result and applies fixes. It reports whether
// any change was made; false means the loop should stop retrying.
func (l *Loop) fixRound(ctx context.Context, res types.TestResult) (bool, int, error) {
	var groups []types.GroupedFailure
	if err := l.Caller.Call(ctx, "pytest_output_analysis", failuresPrompt, map[string]any{
		"command":   res.Command,
		"exit_code": res.ExitCode,
		"output":    res.Output,
	}, failuresSchema, &groups); err != nil {
		return false, 0, err
	}
	if !somethingToFix(groups) {
		return false, 0, nil
	}

	listing, err := scan.SourceFiles(l.FS, l.SourceRoot, l.Spec)
	if err != nil {
		return false, 0, err
	}
	var involved []types.InvolvedFiles
	if err := l.Caller.Call(ctx, "analyze_involved_files", involvedPrompt, map[string]any{
		"failures": groups,
		"files":    listing,
	}, involvedSchema, &involved); err != nil {
		return false, 0, err
	}

	code := map[string]string{}
	for _, group := range involved {
		for _, f := range group.InvolvedFiles {
			if _, ok := code[f]; ok {
				continue
			}
			b, err := l.FS.ReadFile(path.Join(l.SourceRoot, f))
			if err != nil {
				log.Printf("debugloop: skip unreadable %s: %v", f, err)
				continue
			}
			code[f] = string(b)
		}
	}

	var findings []types.BugFinding
	if err := l.Caller.Call(ctx, "bug_analysis", findingsPrompt, map[string]any{
		"failures": involved,
		"code":     code,
	}, findingsSchema, &findings); err != nil {
		return false, 0, err
	}
	if len(findings) == 0 {
		return false, 0, nil
	}

	changes := diffmerge.NewChanges()
	for _, finding := range findings {
		tier := collab.TierForPoints(finding.Points)
		var mods []types.DiffModification
		if err := l.Caller.CallTier(ctx, tier, "bug_fixer", fixerPrompt, map[string]any{
			"finding":  finding,
			"failures": involved,
			"output":   res.Output,
			"code":     subset(code, finding.FilePaths),
		}, fixerSchema, &mods); err != nil {
			return false, len(findings), err
		}
		changes.Add(mods...)
	}
	if changes.Len() == 0 {
		return false, len(findings), nil
	}

	for _, rel := range changes.Paths() {
		merged, err := l.Integrator.MergeFile(ctx, rel, changes.For(rel))
		if err != nil {
			return false, len(findings), err
		}
		if l.Store != nil && merged != "" {
			if err := l.Store.RegenerateFile(ctx, rel, merged); err != nil {
				return false, len(findings), err
			}
		}
	}
	if l.Store != nil {
		if err := l.Store.RegenerateModules(ctx); err != nil {
			return false, len(findings), err
		}
	}
	return true, len(findings), nil
}

// somethingToFix gates the fix round on the analysis result: the serialized
// groups must be non-trivial and actually describe errors.
func somethingToFix(groups []types.GroupedFailure) bool {
	if len(groups) == 0 {
		return false
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return false
	}
	s := string(b)
	return len(s) > 2 &&
		strings.Contains(s, "{") &&
		strings.Contains(s, "}") &&
		strings.Contains(strings.ToLower(s), "error")
}

func subset(code map[string]string, paths []string) map[string]string {
	if len(paths) == 0 {
		return code
	}
	out := map[string]string{}
	for _, p := range paths {
		if c, ok := code[p]; ok {
			out[p] = c
		}
	}
	if len(out) == 0 {
		return code
	}
	return out
}
