// Package plan turns a free-text change request into an ordered, typed
// action plan. Cost is controlled by a three-phase funnel: relevance over
// module summaries, then summary-vs-code triage per file, and only then one
// planning call carrying full code for the files that need it.
package plan

import (
	"context"
	"fmt"
	"log"
	"path"

	"iterflow/internal/collab"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/summary"
	"iterflow/internal/types"
)

const relevantFilesSchema = `[str]`

const relevantFilesPrompt = `You are a software architect triaging a change request.
Given the user's request and one summary per module, list the source files
plausibly involved in the change.

Return STRICT JSON ONLY: ["<source-root-relative path>", ...]
Return [] when no module is relevant.`

const fileDetailSchema = `{"summaries_only": [str], "need_code": [str]}`

const fileDetailPrompt = `You are a software architect scoping a change request.
For each candidate file (given with its summary), decide whether the summary
alone is enough context to plan the change, or whether the full code is needed.

Return STRICT JSON ONLY: {"summaries_only": [str], "need_code": [str]}`

const actionPlanSchema = `[{"step": int, "title": str, "description": str, "artifacts": [str], "type": str, "points": int}]`

const actionPlanPrompt = `You are a lead engineer decomposing a change request into an action plan.
Allowed step types: "Create new file", "Create new directory", "Delete file",
"Delete directory", "Rename file", "Move file", "Copy file", "Modify code".
Each step carries "points" (1=junior, 2=senior, 3=lead complexity). Steps
execute strictly in the order you emit them. Paths are source-root-relative.

Return STRICT JSON ONLY:
[{"step": int, "title": str, "description": str, "artifacts": [str], "type": str, "points": int}]
Return [] when the request requires no change.`

// Planner produces the action plan for one change request.
type Planner struct {
	Caller     *collab.Caller
	Store      *summary.Store
	FS         *safeio.SafeFS
	Spec       scan.SourceSpec
	SourceRoot string
}

// Plan runs the funnel. Every phase tolerates an empty upstream result; an
// empty plan is a legitimate outcome for a no-op request.
func (p *Planner) Plan(ctx context.Context, userPrompt string) ([]types.ActionStep, error) {
	moduleSummaries, err := p.Store.ModuleSummaries()
	if err != nil {
		return nil, fmt.Errorf("plan: read module summaries: %w", err)
	}

	var relevant []string
	if err := p.Caller.Call(ctx, "relevant_files", relevantFilesPrompt, map[string]any{
		"user_prompt":      userPrompt,
		"module_summaries": moduleSummaries,
	}, relevantFilesSchema, &relevant); err != nil {
		return nil, err
	}

	fileSummaries := map[string]string{}
	for _, f := range relevant {
		if content, ok := p.Store.FileSummary(f); ok {
			fileSummaries[f] = content
		}
	}

	var detail struct {
		SummariesOnly []string `json:"summaries_only"`
		NeedCode      []string `json:"need_code"`
	}
	if err := p.Caller.Call(ctx, "file_detail", fileDetailPrompt, map[string]any{
		"user_prompt":    userPrompt,
		"file_summaries": fileSummaries,
	}, fileDetailSchema, &detail); err != nil {
		return nil, err
	}

	summariesOnly := map[string]string{}
	for _, f := range detail.SummariesOnly {
		if content, ok := fileSummaries[f]; ok {
			summariesOnly[f] = content
		}
	}
	code := map[string]string{}
	for _, f := range detail.NeedCode {
		b, err := p.FS.ReadFile(path.Join(p.SourceRoot, f))
		if err != nil {
			log.Printf("plan: skip unreadable %s: %v", f, err)
			continue
		}
		code[f] = string(b)
	}

	listing, err := scan.SourceFiles(p.FS, p.SourceRoot, p.Spec)
	if err != nil {
		return nil, err
	}

	var steps []types.ActionStep
	if err := p.Caller.Call(ctx, "action_plan", actionPlanPrompt, map[string]any{
		"user_prompt": userPrompt,
		"summaries":   summariesOnly,
		"code":        code,
		"files":       listing,
	}, actionPlanSchema, &steps); err != nil {
		return nil, err
	}
	log.Printf("plan: %d steps for request", len(steps))
	return steps, nil
}
