// Package diffmerge accumulates content diffs per file across plan steps and
// folds them into the file in a single integration pass, so a file touched by
// five steps costs one write and one collaborator call instead of five.
package diffmerge

import (
	"context"
	"fmt"
	"log"
	"path"

	"iterflow/internal/collab"
	"iterflow/internal/safeio"
	"iterflow/internal/sanitize"
	"iterflow/internal/types"
)

// Changes collects modifications keyed by target path. Iteration order is
// first-seen order of each path, matching the order steps touched the files.
type Changes struct {
	order []string
	byPath map[string][]types.DiffModification
}

func NewChanges() *Changes {
	return &Changes{byPath: map[string][]types.DiffModification{}}
}

// Add appends a modification under its path. Modifications with an empty path
// are dropped: there is nothing to integrate them into.
func (c *Changes) Add(mods ...types.DiffModification) {
	for _, m := range mods {
		if m.Path == "" {
			continue
		}
		if _, ok := c.byPath[m.Path]; !ok {
			c.order = append(c.order, m.Path)
		}
		c.byPath[m.Path] = append(c.byPath[m.Path], m)
	}
}

// Paths returns the touched paths in first-seen order.
func (c *Changes) Paths() []string { return c.order }

// For returns the accumulated modifications for one path, in arrival order.
func (c *Changes) For(p string) []types.DiffModification { return c.byPath[p] }

func (c *Changes) Len() int { return len(c.order) }

const diffApplySchema = `{"path": str, "content": str}`

const diffApplyPrompt = `You are a senior software engineer applying queued changes to one file.
The input holds the file's current content ("" for a new file) and an ordered
list of content diffs. Apply every diff, in order, and return the COMPLETE
resulting file. Do not drop unrelated parts of the original; do not wrap the
result in markdown fences.

Return STRICT JSON ONLY: {"path": "<same path>", "content": "<full file content>"}`

// Integrator merges accumulated diffs into source files. Paths are
// source-root-relative; reads and writes go through the repo-rooted fs.
type Integrator struct {
	Caller     *collab.Caller
	FS         *safeio.SafeFS
	SourceRoot string
}

// MergeFile applies the modifications queued for one file and writes the
// result. The original is read once; a missing file integrates against the
// empty string. The merged content is returned for summary regeneration.
func (ig *Integrator) MergeFile(ctx context.Context, rel string, mods []types.DiffModification) (string, error) {
	if len(mods) == 0 {
		return "", nil
	}
	full := path.Join(ig.SourceRoot, rel)
	original := ""
	if b, err := ig.FS.ReadFile(full); err == nil {
		original = string(b)
	}

	diffs := make([]string, 0, len(mods))
	for _, m := range mods {
		diffs = append(diffs, m.ContentDiff)
	}

	var out struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := ig.Caller.Call(ctx, "diff_apply", diffApplyPrompt, map[string]any{
		"path":     rel,
		"original": original,
		"diffs":    diffs,
	}, diffApplySchema, &out); err != nil {
		return "", fmt.Errorf("diffmerge: %s: %w", rel, err)
	}
	merged := sanitize.Content(out.Content)
	if merged == "" {
		return "", fmt.Errorf("diffmerge: %s: integration produced empty content", rel)
	}
	if err := ig.FS.WriteFile(full, []byte(merged)); err != nil {
		return "", err
	}
	log.Printf("diffmerge: %s: applied %d queued diffs", rel, len(mods))
	return merged, nil
}
