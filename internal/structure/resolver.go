// Package structure resolves where a repository keeps its source, docs,
// tests, and summaries, and persists that knowledge so later runs skip
// re-discovery entirely.
package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"

	"iterflow/internal/collab"
	"iterflow/internal/safeio"
	"iterflow/internal/scan"
	"iterflow/internal/types"
)

const (
	// SnapshotDir is the hidden per-repository state directory.
	SnapshotDir = ".iterflow"
	// SnapshotFile holds the resolved structure plus test-framework metadata.
	SnapshotFile = SnapshotDir + "/structure.json"
	// DefaultSummariesRoot is used when discovery reports no summaries tree.
	DefaultSummariesRoot = SnapshotDir + "/summaries"
)

const structureSchema = `{
  "source_root": str,
  "docs_root": str|null,
  "test_roots": [str],
  "summaries_root": str|null
}`

const structurePrompt = `You are a build engineer mapping an unfamiliar repository.
Given the file listing, identify the repository layout.

Return STRICT JSON ONLY:
{
  "source_root": "<directory holding the primary source code, relative to the repo root>",
  "docs_root": "<documentation directory or null>",
  "test_roots": ["<test directories>"],
  "summaries_root": "<existing summaries directory or null>"
}

Constraints:
- Paths are repo-relative with forward slashes; use "." for the repo root itself.
- Only name directories that actually appear in the listing.`

// Resolver determines a repository's ProjectStructure, preferring the
// persisted snapshot over discovery. Snapshots are additionally cached
// in-process keyed by repository root.
type Resolver struct {
	Caller *collab.Caller
	Spec   scan.SourceSpec

	snapCache *lru.Cache[string, types.Snapshot]
}

func NewResolver(caller *collab.Caller, spec scan.SourceSpec) *Resolver {
	cache, _ := lru.New[string, types.Snapshot](32)
	return &Resolver{Caller: caller, Spec: spec, snapCache: cache}
}

// Resolve returns the repository's snapshot. The fast path (in-process cache,
// then snapshot file with a non-empty source root) issues no collaborator
// calls; otherwise candidate files are enumerated and the structure-inference
// collaborator decides. An unparseable result after the repair retry is
// fatal: there is no safe default source root.
func (r *Resolver) Resolve(ctx context.Context, fsys *safeio.SafeFS) (types.Snapshot, error) {
	if snap, ok := r.snapCache.Get(fsys.Root()); ok {
		return snap, nil
	}
	if snap, ok := r.loadSnapshot(fsys); ok && snap.Structure.SourceRoot != "" {
		r.snapCache.Add(fsys.Root(), snap)
		return snap, nil
	}

	candidates, err := scan.Candidates(fsys, r.Spec)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("structure: enumerate candidates: %w", err)
	}
	log.Printf("structure: inferring layout from %d candidate files", len(candidates))

	var st types.ProjectStructure
	if err := r.Caller.Call(ctx, "project_structure", structurePrompt,
		map[string]any{"files": candidates}, structureSchema, &st); err != nil {
		return types.Snapshot{}, fmt.Errorf("structure: %w", err)
	}
	if st.SourceRoot == "" || !fsys.IsDir(st.SourceRoot) {
		return types.Snapshot{}, fmt.Errorf("structure: resolved source root %q does not exist", st.SourceRoot)
	}
	if st.SummariesRoot == "" {
		st.SummariesRoot = DefaultSummariesRoot
	}
	if err := fsys.MkdirAll(st.SummariesRoot); err != nil {
		return types.Snapshot{}, err
	}

	snap := types.Snapshot{Structure: st}
	if err := r.Save(fsys, snap); err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}

// Save persists the snapshot and refreshes the in-process cache. Called after
// every structure-affecting plan step (read-modify-write, single writer).
func (r *Resolver) Save(fsys *safeio.SafeFS, snap types.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(SnapshotFile, b); err != nil {
		return err
	}
	r.snapCache.Add(fsys.Root(), snap)
	return nil
}

func (r *Resolver) loadSnapshot(fsys *safeio.SafeFS) (types.Snapshot, bool) {
	b, err := fsys.ReadFile(SnapshotFile)
	if err != nil {
		return types.Snapshot{}, false
	}
	var snap types.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		log.Printf("structure: ignoring corrupt snapshot: %v", err)
		return types.Snapshot{}, false
	}
	return snap, true
}
