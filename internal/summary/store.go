// Package summary owns the per-file and per-module summary artifacts kept in
// sync with the source tree. File summaries are generated from code, batched
// per module; module summaries are generated exclusively from file summaries,
// never from raw source, which bounds the context of every module-level call.
package summary

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"iterflow/internal/collab"
	"iterflow/internal/safeio"
	"iterflow/internal/sanitize"
	"iterflow/internal/scan"
)

// SentinelName marks a directory's module summary inside the summaries tree.
const SentinelName = "_module.yaml"

// ArtifactExt is the extension of per-file summary artifacts.
const ArtifactExt = ".yaml"

// Artifact is the YAML document persisted per summary.
type Artifact struct {
	Path    string `yaml:"path"`
	Kind    string `yaml:"kind"` // "file" or "module"
	Content string `yaml:"content"`
}

// Store keeps the summaries tree under Root consistent with the source tree
// under SourceRoot. Both roots are repo-relative. Store is a single-writer
// structure; concurrent runs against one repository are the caller's problem.
type Store struct {
	FS         *safeio.SafeFS
	Caller     *collab.Caller
	Spec       scan.SourceSpec
	SourceRoot string
	Root       string
	// MaxChars bounds the accumulated source text per batched call.
	MaxChars int

	srcCache *lru.Cache[string, string]
	dirty    map[string]struct{} // source-root-relative module dirs
}

func NewStore(fsys *safeio.SafeFS, caller *collab.Caller, spec scan.SourceSpec, sourceRoot, root string, maxChars int) *Store {
	cache, _ := lru.New[string, string](512)
	if maxChars <= 0 {
		maxChars = 24000
	}
	return &Store{
		FS:         fsys,
		Caller:     caller,
		Spec:       spec,
		SourceRoot: sourceRoot,
		Root:       root,
		MaxChars:   maxChars,
		srcCache:   cache,
		dirty:      map[string]struct{}{},
	}
}

// PathFor maps a source-root-relative file to its repo-relative summary
// artifact path (same relative path, extension swapped).
func (s *Store) PathFor(rel string) string {
	base := strings.TrimSuffix(rel, path.Ext(rel)) + ArtifactExt
	return path.Join(s.Root, base)
}

// ModulePathFor maps a source-root-relative directory to its repo-relative
// sentinel path.
func (s *Store) ModulePathFor(dir string) string {
	return path.Join(s.Root, dir, SentinelName)
}

func (s *Store) srcPath(rel string) string {
	return path.Join(s.SourceRoot, rel)
}

// SyncStats reports what one Sync pass generated.
type SyncStats struct {
	FilesGenerated   int
	ModulesGenerated int
}

// Sync guarantees every source file has a current file summary and every
// module directory has a module summary, issuing the minimal number of
// collaborator calls: one batched call per module group of missing file
// summaries (split only past the char budget), one call per missing module
// summary. A second Sync with no source changes issues zero calls.
func (s *Store) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	files, err := scan.SourceFiles(s.FS, s.SourceRoot, s.Spec)
	if err != nil {
		return stats, fmt.Errorf("summary: enumerate source files: %w", err)
	}

	var missing []string
	for _, f := range files {
		if !s.FS.Exists(s.PathFor(f)) {
			missing = append(missing, f)
		}
	}

	if len(missing) > 0 {
		mods := scan.Modules(missing)
		dirs := make([]string, 0, len(mods))
		for d := range mods {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		for _, dir := range dirs {
			n, err := s.generateFileSummaries(ctx, mods[dir])
			if err != nil {
				return stats, err
			}
			stats.FilesGenerated += n
		}
	}

	for _, dir := range scan.ModuleDirs(files) {
		if s.FS.Exists(s.ModulePathFor(dir)) {
			continue
		}
		ok, err := s.generateModuleSummary(ctx, dir)
		if err != nil {
			return stats, err
		}
		if ok {
			stats.ModulesGenerated++
		}
	}
	return stats, nil
}

// generateFileSummaries issues batched calls for the given source files
// (all in one module), splitting a batch when it exceeds the char budget.
// Each returned summary is persisted immediately so a later failure in a
// sibling batch does not lose completed work.
func (s *Store) generateFileSummaries(ctx context.Context, files []string) (int, error) {
	written := 0
	chunk := map[string]string{}
	acc := 0
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := s.summarizeChunk(ctx, chunk)
		written += n
		chunk = map[string]string{}
		acc = 0
		return err
	}
	for _, rel := range files {
		content, err := s.readSource(rel)
		if err != nil {
			log.Printf("summary: skip unreadable %s: %v", rel, err)
			continue
		}
		chunk[rel] = content
		acc += len(content)
		if acc > s.MaxChars {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

type summaryItem struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

const summariesSchema = `[{"path": str, "content": str}]`

const fileSummariesPrompt = `You are a senior software engineer documenting a codebase.
For EACH file in the input mapping, write a concise technical summary: purpose,
public interface, notable invariants, and dependencies.

Return STRICT JSON ONLY:
[{"path": "<same path as the input key>", "content": "<markdown summary>"}]`

const moduleSummariesPrompt = `You are a senior software engineer documenting a codebase.
The input maps file paths of ONE module (directory) to their per-file summaries.
Write a single module-level summary: responsibility, how the files collaborate,
and the module's external surface. Do not ask for source code; summaries are
the only context.

Return STRICT JSON ONLY:
[{"path": "<module directory>", "content": "<markdown summary>"}]`

func (s *Store) summarizeChunk(ctx context.Context, chunk map[string]string) (int, error) {
	var items []summaryItem
	if err := s.Caller.Call(ctx, "file_summaries", fileSummariesPrompt,
		map[string]any{"files": chunk}, summariesSchema, &items); err != nil {
		return 0, err
	}
	written := 0
	for _, it := range items {
		if it.Path == "" {
			continue
		}
		if err := s.writeArtifact(s.PathFor(it.Path), Artifact{
			Path:    it.Path,
			Kind:    "file",
			Content: sanitize.Content(it.Content),
		}); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// generateModuleSummary builds one module summary from the on-disk file
// summaries of dir. A module with zero readable file summaries is skipped
// silently: nothing can be synthesized from nothing.
func (s *Store) generateModuleSummary(ctx context.Context, dir string) (bool, error) {
	summaries, err := s.fileSummariesIn(dir)
	if err != nil {
		return false, err
	}
	if len(summaries) == 0 {
		return false, nil
	}
	var items []summaryItem
	if err := s.Caller.Call(ctx, "module_summaries", moduleSummariesPrompt,
		map[string]any{"summaries": summaries}, summariesSchema, &items); err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}
	return true, s.writeArtifact(s.ModulePathFor(dir), Artifact{
		Path:    dir,
		Kind:    "module",
		Content: sanitize.Content(items[0].Content),
	})
}

// fileSummariesIn reads the persisted file summaries inside one mirrored
// module directory, keyed by the summarized source path. The sentinel itself
// is excluded. Input to module generation is built ONLY from these.
func (s *Store) fileSummariesIn(dir string) (map[string]string, error) {
	mirrored := path.Join(s.Root, dir)
	entries, err := s.FS.ReadDir(mirrored)
	if err != nil {
		return nil, nil // no mirrored dir yet: nothing to merge
	}
	out := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || e.Name() == SentinelName || !strings.HasSuffix(e.Name(), ArtifactExt) {
			continue
		}
		art, err := s.readArtifact(path.Join(mirrored, e.Name()))
		if err != nil {
			continue
		}
		key := art.Path
		if key == "" {
			key = path.Join(dir, e.Name())
		}
		out[key] = art.Content
	}
	return out, nil
}

// RegenerateFile replaces the file summary for one source file after its
// content changed, and marks its module dirty for a later module rebuild.
func (s *Store) RegenerateFile(ctx context.Context, rel, newContent string) error {
	if _, err := s.FS.RemoveFile(s.PathFor(rel)); err != nil {
		return err
	}
	s.srcCache.Add(s.srcPath(rel), newContent)
	if _, err := s.summarizeChunk(ctx, map[string]string{rel: newContent}); err != nil {
		return err
	}
	s.MarkDirty(path.Dir(rel))
	return nil
}

// MarkDirty records a source-root-relative module directory for rebuild.
func (s *Store) MarkDirty(dir string) {
	s.dirty[path.Clean(dir)] = struct{}{}
}

// DirtyDirs returns the pending module directories in ascending order.
func (s *Store) DirtyDirs() []string {
	dirs := make([]string, 0, len(s.dirty))
	for d := range s.dirty {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// RegenerateModules rebuilds every dirty module summary from the current
// on-disk file summaries, deleting the stale sentinel first. The dirty set is
// cleared on success.
func (s *Store) RegenerateModules(ctx context.Context) error {
	for _, dir := range s.DirtyDirs() {
		if _, err := s.FS.RemoveFile(s.ModulePathFor(dir)); err != nil {
			return err
		}
		if _, err := s.generateModuleSummary(ctx, dir); err != nil {
			return err
		}
		delete(s.dirty, dir)
	}
	return nil
}

// FileSummary returns the persisted summary content for a source file.
func (s *Store) FileSummary(rel string) (string, bool) {
	art, err := s.readArtifact(s.PathFor(rel))
	if err != nil {
		return "", false
	}
	return art.Content, true
}

// ModuleSummaries walks the summaries tree and returns every module summary
// keyed by module directory (source-root-relative).
func (s *Store) ModuleSummaries() (map[string]string, error) {
	out := map[string]string{}
	root := path.Clean(s.Root)
	err := fs.WalkDir(s.FS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != SentinelName {
			return nil
		}
		art, err := s.readArtifact(p)
		if err != nil {
			return nil
		}
		dir := path.Dir(strings.TrimPrefix(p, root+"/"))
		if p == path.Join(root, SentinelName) {
			dir = "."
		}
		out[dir] = art.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) readSource(rel string) (string, error) {
	key := s.srcPath(rel)
	if v, ok := s.srcCache.Get(key); ok {
		return v, nil
	}
	b, err := s.FS.ReadFile(key)
	if err != nil {
		return "", err
	}
	s.srcCache.Add(key, string(b))
	return string(b), nil
}

func (s *Store) readArtifact(repoRel string) (Artifact, error) {
	var art Artifact
	b, err := s.FS.ReadFile(repoRel)
	if err != nil {
		return art, err
	}
	if err := yaml.Unmarshal(b, &art); err != nil {
		return art, err
	}
	return art, nil
}

func (s *Store) writeArtifact(repoRel string, art Artifact) error {
	b, err := yaml.Marshal(art)
	if err != nil {
		return err
	}
	return s.FS.WriteFile(repoRel, b)
}
