// Package scan enumerates the files the pipeline reasons about: candidate
// files for structure inference, source files for summary sync, and their
// grouping into modules (one module per directory).
package scan

import (
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"iterflow/internal/safeio"
)

// SourceSpec describes what counts as source, docs, and noise for one target
// language. The iteration engine itself is language-agnostic; the SourceSpec is
// plumbed from configuration.
type SourceSpec struct {
	// SourceExts are lowercased extensions of source files (".py").
	SourceExts []string
	// DocPatterns are doublestar patterns for documentation candidates.
	DocPatterns []string
	// PackageMarkers are basenames excluded from summary generation
	// ("__init__.py").
	PackageMarkers []string
	// IgnoreDirs are directory basenames skipped everywhere.
	IgnoreDirs []string
}

// PythonSpec is the default target: Python sources with Markdown/reST docs.
func PythonSpec() SourceSpec {
	return SourceSpec{
		SourceExts:     []string{".py"},
		DocPatterns:    []string{"**/*.md", "**/*.rst"},
		PackageMarkers: []string{"__init__.py"},
		IgnoreDirs: []string{
			".git", ".hg", ".svn", "node_modules", "vendor", "venv", ".venv",
			"__pycache__", ".cache", ".iterflow", "build", "dist", ".pytest_cache",
		},
	}
}

// SourcePatterns returns doublestar patterns matching the source extensions.
func (sp SourceSpec) SourcePatterns() []string {
	out := make([]string, 0, len(sp.SourceExts))
	for _, ext := range sp.SourceExts {
		out = append(out, "**/*"+ext)
	}
	return out
}

// IsSource reports whether a path has a source extension.
func (sp SourceSpec) IsSource(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range sp.SourceExts {
		if ext == e {
			return true
		}
	}
	return false
}

// IsPackageMarker reports whether the basename is a package marker.
func (sp SourceSpec) IsPackageMarker(p string) bool {
	base := path.Base(p)
	for _, m := range sp.PackageMarkers {
		if base == m {
			return true
		}
	}
	return false
}

func (sp SourceSpec) ignored(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		for _, dir := range sp.IgnoreDirs {
			if seg == dir {
				return true
			}
		}
	}
	return false
}

// Candidates globs source and doc files under the repo root for structure
// inference. Paths are repo-relative, forward-slash, sorted.
func Candidates(fsys *safeio.SafeFS, spec SourceSpec) ([]string, error) {
	seen := map[string]struct{}{}
	patterns := append(spec.SourcePatterns(), spec.DocPatterns...)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if spec.ignored(m) {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// SourceFiles walks sourceRoot (repo-relative; "." for the repo itself) and
// returns source files relative to sourceRoot, excluding package markers.
func SourceFiles(fsys *safeio.SafeFS, sourceRoot string, spec SourceSpec) ([]string, error) {
	root := path.Clean(strings.TrimPrefix(sourceRoot, "./"))
	if root == "" {
		root = "."
	}
	var out []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			for _, dir := range spec.IgnoreDirs {
				if path.Base(p) == dir {
					return fs.SkipDir
				}
			}
			return nil
		}
		if !spec.IsSource(p) || spec.IsPackageMarker(p) {
			return nil
		}
		rel := p
		if root != "." {
			rel = strings.TrimPrefix(p, root+"/")
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Modules groups source-root-relative files by their immediate parent
// directory. The root module is keyed ".".
func Modules(files []string) map[string][]string {
	out := map[string][]string{}
	for _, f := range files {
		dir := path.Dir(f)
		out[dir] = append(out[dir], f)
	}
	for dir := range out {
		sort.Strings(out[dir])
	}
	return out
}

// ModuleDirs returns the module keys of files in ascending order.
func ModuleDirs(files []string) []string {
	mods := Modules(files)
	dirs := make([]string, 0, len(mods))
	for d := range mods {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}
