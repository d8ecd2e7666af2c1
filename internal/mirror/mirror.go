// Package mirror replicates source-tree filesystem changes into a parallel
// tree (summaries or tests) at the structurally-corresponding path. Mirror
// operations are best-effort: absence of the mirrored artifact is tolerated,
// and failures come back as a Result the caller logs and continues past.
package mirror

import (
	"path"
	"strings"

	"iterflow/internal/safeio"
)

type Op string

const (
	OpCreateFile Op = "create file"
	OpCreateDir  Op = "create dir"
	OpDeleteFile Op = "delete file"
	OpDeleteDir  Op = "delete dir"
	OpRename     Op = "rename"
	OpMove       Op = "move"
	OpCopy       Op = "copy"
)

// Result reports one mirrored operation. Applied is false when the operation
// was a tolerated no-op (nothing to mirror).
type Result struct {
	Op      Op
	Path    string
	Dest    string
	Applied bool
	Err     error
}

func (r Result) Ok() bool { return r.Err == nil }

// Tree maps source-root-relative paths into a parallel tree.
type Tree struct {
	FS   *safeio.SafeFS
	Root string // repo-relative root of the mirrored tree
	// Ext, when set, replaces the file extension (summaries use ".yaml").
	Ext string
	// Prefix, when set, is prepended to file basenames (tests use "test_").
	Prefix string
}

// PathFor returns the repo-relative mirrored path for a source file.
func (t *Tree) PathFor(rel string) string {
	dir, base := path.Split(path.Clean(rel))
	if t.Ext != "" {
		base = strings.TrimSuffix(base, path.Ext(base)) + t.Ext
	}
	if t.Prefix != "" && !strings.HasPrefix(base, t.Prefix) {
		base = t.Prefix + base
	}
	return path.Join(t.Root, dir, base)
}

// DirFor returns the repo-relative mirrored path for a source directory.
func (t *Tree) DirFor(rel string) string {
	return path.Join(t.Root, path.Clean(rel))
}

// CreateFile creates an empty mirrored artifact.
func (t *Tree) CreateFile(rel string) Result {
	p := t.PathFor(rel)
	if err := t.FS.CreateFile(p); err != nil {
		return Result{Op: OpCreateFile, Path: p, Err: err}
	}
	return Result{Op: OpCreateFile, Path: p, Applied: true}
}

// CreateDir creates the mirrored directory.
func (t *Tree) CreateDir(rel string) Result {
	p := t.DirFor(rel)
	if err := t.FS.MkdirAll(p); err != nil {
		return Result{Op: OpCreateDir, Path: p, Err: err}
	}
	return Result{Op: OpCreateDir, Path: p, Applied: true}
}

// DeleteFile removes the mirrored artifact if present.
func (t *Tree) DeleteFile(rel string) Result {
	p := t.PathFor(rel)
	removed, err := t.FS.RemoveFile(p)
	return Result{Op: OpDeleteFile, Path: p, Applied: removed, Err: err}
}

// DeleteDir removes the mirrored directory recursively if present.
func (t *Tree) DeleteDir(rel string) Result {
	p := t.DirFor(rel)
	removed, err := t.FS.RemoveDir(p)
	return Result{Op: OpDeleteDir, Path: p, Applied: removed, Err: err}
}

// Rename moves the mirrored artifact from old to new. When no artifact
// exists at the old path an empty placeholder is created at the new one, so
// the mirrored tree keeps matching the source tree's shape.
func (t *Tree) Rename(oldRel, newRel string) Result {
	return t.relocate(OpRename, oldRel, newRel, false)
}

// Move is Rename under a different plan-step name.
func (t *Tree) Move(oldRel, newRel string) Result {
	return t.relocate(OpMove, oldRel, newRel, false)
}

// Copy duplicates the mirrored artifact; a missing source yields an empty
// placeholder at the destination.
func (t *Tree) Copy(srcRel, dstRel string) Result {
	return t.relocate(OpCopy, srcRel, dstRel, true)
}

func (t *Tree) relocate(op Op, oldRel, newRel string, keepSrc bool) Result {
	src := t.PathFor(oldRel)
	dst := t.PathFor(newRel)
	res := Result{Op: op, Path: src, Dest: dst}
	if !t.FS.Exists(src) {
		if err := t.FS.CreateFile(dst); err != nil {
			res.Err = err
		}
		return res
	}
	var err error
	if keepSrc {
		err = t.FS.CopyFile(src, dst)
	} else {
		err = t.FS.Rename(src, dst)
	}
	if err != nil {
		res.Err = err
		return res
	}
	res.Applied = true
	return res
}
