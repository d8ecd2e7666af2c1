// Package safeio confines all filesystem access to a fixed root directory.
// Read helpers resolve symlinks before the prefix check; write helpers refuse
// any path that would land outside the root. Escaping the root is always an
// error, never a silent clamp.
package safeio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SafeFS resolves paths relative to a fixed root.
type SafeFS struct {
	absRoot string // absolute root with symlinks resolved
}

// NewSafeFS locks all future operations to the given root directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &SafeFS{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this SafeFS.
func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// ReadFile reads a file relative to the root.
func (s *SafeFS) ReadFile(rel string) ([]byte, error) {
	p, err := s.resolveRead(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("safeio: path is a directory")
	}
	return os.ReadFile(p)
}

// Stat returns metadata for a file or directory under the root.
func (s *SafeFS) Stat(rel string) (fs.FileInfo, error) {
	p, err := s.resolveRead(rel)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// Exists reports whether the path exists under the root.
func (s *SafeFS) Exists(rel string) bool {
	_, err := s.Stat(rel)
	return err == nil
}

// IsDir reports whether the path exists and is a directory.
func (s *SafeFS) IsDir(rel string) bool {
	info, err := s.Stat(rel)
	return err == nil && info.IsDir()
}

// ReadDir lists entries for a directory relative to the root.
func (s *SafeFS) ReadDir(rel string) ([]fs.DirEntry, error) {
	dir, err := s.resolveRead(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(dir)
}

// Open implements fs.FS (names use "/" separators). Directories open too so
// glob matching over the tree works.
func (s *SafeFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	p, err := s.resolveRead(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// WriteFile writes data to a file under the root, creating parents. Writes
// are whole-content: the full artifact is written in one call.
func (s *SafeFS) WriteFile(rel string, data []byte) error {
	p, err := s.resolveWrite(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// CreateFile creates or truncates an empty file, creating parents. Refuses a
// path that is an existing directory.
func (s *SafeFS) CreateFile(rel string) error {
	p, err := s.resolveWrite(rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return fmt.Errorf("safeio: path is a directory, not a file: %s", rel)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, nil, 0o644)
}

// MkdirAll ensures a directory (and parents) exists. Refuses a path that is
// an existing file.
func (s *SafeFS) MkdirAll(rel string) error {
	p, err := s.resolveWrite(rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return fmt.Errorf("safeio: path is a file, not a directory: %s", rel)
	}
	return os.MkdirAll(p, 0o755)
}

// RemoveFile deletes a file if present. Reports whether anything was removed.
// Refuses directories.
func (s *SafeFS) RemoveFile(rel string) (bool, error) {
	p, err := s.resolveWrite(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("safeio: path is a directory, not a file: %s", rel)
	}
	return true, os.Remove(p)
}

// RemoveDir recursively deletes a directory if present. Refuses files.
// Deletion is irreversible; there is no trash.
func (s *SafeFS) RemoveDir(rel string) (bool, error) {
	p, err := s.resolveWrite(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("safeio: path is a file, not a directory: %s", rel)
	}
	return true, os.RemoveAll(p)
}

// Rename moves oldRel to newRel within the root, creating destination
// parents. Refuses to overwrite an existing destination.
func (s *SafeFS) Rename(oldRel, newRel string) error {
	src, err := s.resolveWrite(oldRel)
	if err != nil {
		return err
	}
	dst, err := s.resolveWrite(newRel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("safeio: destination already exists: %s", newRel)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// CopyFile copies srcRel to dstRel within the root, creating destination
// parents. Refuses directories and existing destinations.
func (s *SafeFS) CopyFile(srcRel, dstRel string) error {
	src, err := s.resolveWrite(srcRel)
	if err != nil {
		return err
	}
	dst, err := s.resolveWrite(dstRel)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("safeio: source is a directory, not a file: %s", srcRel)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("safeio: destination already exists: %s", dstRel)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// resolveRead resolves an existing path, following symlinks, and verifies it
// stays under the root.
func (s *SafeFS) resolveRead(rel string) (string, error) {
	joined, err := s.join(rel)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !hasPathPrefix(resolved, s.absRoot) {
		return "", fmt.Errorf("safeio: resolved outside root (root=%s, path=%s)", s.absRoot, resolved)
	}
	return resolved, nil
}

// resolveWrite resolves a possibly-nonexistent target path. The deepest
// existing ancestor is symlink-resolved and checked, then the remaining
// lexical suffix is re-applied.
func (s *SafeFS) resolveWrite(rel string) (string, error) {
	joined, err := s.join(rel)
	if err != nil {
		return "", err
	}
	anchor := joined
	var tail []string
	for {
		if _, err := os.Stat(anchor); err == nil {
			break
		}
		parent := filepath.Dir(anchor)
		if parent == anchor {
			break
		}
		tail = append([]string{filepath.Base(anchor)}, tail...)
		anchor = parent
	}
	resolved, err := filepath.EvalSymlinks(anchor)
	if err != nil {
		return "", err
	}
	full := filepath.Join(append([]string{resolved}, tail...)...)
	if !hasPathPrefix(full, s.absRoot) {
		return "", fmt.Errorf("safeio: write outside root (root=%s, path=%s)", s.absRoot, full)
	}
	return full, nil
}

func (s *SafeFS) join(rel string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if rel == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." {
		return s.absRoot, nil
	}
	if filepath.IsAbs(clean) || (runtime.GOOS == "windows" && filepath.VolumeName(clean) != "") {
		if !hasPathPrefix(clean, s.absRoot) {
			return "", fmt.Errorf("safeio: absolute path outside root: %s", rel)
		}
		return clean, nil
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("safeio: path traversal not allowed")
	}
	return filepath.Join(s.absRoot, clean), nil
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if root == "" || path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
