package safeio

import (
	"os"
	"path/filepath"
	"testing"
)

func newFS(t *testing.T) *SafeFS {
	t.Helper()
	fsys, err := NewSafeFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fsys
}

func TestWriteReadRoundTrip(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.WriteFile("pkg/a.py", []byte("x = 1\n")); err != nil {
		t.Fatal(err)
	}
	b, err := fsys.ReadFile("pkg/a.py")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "x = 1\n" {
		t.Fatalf("got=%q", b)
	}
}

func TestTraversalRejected(t *testing.T) {
	fsys := newFS(t)
	for _, rel := range []string{"../escape.txt", "..", "a/../../b"} {
		if err := fsys.WriteFile(rel, []byte("x")); err == nil {
			t.Fatalf("WriteFile(%q) should have been rejected", rel)
		}
		if _, err := fsys.ReadFile(rel); err == nil {
			t.Fatalf("ReadFile(%q) should have been rejected", rel)
		}
	}
}

func TestAbsolutePathOutsideRootRejected(t *testing.T) {
	fsys := newFS(t)
	outside := filepath.Join(os.TempDir(), "elsewhere.txt")
	if err := fsys.WriteFile(outside, []byte("x")); err == nil {
		t.Fatalf("absolute path outside root should have been rejected")
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	fsys, err := NewSafeFS(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile("link/escape.txt", []byte("x")); err == nil {
		t.Fatal("write through escaping symlink should have been rejected")
	}
}

func TestRemoveFileTolerant(t *testing.T) {
	fsys := newFS(t)
	removed, err := fsys.RemoveFile("missing.py")
	if err != nil || removed {
		t.Fatalf("removed=%v err=%v, want false,nil", removed, err)
	}
	if err := fsys.WriteFile("present.py", []byte("x\n")); err != nil {
		t.Fatal(err)
	}
	removed, err = fsys.RemoveFile("present.py")
	if err != nil || !removed {
		t.Fatalf("removed=%v err=%v, want true,nil", removed, err)
	}
}

func TestRenameRefusesOverwrite(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.WriteFile("a.py", []byte("a\n")); err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile("b.py", []byte("b\n")); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Rename("a.py", "b.py"); err == nil {
		t.Fatal("rename over existing destination should fail")
	}
	if err := fsys.Rename("a.py", "sub/c.py"); err != nil {
		t.Fatal(err)
	}
	if fsys.Exists("a.py") || !fsys.Exists("sub/c.py") {
		t.Fatal("rename did not move the file")
	}
}

func TestRemoveDirRecursive(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.WriteFile("pkg/sub/a.py", []byte("x\n")); err != nil {
		t.Fatal(err)
	}
	removed, err := fsys.RemoveDir("pkg")
	if err != nil || !removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	if fsys.Exists("pkg") {
		t.Fatal("directory still present")
	}
	removed, err = fsys.RemoveDir("pkg")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v, want false,nil", removed, err)
	}
}

func TestOpenServesDirectoriesForWalking(t *testing.T) {
	fsys := newFS(t)
	if err := fsys.WriteFile("pkg/a.py", nil); err != nil {
		t.Fatal(err)
	}
	f, err := fsys.Open("pkg")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.IsDir() {
		t.Fatalf("info=%v err=%v", info, err)
	}
}
