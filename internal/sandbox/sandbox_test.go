package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupRoots(t *testing.T) (share, outside string) {
	t.Helper()
	base := t.TempDir()
	share = filepath.Join(base, "share")
	outside = filepath.Join(base, "outside")
	for _, dir := range []string{
		filepath.Join(share, "docs", "nested"),
		outside,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return share, outside
}

func TestIsAllowed(t *testing.T) {
	share, outside := setupRoots(t)
	sb, skipped := New([]string{share})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped roots: %v", skipped)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", share, true},
		{"direct child", filepath.Join(share, "docs"), true},
		{"nested child", filepath.Join(share, "docs", "nested"), true},
		{"missing file under root", filepath.Join(share, "docs", "new.txt"), true},
		{"missing nested dirs under root", filepath.Join(share, "a", "b", "c.txt"), true},
		{"dot-dot escape", filepath.Join(share, "docs", "..", "..", "outside"), false},
		{"raw dot-dot string", share + "/../outside/secret.txt", false},
		{"sibling with common prefix", share + "-other", false},
		{"outside dir", outside, false},
		{"filesystem root", "/", false},
		{"etc", "/etc", false},
		{"empty", "", false},
		{"nul byte", share + "/a\x00b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sb.IsAllowed(tt.path); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsAllowed_SymlinkEscape(t *testing.T) {
	share, outside := setupRoots(t)
	link := filepath.Join(share, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	sb, _ := New([]string{share})

	if sb.IsAllowed(link) {
		t.Error("symlink pointing outside the root should be rejected")
	}
	if sb.IsAllowed(filepath.Join(link, "secret.txt")) {
		t.Error("file reached through an escaping symlink should be rejected")
	}
	if sb.IsAllowed(filepath.Join(link, "new-upload.bin")) {
		t.Error("missing file below an escaping symlink should be rejected")
	}
}

func TestIsAllowed_SymlinkInside(t *testing.T) {
	share, _ := setupRoots(t)
	link := filepath.Join(share, "shortcut")
	if err := os.Symlink(filepath.Join(share, "docs"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	sb, _ := New([]string{share})

	if !sb.IsAllowed(filepath.Join(link, "nested")) {
		t.Error("symlink resolving inside the root should be allowed")
	}
}

func TestResolve(t *testing.T) {
	share, outside := setupRoots(t)
	sb, _ := New([]string{share})

	got, err := sb.Resolve(filepath.Join(share, "docs", ".", "nested", ".."))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := filepath.Join(share, "docs"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}

	_, err = sb.Resolve(outside)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestNew_SkipsInvalidRoots(t *testing.T) {
	share, outside := setupRoots(t)
	file := filepath.Join(outside, "secret.txt")
	missing := filepath.Join(outside, "missing")

	sb, skipped := New([]string{share, file, missing, "", share})
	if len(sb.Roots()) != 1 {
		t.Errorf("expected 1 root, got %v", sb.Roots())
	}
	if len(skipped) != 2 {
		t.Errorf("expected 2 skipped roots, got %v", skipped)
	}
	if sb.Roots()[0] != share {
		t.Errorf("expected root %s, got %s", share, sb.Roots()[0])
	}
}

func TestMultipleRoots(t *testing.T) {
	share, outside := setupRoots(t)
	sb, _ := New([]string{share, outside})

	if !sb.IsAllowed(filepath.Join(outside, "secret.txt")) {
		t.Error("path under second root should be allowed")
	}
	if !sb.IsAllowed(filepath.Join(share, "docs")) {
		t.Error("path under first root should be allowed")
	}
}
