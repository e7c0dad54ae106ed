// Package sandbox decides whether a server-side path lies inside one of the
// configured shared roots.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrForbidden is returned for any path outside every shared root. It never
// carries filesystem details.
var ErrForbidden = errors.New("access denied")

// Sandbox holds the shared roots. Roots are fixed after construction, so a
// Sandbox is safe for concurrent use without locking.
type Sandbox struct {
	roots    []string // cleaned absolute roots, as configured
	resolved []string // roots with symlinks resolved
}

// New builds a sandbox from the given roots. Roots that do not exist or are not
// directories are skipped; the skipped entries are returned so the caller can
// report them.
func New(roots []string) (*Sandbox, []string) {
	s := &Sandbox{}
	var skipped []string
	seen := make(map[string]bool)

	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			skipped = append(skipped, root)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			skipped = append(skipped, root)
			continue
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			skipped = append(skipped, root)
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		s.roots = append(s.roots, abs)
		s.resolved = append(s.resolved, real)
	}
	return s, skipped
}

// Roots returns the configured roots in configuration order.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// IsAllowed reports whether candidate is a shared root or lies below one.
func (s *Sandbox) IsAllowed(candidate string) bool {
	_, err := s.Resolve(candidate)
	return err == nil
}

// Resolve returns the cleaned absolute form of candidate if it is inside the
// sandbox, ErrForbidden otherwise.
//
// Containment is checked on the real path: symlinks in the existing part of the
// path are resolved, so a link pointing outside every root is rejected even when
// the link itself sits inside one.
func (s *Sandbox) Resolve(candidate string) (string, error) {
	if candidate == "" || strings.ContainsRune(candidate, 0) {
		return "", ErrForbidden
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", ErrForbidden
	}

	real, err := resolveExisting(abs)
	if err != nil {
		return "", ErrForbidden
	}

	for _, root := range s.resolved {
		if within(root, real) {
			return abs, nil
		}
	}
	return "", ErrForbidden
}

// within reports whether path equals base or is a descendant of it.
// Both arguments must be clean absolute paths.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// resolveExisting resolves symlinks in the deepest existing ancestor of path and
// appends the components that do not exist yet. Upload destinations usually
// have a missing tail.
func resolveExisting(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}

	current := path
	var remainder []string
	for {
		if _, err := os.Lstat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				// Dangling link or unreadable component.
				return "", err
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
