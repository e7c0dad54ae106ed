// Package paths provides local destination path handling for downloads.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxRenameAttempts bounds the " (n)" search. Hitting it means something is
// badly wrong with the destination directory.
const maxRenameAttempts = 10000

// FileForDownload represents one requested item with its local destination.
type FileForDownload struct {
	RemotePath string // Server path
	Name       string // Last segment of RemotePath
	LocalPath  string // Full local destination path
	IsDir      bool
}

// SplitName splits a filename into base and extension for numbering.
// Archives keep their compound extension ("data.tar.gz" → "data", ".tar.gz").
// Dot files without another dot have no extension.
func SplitName(name string) (string, string) {
	lower := strings.ToLower(name)
	for _, compound := range []string{".tar.gz", ".tar.bz2", ".tar.xz"} {
		if strings.HasSuffix(lower, compound) && len(name) > len(compound) {
			return name[:len(name)-len(compound)], name[len(name)-len(compound):]
		}
	}
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return name[:len(name)-len(ext)], ext
}

// NumberedName returns "base (n)ext".
func NumberedName(name string, n int) string {
	base, ext := SplitName(name)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// UniquePath returns path unchanged if nothing exists there, otherwise the
// first "name (n).ext" sibling for which exists reports false. A nil exists
// checks the local filesystem.
func UniquePath(path string, exists func(string) bool) (string, error) {
	if exists == nil {
		exists = pathExists
	}
	if !exists(path) {
		return path, nil
	}
	dir, name := filepath.Split(path)
	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := filepath.Join(dir, NumberedName(name, n))
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", path, maxRenameAttempts)
}

func pathExists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// ResolveCollisions makes the LocalPaths of one request unique among each
// other. The first file keeps its path; later files with the same path are
// numbered "name (1).ext", "name (2).ext" in order. Paths already taken by
// another file in the list are skipped.
//
// Returns the modified list (same slice, modified in place) and the number of
// files that were renamed.
func ResolveCollisions(files []FileForDownload) ([]FileForDownload, int) {
	if len(files) == 0 {
		return files, 0
	}

	taken := make(map[string]bool, len(files))
	for _, f := range files {
		taken[f.LocalPath] = true
	}

	seen := make(map[string]bool, len(files))
	renamed := 0
	for i := range files {
		f := &files[i]
		if !seen[f.LocalPath] {
			seen[f.LocalPath] = true
			continue
		}
		dir, name := filepath.Split(f.LocalPath)
		for n := 1; ; n++ {
			candidate := filepath.Join(dir, NumberedName(name, n))
			if !taken[candidate] {
				f.LocalPath = candidate
				taken[candidate] = true
				seen[candidate] = true
				renamed++
				break
			}
		}
	}

	return files, renamed
}
