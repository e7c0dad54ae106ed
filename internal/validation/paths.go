// Package validation provides input validation for names and paths received
// from peers.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrPathEscapes marks a relative path that would leave its base folder.
var ErrPathEscapes = errors.New("path escapes base folder")

// ValidateFilename validates a filename (not a full path) to prevent path traversal.
// Used for names received from the network before they reach filepath.Join.
//
// Returns an error if the filename:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %q", filename)
	}

	// Reject path separators (both Unix and Windows style)
	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}

	// Names like "data..v2.csv" are fine; only the bare dot names traverse.
	if filename == ".." || filename == "." {
		return fmt.Errorf("filename cannot be %q", filename)
	}

	return nil
}

// SanitizeFilename reduces an uploaded filename to a safe single path
// component. Directory parts are discarded, control characters removed and
// leading dots stripped so the result can never name a parent or hidden file.
// Non-ASCII letters are kept. Returns "" if nothing usable remains.
func SanitizeFilename(name string) string {
	// Browsers on Windows may send the full client path.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == 0 || unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	out = strings.TrimLeft(out, ". ")
	out = strings.TrimRight(out, ". ")
	return out
}

// ASCIIFilename returns an ASCII-only rendition of name for the plain
// filename parameter of Content-Disposition. Non-ASCII runes and characters
// that would break the quoted string become underscores.
func ASCIIFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII || r < 0x20 || r == '"' || r == '\\' || r == 0x7f {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "download"
	}
	return b.String()
}

// ValidateRelativePath checks a client-supplied relative path used to rebuild
// folder structure on upload and returns its cleaned segments.
//
// Both "/" and "\" are accepted as separators. Empty and "." segments are
// skipped. The path is rejected if it is absolute, carries a drive letter, or
// contains ".." or invalid segments. The first three wrap ErrPathEscapes.
func ValidateRelativePath(rel string) ([]string, error) {
	if rel == "" {
		return nil, fmt.Errorf("relative path cannot be empty")
	}
	if strings.ContainsRune(rel, 0) {
		return nil, fmt.Errorf("relative path contains null byte")
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || hasDriveLetter(rel) {
		return nil, fmt.Errorf("%w: %s is absolute", ErrPathEscapes, rel)
	}

	parts := strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' })
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "." {
			continue
		}
		if p == ".." {
			return nil, fmt.Errorf("%w: %s", ErrPathEscapes, rel)
		}
		if err := ValidateFilename(p); err != nil {
			return nil, fmt.Errorf("invalid relative path %q: %w", rel, err)
		}
		segments = append(segments, p)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("relative path has no file name: %s", rel)
	}
	return segments, nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && unicode.IsLetter(rune(p[0]))
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
// Relative paths are resolved against baseDir. Both are cleaned and made
// absolute before comparison.
//
// Example:
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/uploads") // Error: escapes base dir
//	ValidatePathInDirectory("subdir/file.txt", "/tmp/uploads")   // OK: within base dir
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolvedPath := filepath.Clean(path)
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(cleanBase, resolvedPath)
	}

	relPath, err := filepath.Rel(cleanBase, resolvedPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}

	if strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || relPath == ".." {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}

	return nil
}
