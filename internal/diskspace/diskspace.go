// Package diskspace checks free space on the filesystem that will receive a
// download before any bytes are written.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InsufficientSpaceError reports a destination without enough free space.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, float64(e.RequiredBytes)/(1024*1024), float64(e.AvailableBytes)/(1024*1024))
}

// CheckAvailableSpace returns an InsufficientSpaceError when the filesystem
// holding targetPath has less than requiredBytes*safetyMargin free. The
// target and its parents need not exist yet. When free space cannot be
// determined the check passes and the write is left to fail on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	available, ok := freeBytes(existingDir(targetPath))
	if !ok {
		return nil
	}
	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the free bytes for the filesystem holding path,
// or 0 if unknown.
func GetAvailableSpace(path string) int64 {
	n, _ := freeBytes(existingDir(path))
	return n
}

// IsInsufficientSpaceError reports whether err is or wraps an
// InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var se *InsufficientSpaceError
	return errors.As(err, &se)
}

// existingDir returns the closest existing directory at or above path's parent.
func existingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
