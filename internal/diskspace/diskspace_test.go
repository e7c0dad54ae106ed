package diskspace

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckAvailableSpace(t *testing.T) {
	target := filepath.Join(t.TempDir(), "not", "yet", "created.bin")

	t.Run("SmallFile", func(t *testing.T) {
		if err := CheckAvailableSpace(target, 1024, 1.1); err != nil {
			t.Errorf("Expected no error for small file, got: %v", err)
		}
	})

	t.Run("UnknownSize", func(t *testing.T) {
		if err := CheckAvailableSpace(target, -1, 1.1); err != nil {
			t.Errorf("Expected unknown size to pass, got: %v", err)
		}
	})

	t.Run("VeryLargeFile", func(t *testing.T) {
		// 100 PiB exceeds any test machine.
		err := CheckAvailableSpace(target, 100<<50, 1.1)
		if GetAvailableSpace(target) == 0 {
			t.Skip("Could not determine available space")
		}
		if !IsInsufficientSpaceError(err) {
			t.Fatalf("Expected InsufficientSpaceError, got: %v", err)
		}
		se := err.(*InsufficientSpaceError)
		if se.Path != target {
			t.Errorf("Path = %q, want %q", se.Path, target)
		}
		if se.RequiredBytes <= 100<<50 {
			t.Errorf("RequiredBytes = %d, want margin applied", se.RequiredBytes)
		}
	})
}

func TestGetAvailableSpace(t *testing.T) {
	available := GetAvailableSpace(filepath.Join(t.TempDir(), "missing", "file.txt"))
	if available <= 0 {
		t.Errorf("Expected non-zero available space, got %d", available)
	}
}

func TestIsInsufficientSpaceError(t *testing.T) {
	err := &InsufficientSpaceError{Path: "/tmp/test.txt", RequiredBytes: 1000, AvailableBytes: 500}
	if !IsInsufficientSpaceError(err) {
		t.Error("Expected IsInsufficientSpaceError to return true")
	}
	if !IsInsufficientSpaceError(fmt.Errorf("download: %w", err)) {
		t.Error("Expected wrapped error to match")
	}
	if IsInsufficientSpaceError(fmt.Errorf("some other error")) {
		t.Error("Expected false for other errors")
	}
	if IsInsufficientSpaceError(nil) {
		t.Error("Expected false for nil")
	}
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{
		Path:           "/tmp/test.txt",
		RequiredBytes:  1024 * 1024 * 100,
		AvailableBytes: 1024 * 1024 * 50,
	}
	msg := err.Error()
	for _, want := range []string{"/tmp/test.txt", "100.00", "50.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
