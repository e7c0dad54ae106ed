package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/sandbox"
	"github.com/fshare/fshare/internal/validation"
)

// handleUpload stores one multipart file under target_folder. A non-empty
// relative_path rebuilds nested folders; otherwise the sanitized filename is
// used. An existing file at the destination is replaced.
func (s *Server) handleUpload(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(s.cfg.MaxUploadMemory); err != nil {
		s.respondError(c, newAppError(http.StatusBadRequest, "Invalid upload request", err))
		return
	}
	if c.Request.MultipartForm != nil {
		defer c.Request.MultipartForm.RemoveAll()
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.respondError(c, badRequest("No file in request"))
		return
	}
	if fh.Filename == "" {
		s.respondError(c, badRequest("No file selected"))
		return
	}

	targetFolder := c.PostForm("target_folder")
	if targetFolder == "" {
		s.respondError(c, badRequest("target_folder is required"))
		return
	}
	target, err := s.sandbox.Resolve(targetFolder)
	if err != nil {
		s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionForbidden, targetFolder)
		s.respondError(c, err)
		return
	}

	relativePath := c.PostForm("relative_path")
	dest, err := uploadDestination(target, fh.Filename, relativePath)
	if err != nil {
		if errors.Is(err, sandbox.ErrForbidden) {
			s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionForbidden, relativePath)
		}
		s.respondError(c, err)
		return
	}
	// The relative path is validated segment by segment, but symlinks under
	// target could still lead out.
	if _, err := s.sandbox.Resolve(dest); err != nil {
		s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionForbidden, dest)
		s.respondError(c, err)
		return
	}

	if err := saveUpload(fh, dest); err != nil {
		s.respondError(c, err)
		return
	}

	s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionUpload,
		fmt.Sprintf("%s -> %s", filepath.Base(dest), targetFolder))
	c.JSON(http.StatusOK, gin.H{"success": true, "path": dest})
}

func uploadDestination(target, filename, relativePath string) (string, error) {
	if relativePath != "" {
		segments, err := validation.ValidateRelativePath(relativePath)
		if errors.Is(err, validation.ErrPathEscapes) {
			return "", fmt.Errorf("%w: %v", sandbox.ErrForbidden, err)
		}
		if err != nil {
			return "", newAppError(http.StatusBadRequest, "Invalid relative_path", err)
		}
		return filepath.Join(append([]string{target}, segments...)...), nil
	}
	name := validation.SanitizeFilename(filename)
	if name == "" {
		return "", badRequest("Invalid file name")
	}
	return filepath.Join(target, name), nil
}

// saveUpload writes the part to a temporary sibling of dest and renames it
// into place, so a failed upload never leaves a truncated file at dest.
func saveUpload(fh *multipart.FileHeader, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return newAppError(http.StatusConflict, "Destination is a directory", nil)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create destination folder: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload part: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write upload: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move upload into place: %w", err)
	}
	return nil
}
