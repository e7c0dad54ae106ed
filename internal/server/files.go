package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/sandbox"
	"github.com/fshare/fshare/internal/validation"
)

// FileEntry is one row of a folder listing.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	IsDir        bool      `json:"isDir"`
	SizeBytes    int64     `json:"sizeBytes"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// ListFolder returns the entries of dir sorted directories first, then by
// case-insensitive name. dir must be inside sb. Entries that cannot be
// stat'ed or that resolve outside the sandbox are left out.
func ListFolder(sb *sandbox.Sandbox, dir string) (string, []FileEntry, error) {
	abs, err := sb.Resolve(dir)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", nil, ErrNotFound
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return "", nil, fmt.Errorf("read dir: %w", err)
	}

	entries := make([]FileEntry, 0, len(dirents))
	for _, d := range dirents {
		p := filepath.Join(abs, d.Name())
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if d.Type()&os.ModeSymlink != 0 && !sb.IsAllowed(p) {
			continue
		}
		e := FileEntry{
			Name:         d.Name(),
			Path:         p,
			IsDir:        fi.IsDir(),
			ModifiedTime: fi.ModTime().UTC(),
		}
		if !fi.IsDir() {
			e.SizeBytes = fi.Size()
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
	return abs, entries, nil
}

func (s *Server) handleListFolder(c *gin.Context) {
	p := c.Query("path")
	if p == "" {
		s.respondError(c, badRequest("path is required"))
		return
	}

	current, entries, err := ListFolder(s.sandbox, p)
	if err != nil {
		if errors.Is(err, sandbox.ErrForbidden) {
			s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionForbidden, p)
		}
		s.respondError(c, err)
		return
	}

	s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionList, current)
	c.JSON(http.StatusOK, gin.H{"files": entries, "currentPath": current})
}

// handleDownload streams one file. Range requests are served by
// http.ServeContent.
func (s *Server) handleDownload(c *gin.Context) {
	p := c.Query("path")
	if p == "" {
		s.respondError(c, badRequest("path is required"))
		return
	}
	abs, err := s.sandbox.Resolve(p)
	if err != nil {
		s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionForbidden, p)
		s.respondError(c, err)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		s.respondError(c, ErrNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.respondError(c, ErrNotFound)
		return
	}

	name := filepath.Base(abs)
	s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionDownload, abs)

	c.Header("Content-Disposition", contentDisposition(name))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Cache-Control", "no-transform")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}

func (s *Server) handleAccessLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries := s.accessLog.History(limit)
	s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionAccessLog,
		fmt.Sprintf("%d entries", len(entries)))
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// contentDisposition builds an attachment header with an ASCII fallback name
// and the RFC 5987 UTF-8 form.
func contentDisposition(name string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		validation.ASCIIFilename(name), encodeRFC5987(name))
}

// encodeRFC5987 percent-encodes every byte outside attr-char.
func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isAttrChar(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func isAttrChar(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", ch) >= 0
}
