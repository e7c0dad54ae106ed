package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/util/archive"
	"github.com/fshare/fshare/internal/util/buffers"
	"github.com/fshare/fshare/internal/validation"
)

// handleDownloadFolder builds a zip of the folder into a temporary file, then
// streams it with a known Content-Length. The temporary file is removed on
// every exit path, including a client that disconnects mid-stream.
func (s *Server) handleDownloadFolder(c *gin.Context) {
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
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		s.respondError(c, ErrNotFound)
		return
	}

	comp := c.Query("comp")
	if comp == "" {
		comp = c.Query("compression")
	}
	compression := archive.ParseCompression(comp)

	addr, user := s.clientAddr(c), currentUser(c)
	folderName := filepath.Base(abs)
	log := s.logger.With().Str("folder", abs).Str("compression", compression.String()).Logger()
	log.Info().Msg("Building folder archive")

	tmpPath, st, err := archive.BuildTemp(c.Request.Context(), abs, s.cfg.TempDir, archive.Options{
		Compression: compression,
		Allow:       s.sandbox.IsAllowed,
		Logger:      s.logger,
	})
	if err != nil {
		s.accessLog.Append(addr, user, accesslog.ActionDownloadFolder, fmt.Sprintf("%s failed", abs))
		if c.Request.Context().Err() != nil {
			// Client went away while archiving; nobody to answer.
			c.Abort()
			return
		}
		s.respondError(c, err)
		return
	}
	defer os.Remove(tmpPath)

	f, err := os.Open(tmpPath)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()

	log.Info().Int("files", st.Files).Int("skipped", st.Skipped).Int64("bytes", st.Size).Msg("Folder archive ready")
	s.accessLog.Append(addr, user, accesslog.ActionDownloadFolder, fmt.Sprintf("%s (%d files)", abs, st.Files))

	archiveName := validation.SanitizeFilename(folderName)
	if archiveName == "" {
		archiveName = "folder"
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", contentDisposition(archiveName+".zip"))
	c.Header("Content-Length", strconv.FormatInt(st.Size, 10))
	c.Status(http.StatusOK)

	written, err := streamFile(c.Writer, f)
	if err != nil {
		log.Warn().Err(err).Int64("sent", written).Msg("Folder archive stream aborted")
		c.Abort()
		return
	}
}

// streamFile copies r to w in 4MB chunks, flushing after each chunk.
func streamFile(w http.ResponseWriter, r io.Reader) (int64, error) {
	buf := buffers.GetStreamBuffer()
	defer buffers.PutStreamBuffer(buf)

	flusher, _ := w.(http.Flusher)
	var total int64
	for {
		n, rerr := r.Read(*buf)
		if n > 0 {
			wn, werr := w.Write((*buf)[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
