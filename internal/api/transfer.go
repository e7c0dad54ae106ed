package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/version"
)

// Download is an open download response. The caller must close Body.
type Download struct {
	Body io.ReadCloser
	// Size is the declared length, or -1 when unknown.
	Size int64
	// Name is the file name announced by the server.
	Name string
}

// DownloadRequest selects what to download.
type DownloadRequest struct {
	RemotePath string
	// Folder requests the folder as a zip archive.
	Folder bool
	// Compression is "deflate" or empty for store-only archives.
	Compression string
}

// OpenDownload starts a download. Transient failures before the response
// headers arrive (connection errors, header timeouts, 502/503/504) are
// retried with a fixed delay; the body stream itself is not retried.
func (c *Client) OpenDownload(ctx context.Context, dr DownloadRequest) (*Download, error) {
	q := url.Values{"path": {dr.RemotePath}}
	path := "/download"
	rc := c.fileDownload
	if dr.Folder {
		path = "/download_folder"
		rc = c.folderDownload
		if dr.Compression != "" {
			q.Set("comp", dr.Compression)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", dr.RemotePath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("download %s: %w", dr.RemotePath, newStatusError(resp))
	}

	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = remoteBase(dr.RemotePath)
		if dr.Folder {
			name += ".zip"
		}
	}
	return &Download{Body: resp.Body, Size: resp.ContentLength, Name: name}, nil
}

// filenameFromDisposition prefers the RFC 5987 filename* form, which
// mime.ParseMediaType decodes into "filename".
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// remoteBase returns the last element of a server path, whichever separator
// the server uses.
func remoteBase(p string) string {
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return "download"
	}
	return p
}

// UploadRequest describes one file upload.
type UploadRequest struct {
	LocalPath    string
	TargetFolder string
	// RelativePath rebuilds nested folders under TargetFolder when set.
	RelativePath string
	// Progress receives the cumulative bytes of the file sent so far.
	Progress func(sent int64)
}

// Upload sends one file and returns the path the server stored it at.
// Uploads are never retried. When the transport buffers the body, progress
// is reported at the midpoint and at completion only.
func (c *Client) Upload(ctx context.Context, ur UploadRequest) (string, error) {
	f, err := os.Open(ur.LocalPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()

	progress := ur.Progress
	if progress == nil {
		progress = func(int64) {}
	}

	fields := [][2]string{{"target_folder", ur.TargetFolder}}
	if ur.RelativePath != "" {
		fields = append(fields, [2]string{"relative_path", ur.RelativePath})
	}
	name := filepath.Base(ur.LocalPath)

	var req *nethttp.Request
	if c.streamUploads {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeMultipart(mw, fields, name, &countingReader{r: f, onRead: progress}))
		}()
		req, err = nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.endpoint("/upload", nil), pr)
		if err != nil {
			pr.Close()
			return "", err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
	} else {
		spool, contentType, err := spoolMultipart(fields, name, f)
		if err != nil {
			return "", err
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()
		req, err = nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.endpoint("/upload", nil), spool)
		if err != nil {
			return "", err
		}
		if st, err := spool.Stat(); err == nil {
			req.ContentLength = st.Size()
		}
		req.Header.Set("Content-Type", contentType)
		progress(size / 2)
	}

	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.upload.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload %s: %w", name, newStatusError(resp))
	}

	var out struct {
		Success bool   `json:"success"`
		Path    string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	progress(size)
	return out.Path, nil
}

func writeMultipart(mw *multipart.Writer, fields [][2]string, name string, r io.Reader) error {
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	buf := make([]byte, constants.UploadCopyBufferSize)
	if _, err := io.CopyBuffer(part, r, buf); err != nil {
		return err
	}
	return mw.Close()
}

// spoolMultipart writes the whole multipart body to a temporary file so it
// can be sent with a known length.
func spoolMultipart(fields [][2]string, name string, r io.Reader) (*os.File, string, error) {
	spool, err := os.CreateTemp("", "fshare-upload-*")
	if err != nil {
		return nil, "", err
	}
	mw := multipart.NewWriter(spool)
	if err := writeMultipart(mw, fields, name, r); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, "", err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, "", err
	}
	return spool, mw.FormDataContentType(), nil
}

// countingReader reports the cumulative bytes read.
type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.onRead(cr.n)
	}
	return n, err
}
