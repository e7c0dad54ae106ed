package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fshare/fshare/internal/api"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/diskspace"
	"github.com/fshare/fshare/internal/events"
	"github.com/fshare/fshare/internal/util/archive"
	"github.com/fshare/fshare/internal/util/buffers"
)

// Client is the server API used by the workers. *api.Client implements it.
type Client interface {
	OpenDownload(ctx context.Context, dr api.DownloadRequest) (*api.Download, error)
	Upload(ctx context.Context, ur api.UploadRequest) (string, error)
}

var errCancelled = errors.New("cancelled")

// runDownload drives one download to a terminal state. Retries of the
// request itself happen inside the client; a failure after the body started
// is final. Any partial file is removed unless the task completes.
func (m *Manager) runDownload(t *TransferTask) {
	if !t.start() {
		return
	}
	m.publish(events.EventTransferStarted, t)

	dl, err := m.client.OpenDownload(t.Context(), api.DownloadRequest{
		RemotePath:  t.Source,
		Folder:      t.IsFolder,
		Compression: t.Compression,
	})
	if err != nil {
		m.fail(t, err)
		return
	}
	defer dl.Body.Close()
	t.setTotal(dl.Size)

	required := dl.Size
	if t.ExtractTo != "" {
		required *= 2
	}
	if err := diskspace.CheckAvailableSpace(t.Dest, required, constants.DiskSpaceMargin); err != nil {
		m.fail(t, err)
		return
	}

	written, err := m.stream(t, dl.Body)
	if err == nil && dl.Size >= 0 && written != dl.Size {
		err = fmt.Errorf("incomplete download: got %d of %d bytes", written, dl.Size)
	}
	if err != nil {
		if rmErr := os.Remove(t.Dest); rmErr != nil && !os.IsNotExist(rmErr) {
			m.logger.Warn().Err(rmErr).Str("path", t.Dest).Msg("Failed to remove partial download")
		}
		m.fail(t, err)
		return
	}

	message := ""
	if t.ExtractTo != "" {
		message = m.extract(t)
	}
	m.complete(t, TaskCompleted, nil, message)
}

// stream copies body to t.Dest chunk by chunk. Cancellation is checked
// before every write; a pause holds the next read until resume.
func (m *Manager) stream(t *TransferTask, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(t.Dest), 0755); err != nil {
		return 0, fmt.Errorf("create download folder: %w", err)
	}
	f, err := os.Create(t.Dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", t.Dest, err)
	}

	bufp := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(bufp)
	buf := *bufp

	rep := m.newReporter(t)
	var written int64
	for {
		if t.CancelRequested() {
			f.Close()
			return written, errCancelled
		}
		t.waitWhilePaused()
		if t.CancelRequested() {
			f.Close()
			return written, errCancelled
		}

		n, rerr := readChunk(body, buf)
		if n > 0 {
			if t.CancelRequested() {
				f.Close()
				return written, errCancelled
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return written, fmt.Errorf("write %s: %w", t.Dest, werr)
			}
			written += int64(n)
			rep.report(written, false)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			if t.CancelRequested() {
				return written, errCancelled
			}
			return written, fmt.Errorf("read: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", t.Dest, err)
	}
	rep.report(written, true)
	return written, nil
}

// readChunk fills buf unless the reader ends or fails first. io.EOF is
// returned only at the clean end of the stream.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// extract unpacks a downloaded folder archive and removes it. Extraction
// failures do not fail the task; they are reported in the message.
func (m *Manager) extract(t *TransferTask) string {
	n, err := archive.ExtractZip(context.Background(), t.Dest, t.ExtractTo)
	if err != nil {
		m.logger.Warn().Err(err).Str("archive", t.Dest).Msg("Extraction failed, keeping archive")
		return fmt.Sprintf("downloaded, but extraction failed: %v", err)
	}
	if err := os.Remove(t.Dest); err != nil {
		m.logger.Warn().Err(err).Str("archive", t.Dest).Msg("Failed to remove archive after extraction")
	}
	return fmt.Sprintf("extracted %d files to %s", n, t.ExtractTo)
}

// runUpload sends one file. Uploads are not retried and cannot be paused.
// A cancel that arrives after the body was sent discards the result.
func (m *Manager) runUpload(t *TransferTask) {
	if !t.start() {
		return
	}
	m.publish(events.EventTransferStarted, t)

	rep := m.newReporter(t)
	stored, err := m.client.Upload(t.Context(), api.UploadRequest{
		LocalPath:    t.Source,
		TargetFolder: t.Dest,
		RelativePath: t.RelativePath,
		Progress:     func(sent int64) { rep.report(sent, false) },
	})
	if err != nil {
		m.fail(t, err)
		return
	}
	if t.CancelRequested() {
		m.complete(t, TaskCancelled, nil, "upload finished after cancel, result discarded")
		return
	}
	rep.report(t.Snapshot().Total, true)
	m.complete(t, TaskCompleted, nil, "saved as "+stored)
}

// fail finishes t as cancelled when the user asked for it, otherwise as error.
func (m *Manager) fail(t *TransferTask, err error) {
	if t.CancelRequested() || errors.Is(err, errCancelled) {
		m.complete(t, TaskCancelled, nil, "")
		return
	}
	m.complete(t, TaskError, err, "")
}

// reporter publishes progress for one task at most every
// ProgressUpdateInterval, plus the final update.
type reporter struct {
	m    *Manager
	t    *TransferTask
	last time.Time
}

func (m *Manager) newReporter(t *TransferTask) *reporter {
	return &reporter{m: m, t: t}
}

func (r *reporter) report(transferred int64, force bool) {
	delta := r.t.advance(transferred)
	if delta > 0 && r.t.BatchID != "" {
		r.m.batches.Add(r.t.BatchID, r.t.ID, delta)
	}
	if !force && (delta == 0 || time.Since(r.last) < constants.ProgressUpdateInterval) {
		return
	}
	r.last = time.Now()
	r.m.publish(events.EventTransferProgress, r.t)
}
