package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/events"
	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/util/paths"
	"github.com/fshare/fshare/internal/validation"
)

// Options configures a Manager. Client is required.
type Options struct {
	Client   Client
	Settings *config.Settings
	Bus      *events.EventBus
	Logger   *logging.Logger

	// UploadLimit caps concurrent uploads (default MaxConcurrentUploads).
	UploadLimit int
}

// Manager starts transfers and tracks them until they finish. Downloads
// start immediately; uploads go through the FIFO scheduler.
type Manager struct {
	client   Client
	settings *config.Settings
	bus      *events.EventBus
	logger   *logging.Logger
	uploads  *UploadScheduler
	batches  *BatchAggregator

	mu       sync.Mutex
	tasks    []*TransferTask
	byID     map[string]*TransferTask
	reserved map[string]bool // local paths claimed by running downloads
	wg       sync.WaitGroup
}

// NewManager creates a transfer manager.
func NewManager(opts Options) *Manager {
	settings := opts.Settings
	if settings == nil {
		settings = config.NewSettings()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewEventBus(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	limit := opts.UploadLimit
	if limit <= 0 {
		limit = constants.MaxConcurrentUploads
	}

	m := &Manager{
		client:   opts.Client,
		settings: settings,
		bus:      bus,
		logger:   logger,
		batches:  NewBatchAggregator(bus),
		byID:     make(map[string]*TransferTask),
		reserved: make(map[string]bool),
	}
	m.uploads = NewUploadScheduler(limit, m.runUpload)
	return m
}

// Events returns the bus progress is published on.
func (m *Manager) Events() *events.EventBus {
	return m.bus
}

// RemoteItem is a server file or folder to download.
type RemoteItem struct {
	Path  string
	Name  string
	IsDir bool
	Size  int64
}

// Download starts one download.
func (m *Manager) Download(item RemoteItem) (*TransferTask, error) {
	tasks, err := m.DownloadItems([]RemoteItem{item})
	if err != nil {
		return nil, err
	}
	return tasks[0], nil
}

// DownloadItems starts a download for each item into the download folder.
// Folders arrive as zip archives and, in extract mode, are unpacked next to
// them. Local names that collide within the request are numbered; with
// duplicate_mode=rename existing files are kept and the new one numbered,
// otherwise they are overwritten.
func (m *Manager) DownloadItems(items []RemoteItem) ([]*TransferTask, error) {
	dir := m.settings.DownloadDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create download folder: %w", err)
	}

	files := make([]paths.FileForDownload, len(items))
	for i, it := range items {
		name := validation.SanitizeFilename(it.Name)
		if name == "" {
			name = "download"
		}
		local := name
		if it.IsDir {
			local += ".zip"
		}
		files[i] = paths.FileForDownload{
			RemotePath: it.Path,
			Name:       name,
			LocalPath:  filepath.Join(dir, local),
			IsDir:      it.IsDir,
		}
	}
	rename := m.settings.DuplicateMode == config.DuplicateRename
	if !rename {
		// In rename mode the reserved set numbers repeats in request order.
		files, _ = paths.ResolveCollisions(files)
	}
	extract := m.settings.FolderDownloadMode == config.FolderModeExtract
	compression := ""
	if m.settings.ArchiveCompression == "deflate" {
		compression = "deflate"
	}

	tasks := make([]*TransferTask, 0, len(files))
	m.mu.Lock()
	for i, f := range files {
		dest := f.LocalPath
		if rename {
			unique, err := paths.UniquePath(dest, m.takenLocked)
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			dest = unique
		}
		m.reserved[dest] = true

		t := newTask(TaskTypeDownload, filepath.Base(dest), f.RemotePath, dest, items[i].Size)
		if f.IsDir {
			t.IsFolder = true
			t.Compression = compression
			t.total = 0
			if extract {
				target := filepath.Join(dir, f.Name)
				if rename {
					unique, err := paths.UniquePath(target, m.takenLocked)
					if err != nil {
						m.mu.Unlock()
						return nil, err
					}
					target = unique
				}
				m.reserved[target] = true
				t.ExtractTo = target
			}
		}
		m.trackLocked(t)
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		m.publish(events.EventTransferQueued, t)
		go m.runDownload(t)
	}
	return tasks, nil
}

func (m *Manager) takenLocked(p string) bool {
	if m.reserved[p] {
		return true
	}
	_, err := os.Lstat(p)
	return err == nil
}

// UploadFile queues one local file for upload into targetFolder.
func (m *Manager) UploadFile(localPath, targetFolder string) (*TransferTask, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}
	t := newTask(TaskTypeUpload, filepath.Base(localPath), localPath, targetFolder, info.Size())
	m.mu.Lock()
	m.trackLocked(t)
	m.mu.Unlock()

	m.publish(events.EventTransferQueued, t)
	m.uploads.Enqueue(t)
	return t, nil
}

// UploadFolder queues every file under localDir as one batch. Each file is
// stored under targetFolder as "<folder name>/<path inside the folder>".
func (m *Manager) UploadFolder(localDir, targetFolder string) (string, []*TransferTask, error) {
	root, err := filepath.Abs(localDir)
	if err != nil {
		return "", nil, err
	}
	base := filepath.Base(root)

	var tasks []*TransferTask
	var total int64
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		t := newTask(TaskTypeUpload, d.Name(), p, targetFolder, info.Size())
		t.RelativePath = base + "/" + filepath.ToSlash(rel)
		tasks = append(tasks, t)
		total += info.Size()
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("scan %s: %w", localDir, err)
	}
	if len(tasks) == 0 {
		return "", nil, fmt.Errorf("%s contains no files", localDir)
	}

	batchID := m.batches.Open(base, total, len(tasks))
	m.mu.Lock()
	for _, t := range tasks {
		t.BatchID = batchID
		m.trackLocked(t)
	}
	m.mu.Unlock()

	m.logger.Info().Str("folder", root).Int("files", len(tasks)).Int64("bytes", total).Msg("Queued folder upload")
	for _, t := range tasks {
		m.publish(events.EventTransferQueued, t)
	}
	m.uploads.Enqueue(tasks...)
	return batchID, tasks, nil
}

func (m *Manager) trackLocked(t *TransferTask) {
	m.tasks = append(m.tasks, t)
	m.byID[t.ID] = t
	m.wg.Add(1)
}

// Task returns the task with the given ID.
func (m *Manager) Task(id string) (*TransferTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	return t, ok
}

// Tasks returns snapshots of all tasks in creation order.
func (m *Manager) Tasks() []Snapshot {
	m.mu.Lock()
	tasks := append([]*TransferTask(nil), m.tasks...)
	m.mu.Unlock()

	out := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.Snapshot()
	}
	return out
}

// Batch returns the aggregate state of a folder upload.
func (m *Manager) Batch(id string) (BatchSnapshot, bool) {
	return m.batches.Snapshot(id)
}

// Cancel stops a task. Waiting tasks finish at once; running ones at the
// next chunk boundary.
func (m *Manager) Cancel(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	waiting, ok := t.requestCancel()
	if !ok {
		return ErrTerminal
	}
	if waiting {
		m.complete(t, TaskCancelled, nil, "")
	}
	return nil
}

// CancelAll cancels every unfinished task.
func (m *Manager) CancelAll() {
	for _, s := range m.Tasks() {
		if !s.State.Terminal() {
			_ = m.Cancel(s.ID)
		}
	}
}

// Pause pauses an active download.
func (m *Manager) Pause(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if err := t.Pause(); err != nil {
		return err
	}
	m.publish(events.EventTransferPaused, t)
	return nil
}

// Resume resumes a paused download.
func (m *Manager) Resume(id string) error {
	t, ok := m.Task(id)
	if !ok {
		return ErrUnknownTask
	}
	if err := t.Resume(); err != nil {
		return err
	}
	m.publish(events.EventTransferResumed, t)
	return nil
}

// Wait blocks until every task started so far is finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete finishes t once, folds it into its batch and publishes the
// terminal event.
func (m *Manager) complete(t *TransferTask, state TaskState, err error, message string) {
	if !t.finish(state, err, message) {
		return
	}
	defer m.wg.Done()

	if t.Type == TaskTypeDownload {
		m.mu.Lock()
		delete(m.reserved, t.Dest)
		if t.ExtractTo != "" {
			delete(m.reserved, t.ExtractTo)
		}
		m.mu.Unlock()
	}

	snap := t.Snapshot()
	if t.BatchID != "" {
		m.batches.Finish(t.BatchID, t.ID, snap.Total, state != TaskCompleted)
	}

	log := m.logger.With().Str("task", t.ID).Str("type", string(t.Type)).Str("name", t.Name).Logger()
	switch state {
	case TaskCompleted:
		log.Info().Int64("bytes", snap.Transferred).Str("detail", message).Msg("Transfer completed")
		m.publish(events.EventTransferCompleted, t)
	case TaskCancelled:
		log.Info().Msg("Transfer cancelled")
		m.publish(events.EventTransferCancelled, t)
	default:
		log.Error().Err(err).Msg("Transfer failed")
		m.publish(events.EventTransferFailed, t)
	}
}

func (m *Manager) publish(typ events.EventType, t *TransferTask) {
	s := t.Snapshot()
	m.bus.PublishTransfer(typ, events.TransferEvent{
		TaskID:      s.ID,
		TaskType:    string(s.Type),
		Name:        s.Name,
		BatchID:     s.BatchID,
		State:       string(s.State),
		Transferred: s.Transferred,
		Total:       s.Total,
		SpeedBps:    s.SpeedBps,
		Message:     s.Message,
		Error:       s.Err,
	})
}
