// Package transfer runs uploads and downloads against an fshare server:
// one worker per task, a capped FIFO for uploads, and per-batch aggregation
// of folder uploads. Progress is published on an events.EventBus.
package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType indicates whether a task is an upload or download.
type TaskType string

const (
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskWaiting   TaskState = "waiting"   // Created, not yet started (uploads wait for a slot)
	TaskActive    TaskState = "active"    // Moving bytes
	TaskPaused    TaskState = "paused"    // Download paused by the user
	TaskCompleted TaskState = "completed" // Terminal: success
	TaskError     TaskState = "error"     // Terminal: failed
	TaskCancelled TaskState = "cancelled" // Terminal: cancelled by the user
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskCancelled
}

var (
	ErrNotPausable = errors.New("only active downloads can be paused")
	ErrNotPaused   = errors.New("task is not paused")
	ErrTerminal    = errors.New("task already finished")
	ErrUnknownTask = errors.New("unknown task")
)

// TransferTask is one upload or download. Workers and callers use the
// methods; the exported identity fields are fixed after creation.
type TransferTask struct {
	ID   string
	Type TaskType
	Name string

	// Download: Source is the server path, Dest the local file.
	// Upload: Source is the local file, Dest the server target folder.
	Source string
	Dest   string

	RelativePath string // upload: path under Dest, with forward slashes
	IsFolder     bool   // download: folder fetched as a zip archive
	Compression  string // download: "deflate" or empty
	ExtractTo    string // download: unpack the archive here, then remove it
	BatchID      string

	mu          sync.Mutex
	state       TaskState
	total       int64
	transferred int64
	speed       float64
	err         error
	message     string
	createdAt   time.Time
	startedAt   time.Time
	finishedAt  time.Time

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
	resume          chan struct{} // non-nil while paused; closed on resume
	done            chan struct{}
}

func newTask(typ TaskType, name, source, dest string, total int64) *TransferTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &TransferTask{
		ID:        uuid.NewString(),
		Type:      typ,
		Name:      name,
		Source:    source,
		Dest:      dest,
		state:     TaskWaiting,
		total:     total,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Snapshot is a copy of a task's mutable state.
type Snapshot struct {
	ID          string
	Type        TaskType
	Name        string
	BatchID     string
	State       TaskState
	Transferred int64
	Total       int64
	SpeedBps    float64
	Err         error
	Message     string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Snapshot returns the current state.
func (t *TransferTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *TransferTask) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          t.ID,
		Type:        t.Type,
		Name:        t.Name,
		BatchID:     t.BatchID,
		State:       t.state,
		Transferred: t.transferred,
		Total:       t.total,
		SpeedBps:    t.speed,
		Err:         t.err,
		Message:     t.message,
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
}

// State returns the current state.
func (t *TransferTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the task reaches a terminal state.
func (t *TransferTask) Done() <-chan struct{} {
	return t.done
}

// Context is cancelled when the user cancels the task.
func (t *TransferTask) Context() context.Context {
	return t.ctx
}

// CancelRequested reports whether the user asked to cancel.
func (t *TransferTask) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// requestCancel asks the worker to stop at the next chunk boundary and
// unblocks a paused download. waiting reports that no worker has picked the
// task up, so the caller must finish it. ok is false if the task already
// finished.
func (t *TransferTask) requestCancel() (waiting, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false, false
	}
	t.cancelRequested = true
	t.cancel()
	if t.resume != nil {
		close(t.resume)
		t.resume = nil
	}
	return t.state == TaskWaiting, true
}

// Pause defers the next read/write cycle of an active download. The chunk
// in flight is still written.
func (t *TransferTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Type != TaskTypeDownload {
		return ErrNotPausable
	}
	switch {
	case t.state.Terminal():
		return ErrTerminal
	case t.state == TaskPaused:
		return nil
	case t.state != TaskActive || t.cancelRequested:
		return ErrNotPausable
	}
	t.state = TaskPaused
	t.resume = make(chan struct{})
	return nil
}

// Resume continues a paused download.
func (t *TransferTask) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return ErrTerminal
	}
	if t.state != TaskPaused {
		return ErrNotPaused
	}
	t.state = TaskActive
	close(t.resume)
	t.resume = nil
	return nil
}

// waitWhilePaused blocks until the task is resumed or cancelled.
func (t *TransferTask) waitWhilePaused() {
	t.mu.Lock()
	ch := t.resume
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-t.ctx.Done():
	}
}

// start moves a waiting task to active. It returns false if the task was
// cancelled before it got a worker.
func (t *TransferTask) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskWaiting || t.cancelRequested {
		return false
	}
	t.state = TaskActive
	t.startedAt = time.Now()
	return true
}

func (t *TransferTask) setTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.total = n
	}
}

// advance records the cumulative byte count and derives the speed since the
// attempt started. Returns the delta since the previous call.
func (t *TransferTask) advance(transferred int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if transferred <= t.transferred {
		return 0
	}
	delta := transferred - t.transferred
	t.transferred = transferred
	if elapsed := time.Since(t.startedAt).Seconds(); elapsed > 0 {
		t.speed = float64(t.transferred) / elapsed
	}
	return delta
}

// finish moves the task to a terminal state once. Returns false if it was
// already terminal.
func (t *TransferTask) finish(state TaskState, err error, message string) bool {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = state
	t.err = err
	t.message = message
	t.finishedAt = time.Now()
	if t.resume != nil {
		close(t.resume)
		t.resume = nil
	}
	t.mu.Unlock()

	t.cancel()
	close(t.done)
	return true
}
