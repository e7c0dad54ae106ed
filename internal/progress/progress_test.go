package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fshare/fshare/internal/events"
)

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		max  int
		want string
	}{
		{"file.txt", 2, "file.txt"},
		{"docs/file.txt", 2, "file.txt"},
		{"/home/user/docs/file.txt", 2, "…/docs/file.txt"},
		{"a/b/c/d", 3, "…/b/c/d"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.path, tt.max); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.max, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:                      "0 B",
		1023:                   "1023 B",
		1024:                   "1.0 KiB",
		1536:                   "1.5 KiB",
		5 * 1024 * 1024:        "5.0 MiB",
		3 * 1024 * 1024 * 1024: "3.0 GiB",
	}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTransferUIPlainOutput(t *testing.T) {
	bus := events.NewEventBus(0)
	var out bytes.Buffer
	ui := NewTransferUI(&out)
	if ui.IsTerminal() {
		t.Fatal("a buffer is not a terminal")
	}
	ui.Attach(bus)

	bus.PublishTransfer(events.EventTransferQueued, events.TransferEvent{TaskID: "1", TaskType: "download", Name: "report.pdf"})
	bus.PublishTransfer(events.EventTransferStarted, events.TransferEvent{TaskID: "1", TaskType: "download", Name: "report.pdf"})
	bus.PublishTransfer(events.EventTransferProgress, events.TransferEvent{TaskID: "1", TaskType: "download", Name: "report.pdf", Transferred: 512, Total: 2048})
	bus.PublishTransfer(events.EventTransferCompleted, events.TransferEvent{TaskID: "1", TaskType: "download", Name: "report.pdf", Transferred: 2048, Total: 2048, Message: "extracted 3 files to x"})

	bus.PublishTransfer(events.EventTransferStarted, events.TransferEvent{TaskID: "2", TaskType: "upload", Name: "notes.txt"})
	bus.PublishTransfer(events.EventTransferFailed, events.TransferEvent{TaskID: "2", TaskType: "upload", Name: "notes.txt", Error: errors.New("server returned 403")})

	bus.PublishTransfer(events.EventTransferCancelled, events.TransferEvent{TaskID: "3", TaskType: "upload", Name: "big.iso"})
	bus.PublishBatch(events.EventBatchCompleted, events.BatchEvent{BatchID: "b"})

	// Batch members only surface when they fail.
	bus.PublishTransfer(events.EventTransferStarted, events.TransferEvent{TaskID: "4", TaskType: "upload", Name: "album/a.jpg", BatchID: "b"})
	bus.PublishTransfer(events.EventTransferCompleted, events.TransferEvent{TaskID: "4", TaskType: "upload", Name: "album/a.jpg", BatchID: "b", Transferred: 10})
	bus.PublishTransfer(events.EventTransferFailed, events.TransferEvent{TaskID: "5", TaskType: "upload", Name: "album/b.jpg", BatchID: "b", Error: errors.New("disk full")})

	ui.Close()

	text := out.String()
	for _, want := range []string{
		"Downloading [1/1] report.pdf",
		"✓ report.pdf (2.0 KiB",
		"extracted 3 files to x",
		"Uploading [2/2] notes.txt",
		"✗ notes.txt: server returned 403",
		"- big.iso cancelled",
		"✗ album/b.jpg: disk full",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "a.jpg") {
		t.Errorf("successful batch member printed:\n%s", text)
	}
	if c, f, x := ui.Counts(); c != 1 || f != 2 || x != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/2/1", c, f, x)
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	starts   []string
	totals   []int64
	updates  []int64
	finished int
}

func (r *recordingReporter) Start(total int64, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, description)
	r.totals = append(r.totals, total)
}

func (r *recordingReporter) Update(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, current)
}

func (r *recordingReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *recordingReporter) Error(err error)            {}
func (r *recordingReporter) SetDescription(desc string) {}

func TestBatchWatcher(t *testing.T) {
	bus := events.NewEventBus(0)
	rep := &recordingReporter{}
	w := WatchBatches(bus, rep)

	bus.PublishTransfer(events.EventTransferStarted, events.TransferEvent{TaskID: "1"})
	bus.PublishBatch(events.EventBatchProgress, events.BatchEvent{BatchID: "b", Label: "photos", Total: 300, Transferred: 100, Pending: 3})
	bus.PublishBatch(events.EventBatchProgress, events.BatchEvent{BatchID: "b", Label: "photos", Total: 300, Transferred: 250, Pending: 2})
	bus.PublishBatch(events.EventBatchCompleted, events.BatchEvent{BatchID: "b", Label: "photos", Total: 300, Transferred: 300})
	w.Close()

	if len(rep.starts) != 1 || rep.starts[0] != "Uploading photos" || rep.totals[0] != 300 {
		t.Errorf("starts = %v totals = %v", rep.starts, rep.totals)
	}
	if len(rep.updates) != 3 || rep.updates[2] != 300 {
		t.Errorf("updates = %v", rep.updates)
	}
	if rep.finished != 1 {
		t.Errorf("finished %d times", rep.finished)
	}
}

func TestCLIProgressWritesToWriter(t *testing.T) {
	var out bytes.Buffer
	p := NewCLIProgress(&out)
	p.Start(100, "Uploading docs")
	p.Update(50)
	p.Finish()
	p.Error(errors.New("boom"))

	if !strings.Contains(out.String(), "Error: boom") {
		t.Errorf("output = %q", out.String())
	}
}
