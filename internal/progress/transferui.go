package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/fshare/fshare/internal/events"
)

// TransferUI draws one mpb bar per transfer task. When out is not a terminal
// it prints one line when a task starts and one when it ends.
type TransferUI struct {
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool
	sub        *subscription

	mu        sync.Mutex
	bars      map[string]*taskBar
	seen      int
	completed int
	failed    int
	cancelled int
}

type taskBar struct {
	bar        *mpb.Bar
	index      int
	name       string
	kind       string
	total      int64
	paused     atomic.Bool
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

// NewTransferUI creates a UI writing to out.
func NewTransferUI(out io.Writer) *TransferUI {
	f, tty := isTerminal(out)
	u := &TransferUI{
		out:        out,
		isTerminal: tty,
		bars:       make(map[string]*taskBar),
	}
	if tty {
		enableANSI(f)
		u.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	}
	return u
}

// Attach starts rendering task events from bus. Tasks that belong to a
// folder upload batch are left to BatchWatcher.
func (u *TransferUI) Attach(bus *events.EventBus) {
	u.sub = subscribe(bus, u.handle)
}

func (u *TransferUI) handle(ev events.Event) {
	te, ok := ev.(*events.TransferEvent)
	if !ok {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	// Folder uploads are drawn by BatchWatcher; only their failures show here.
	if te.BatchID != "" {
		if ev.Type() == events.EventTransferFailed {
			u.failed++
			u.printf("✗ %s: %v\n", te.Name, te.Error)
		}
		return
	}

	b := u.barLocked(te)
	switch ev.Type() {
	case events.EventTransferStarted:
		b.startTime = time.Now()
		b.lastUpdate = b.startTime
		if !u.isTerminal {
			u.printf("%s [%d/%d] %s\n", verb(b.kind), b.index, u.seen, b.name)
		}
	case events.EventTransferProgress:
		u.progressLocked(b, te)
	case events.EventTransferPaused:
		b.paused.Store(true)
	case events.EventTransferResumed:
		b.paused.Store(false)
	case events.EventTransferCompleted:
		u.completed++
		u.progressLocked(b, te)
		if b.bar != nil {
			b.bar.SetCurrent(te.Transferred)
			b.bar.SetTotal(te.Transferred, true)
		}
		elapsed := time.Since(b.startTime)
		line := fmt.Sprintf("✓ %s (%s, %s, %s/s)", b.name,
			FormatBytes(te.Transferred), elapsed.Round(time.Second), FormatBytes(int64(te.SpeedBps)))
		if te.Message != "" {
			line += ": " + te.Message
		}
		u.printf("%s\n", line)
		delete(u.bars, te.TaskID)
	case events.EventTransferFailed:
		u.failed++
		if b.bar != nil {
			b.bar.Abort(false)
		}
		u.printf("✗ %s: %v\n", b.name, te.Error)
		delete(u.bars, te.TaskID)
	case events.EventTransferCancelled:
		u.cancelled++
		if b.bar != nil {
			b.bar.Abort(true)
		}
		u.printf("- %s cancelled\n", b.name)
		delete(u.bars, te.TaskID)
	}
}

// barLocked returns the bar for te, creating it on first sight.
func (u *TransferUI) barLocked(te *events.TransferEvent) *taskBar {
	if b, ok := u.bars[te.TaskID]; ok {
		return b
	}
	u.seen++
	b := &taskBar{
		index:      u.seen,
		name:       truncatePath(te.Name, 2),
		kind:       te.TaskType,
		total:      te.Total,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	if u.isTerminal {
		b.bar = u.newBar(b)
	}
	u.bars[te.TaskID] = b
	return b
}

func (u *TransferUI) newBar(b *taskBar) *mpb.Bar {
	arrow := "←"
	if b.kind == "upload" {
		arrow = "→"
	}
	return u.progress.New(b.total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				label := fmt.Sprintf("[%d] %s %s", b.index, arrow, b.name)
				if b.paused.Load() {
					label += " (paused)"
				}
				return label
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if s.Total <= 0 {
					return "   ?.??%"
				}
				return fmt.Sprintf("%6.2f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (u *TransferUI) progressLocked(b *taskBar, te *events.TransferEvent) {
	if te.Total > 0 && te.Total != b.total {
		b.total = te.Total
		if b.bar != nil {
			b.bar.SetTotal(te.Total, false)
		}
	}
	delta := te.Transferred - b.lastBytes
	if delta <= 0 {
		return
	}
	now := time.Now()
	if b.bar != nil {
		b.bar.EwmaIncrInt64(delta, now.Sub(b.lastUpdate))
	}
	b.lastBytes = te.Transferred
	b.lastUpdate = now
}

func (u *TransferUI) printf(format string, args ...interface{}) {
	fmt.Fprintf(u.Writer(), format, args...)
}

// Close renders the events already published, aborts bars of unfinished
// tasks and waits for the bars to be drawn for the last time.
func (u *TransferUI) Close() {
	if u.sub != nil {
		u.sub.close()
	}
	u.mu.Lock()
	for id, b := range u.bars {
		if b.bar != nil {
			b.bar.Abort(false)
		}
		delete(u.bars, id)
	}
	u.mu.Unlock()
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns a writer that prints above the bars.
func (u *TransferUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are drawn.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// Counts returns how many tasks completed, failed and were cancelled.
func (u *TransferUI) Counts() (completed, failed, cancelled int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.completed, u.failed, u.cancelled
}

func verb(kind string) string {
	if kind == "upload" {
		return "Uploading"
	}
	return "Downloading"
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
