// Package progress renders transfer progress on the terminal. TransferUI
// draws one bar per task; BatchWatcher drives a single bar for a folder
// upload. Both read from the transfer manager's event bus.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/fshare/fshare/internal/events"
)

// Reporter receives aggregate progress for one operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements Reporter with a single progress bar.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a reporter writing to out (os.Stderr when nil).
func NewCLIProgress(out io.Writer) *CLIProgress {
	if out == nil {
		out = os.Stderr
	}
	return &CLIProgress{out: out}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// BatchWatcher feeds folder upload events to a Reporter. Create it before
// the upload is queued so no event is missed.
type BatchWatcher struct {
	reporter Reporter
	sub      *subscription

	mu      sync.Mutex
	started map[string]bool
	failed  map[string]int
}

// WatchBatches starts following batch events on bus.
func WatchBatches(bus *events.EventBus, reporter Reporter) *BatchWatcher {
	w := &BatchWatcher{
		reporter: reporter,
		started:  make(map[string]bool),
		failed:   make(map[string]int),
	}
	w.sub = subscribe(bus, w.handle)
	return w
}

func (w *BatchWatcher) handle(ev events.Event) {
	be, ok := ev.(*events.BatchEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started[be.BatchID] {
		w.started[be.BatchID] = true
		w.reporter.Start(be.Total, "Uploading "+be.Label)
	}
	w.reporter.Update(be.Transferred)
	if be.Type() == events.EventBatchCompleted {
		w.failed[be.BatchID] = be.Failed
		w.reporter.Finish()
	}
}

// Close processes the events already published and stops watching.
func (w *BatchWatcher) Close() {
	w.sub.close()
}

// subscription runs handle for every event on bus until closed. close drains
// the events that were already delivered.
type subscription struct {
	bus    *events.EventBus
	ch     <-chan events.Event
	stop   chan struct{}
	done   chan struct{}
	handle func(events.Event)
	once   sync.Once
}

func subscribe(bus *events.EventBus, handle func(events.Event)) *subscription {
	s := &subscription{
		bus:    bus,
		ch:     bus.SubscribeAll(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		handle: handle,
	}
	go s.loop()
	return s
}

func (s *subscription) loop() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				return
			}
			s.handle(ev)
		case <-s.stop:
			for {
				select {
				case ev, ok := <-s.ch:
					if !ok {
						return
					}
					s.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.bus.UnsubscribeAll(s.ch)
	})
}

// isTerminal reports whether out is an interactive terminal.
func isTerminal(out io.Writer) (*os.File, bool) {
	f, ok := out.(*os.File)
	if !ok {
		return nil, false
	}
	return f, term.IsTerminal(int(f.Fd()))
}

// truncatePath keeps the last maxComponents elements of path.
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
