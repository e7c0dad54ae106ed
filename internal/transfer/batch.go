package transfer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fshare/fshare/internal/events"
)

// BatchSnapshot is a copy of a batch's aggregate state.
type BatchSnapshot struct {
	ID          string
	Label       string
	Transferred int64
	Total       int64
	Pending     int
	Failed      int
	Done        bool
}

type batch struct {
	BatchSnapshot
	reported map[string]int64 // task ID -> bytes already added
}

// BatchAggregator sums the progress of the tasks of a folder upload. Workers
// report deltas; a finished task's unreported remainder is folded in so the
// total always ends at the batch size.
type BatchAggregator struct {
	mu       sync.Mutex
	batches  map[string]*batch
	finished map[string]BatchSnapshot
	bus      *events.EventBus
}

// NewBatchAggregator creates an aggregator publishing on bus (may be nil).
func NewBatchAggregator(bus *events.EventBus) *BatchAggregator {
	return &BatchAggregator{
		batches:  make(map[string]*batch),
		finished: make(map[string]BatchSnapshot),
		bus:      bus,
	}
}

// Open registers a batch of count tasks totalling total bytes.
func (a *BatchAggregator) Open(label string, total int64, count int) string {
	id := uuid.NewString()
	a.mu.Lock()
	a.batches[id] = &batch{
		BatchSnapshot: BatchSnapshot{ID: id, Label: label, Total: total, Pending: count},
		reported:      make(map[string]int64),
	}
	a.mu.Unlock()
	return id
}

// Add records delta bytes moved by taskID.
func (a *BatchAggregator) Add(batchID, taskID string, delta int64) {
	if delta <= 0 {
		return
	}
	a.mu.Lock()
	b, ok := a.batches[batchID]
	if !ok {
		a.mu.Unlock()
		return
	}
	b.reported[taskID] += delta
	b.addLocked(delta)
	snap, done := a.checkLocked(b)
	a.mu.Unlock()

	a.publish(snap, done)
}

// Finish folds the rest of a finished task's size into the batch and
// decrements the pending count. A batch completed by bytes can still have
// members finishing; their counts go into the finished snapshot, so the
// completion event may report fewer failures than Snapshot does later.
func (a *BatchAggregator) Finish(batchID, taskID string, taskTotal int64, failed bool) {
	a.mu.Lock()
	b, ok := a.batches[batchID]
	if !ok {
		if s, done := a.finished[batchID]; done && s.Pending > 0 {
			s.Pending--
			if failed {
				s.Failed++
			}
			a.finished[batchID] = s
		}
		a.mu.Unlock()
		return
	}
	if rest := taskTotal - b.reported[taskID]; rest > 0 {
		b.addLocked(rest)
	}
	delete(b.reported, taskID)
	b.Pending--
	if failed {
		b.Failed++
	}
	snap, done := a.checkLocked(b)
	a.mu.Unlock()

	a.publish(snap, done)
}

func (b *batch) addLocked(delta int64) {
	b.Transferred += delta
	if b.Total > 0 && b.Transferred > b.Total {
		b.Transferred = b.Total
	}
}

// checkLocked disposes of the batch once nothing is pending or all bytes
// have arrived.
func (a *BatchAggregator) checkLocked(b *batch) (BatchSnapshot, bool) {
	done := b.Pending <= 0 || (b.Total > 0 && b.Transferred >= b.Total)
	if done {
		b.Done = true
		delete(a.batches, b.ID)
		a.finished[b.ID] = b.BatchSnapshot
	}
	return b.BatchSnapshot, done
}

func (a *BatchAggregator) publish(s BatchSnapshot, done bool) {
	if a.bus == nil {
		return
	}
	typ := events.EventBatchProgress
	if done {
		typ = events.EventBatchCompleted
	}
	a.bus.PublishBatch(typ, events.BatchEvent{
		BatchID:     s.ID,
		Label:       s.Label,
		Transferred: s.Transferred,
		Total:       s.Total,
		Pending:     s.Pending,
		Failed:      s.Failed,
	})
}

// Snapshot returns the state of an open or finished batch.
func (a *BatchAggregator) Snapshot(batchID string) (BatchSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.batches[batchID]; ok {
		return b.BatchSnapshot, true
	}
	s, ok := a.finished[batchID]
	return s, ok
}
