// Package events carries typed progress notifications from transfer workers to
// whatever presents them (CLI progress bars, tests, a GUI).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fshare/fshare/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventTransferQueued    EventType = "transfer_queued"    // Task registered, waiting for a slot
	EventTransferStarted   EventType = "transfer_started"   // Worker picked the task up
	EventTransferProgress  EventType = "transfer_progress"  // Bytes moved
	EventTransferPaused    EventType = "transfer_paused"    // Download paused by the user
	EventTransferResumed   EventType = "transfer_resumed"   // Download resumed
	EventTransferCompleted EventType = "transfer_completed" // Terminal: success
	EventTransferFailed    EventType = "transfer_failed"    // Terminal: error
	EventTransferCancelled EventType = "transfer_cancelled" // Terminal: cancelled

	EventBatchProgress  EventType = "batch_progress"  // Aggregate bytes of a folder upload changed
	EventBatchCompleted EventType = "batch_completed" // Folder upload finished
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent reports the state of a single task.
// Events for one task are published by one goroutine, so Transferred never
// decreases between consecutive events of the same attempt.
type TransferEvent struct {
	BaseEvent
	TaskID      string
	TaskType    string // "upload" or "download"
	Name        string
	BatchID     string
	State       string
	Transferred int64
	Total       int64   // 0 while unknown
	SpeedBps    float64 // bytes/sec since the attempt started
	Message     string  // completion qualifier, e.g. extraction result
	Error       error
}

// BatchEvent reports aggregate progress of a folder upload.
type BatchEvent struct {
	BaseEvent
	BatchID     string
	Label       string
	Transferred int64
	Total       int64
	Pending     int
	Failed      int
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Subscribers with a
// full buffer miss the event; terminal events are published the same way, so a
// slow consumer should size its buffer accordingly.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishTransfer is a convenience method for publishing a task event
func (eb *EventBus) PublishTransfer(eventType EventType, ev TransferEvent) {
	ev.BaseEvent = BaseEvent{EventType: eventType, Time: time.Now()}
	eb.Publish(&ev)
}

// PublishBatch is a convenience method for publishing a batch event
func (eb *EventBus) PublishBatch(eventType EventType, ev BatchEvent) {
	ev.BaseEvent = BaseEvent{EventType: eventType, Time: time.Now()}
	eb.Publish(&ev)
}

// UnsubscribeAll removes a subscription channel from all event types.
// The channel is not closed; the caller stops reading from it.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
