package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.PublishTransfer(EventTransferProgress, TransferEvent{
		TaskID:      "task-1",
		TaskType:    "download",
		Name:        "report.pdf",
		Transferred: 512,
		Total:       1024,
	})

	select {
	case received := <-ch:
		ev, ok := received.(*TransferEvent)
		if !ok {
			t.Fatal("Expected TransferEvent")
		}
		if ev.TaskID != "task-1" {
			t.Errorf("Expected task ID 'task-1', got '%s'", ev.TaskID)
		}
		if ev.Transferred != 512 || ev.Total != 1024 {
			t.Errorf("Expected 512/1024, got %d/%d", ev.Transferred, ev.Total)
		}
		if ev.Timestamp().IsZero() {
			t.Error("Timestamp should be set by PublishTransfer")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_TypeFiltering(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	batchCh := bus.Subscribe(EventBatchCompleted)
	bus.PublishTransfer(EventTransferCompleted, TransferEvent{TaskID: "a"})
	bus.PublishBatch(EventBatchCompleted, BatchEvent{BatchID: "b", Total: 10, Transferred: 10})

	select {
	case received := <-batchCh:
		ev, ok := received.(*BatchEvent)
		if !ok {
			t.Fatalf("Expected BatchEvent, got %T", received)
		}
		if ev.BatchID != "b" {
			t.Errorf("Expected batch 'b', got '%s'", ev.BatchID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for batch event")
	}

	select {
	case extra := <-batchCh:
		t.Errorf("Unexpected extra event %v", extra.Type())
	default:
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	all := bus.SubscribeAll()
	bus.PublishTransfer(EventTransferQueued, TransferEvent{TaskID: "x"})
	bus.PublishBatch(EventBatchProgress, BatchEvent{BatchID: "y"})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for event %d", i)
		}
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventTransferProgress)
	bus.PublishTransfer(EventTransferProgress, TransferEvent{TaskID: "1"})
	bus.PublishTransfer(EventTransferProgress, TransferEvent{TaskID: "2"})

	if got := bus.GetDroppedEventCount(); got != 1 {
		t.Errorf("Expected 1 dropped event, got %d", got)
	}
}

func TestEventBus_CloseClosesChannels(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTransferFailed)
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after Close()")
	}

	// Publishing after close must not panic.
	bus.PublishTransfer(EventTransferFailed, TransferEvent{TaskID: "late"})

	late := bus.SubscribeAll()
	if _, ok := <-late; ok {
		t.Error("Subscribing after Close() should return a closed channel")
	}
}

func TestEventBus_UnsubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.SubscribeAll()
	bus.UnsubscribeAll(ch)
	bus.PublishTransfer(EventTransferStarted, TransferEvent{TaskID: "z"})

	select {
	case <-ch:
		t.Error("Unsubscribed channel should not receive events")
	default:
	}
}
