package transfer

import (
	"sync"
)

// UploadScheduler admits queued uploads in FIFO order, at most limit at a
// time. When a running upload finishes the next queued one starts at once.
type UploadScheduler struct {
	mu     sync.Mutex
	queue  []*TransferTask
	active int
	limit  int
	run    func(*TransferTask)
}

// NewUploadScheduler creates a scheduler that calls run on its own goroutine
// for every admitted task.
func NewUploadScheduler(limit int, run func(*TransferTask)) *UploadScheduler {
	if limit <= 0 {
		limit = 1
	}
	return &UploadScheduler{limit: limit, run: run}
}

// Enqueue appends tasks to the queue and admits as many as the cap allows.
func (s *UploadScheduler) Enqueue(tasks ...*TransferTask) {
	s.mu.Lock()
	s.queue = append(s.queue, tasks...)
	admitted := s.admitLocked()
	s.mu.Unlock()

	s.launch(admitted)
}

func (s *UploadScheduler) admitLocked() []*TransferTask {
	var admitted []*TransferTask
	for s.active < s.limit && len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		// Cancelled while waiting; it never takes a slot.
		if t.State().Terminal() {
			continue
		}
		s.active++
		admitted = append(admitted, t)
	}
	return admitted
}

func (s *UploadScheduler) launch(tasks []*TransferTask) {
	for _, t := range tasks {
		go func(t *TransferTask) {
			s.run(t)
			s.release()
		}(t)
	}
}

func (s *UploadScheduler) release() {
	s.mu.Lock()
	s.active--
	admitted := s.admitLocked()
	s.mu.Unlock()

	s.launch(admitted)
}

// Stats returns the number of queued and running uploads.
func (s *UploadScheduler) Stats() (queued, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.active
}
