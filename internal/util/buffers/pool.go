// Package buffers provides reusable byte buffers for streaming transfers.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/fshare/fshare/internal/constants"
)

// Allocation counters, for Stats.
var (
	chunkAllocations  int64
	streamAllocations int64
)

var (
	// chunkPool provides 1MB buffers for client download chunks.
	chunkPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&chunkAllocations, 1)
			buf := make([]byte, constants.DownloadChunkSize)
			return &buf
		},
	}

	// streamPool provides 4MB buffers for server-side archive streaming.
	streamPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&streamAllocations, 1)
			buf := make([]byte, constants.ArchiveStreamChunkSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a 1MB buffer from the pool.
// Return it with PutChunkBuffer when done.
//
// Usage:
//
//	buf := buffers.GetChunkBuffer()
//	defer buffers.PutChunkBuffer(buf)
//	n, err := body.Read(*buf)
//	// Use (*buf)[:n] for actual data
func GetChunkBuffer() *[]byte {
	return chunkPool.Get().(*[]byte)
}

// PutChunkBuffer returns a buffer to the pool. Only buffers of
// DownloadChunkSize are pooled; anything else is dropped.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.DownloadChunkSize {
		chunkPool.Put(buf)
	}
}

// GetStreamBuffer retrieves a 4MB buffer used to stream temporary archives.
func GetStreamBuffer() *[]byte {
	return streamPool.Get().(*[]byte)
}

// PutStreamBuffer returns a stream buffer to the pool.
func PutStreamBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.ArchiveStreamChunkSize {
		streamPool.Put(buf)
	}
}

// Stats reports buffer sizes and how many buffers the pools have allocated.
type Stats struct {
	ChunkBufferSize   int
	StreamBufferSize  int
	ChunkAllocations  int64
	StreamAllocations int64
}

// GetStats returns current pool statistics.
func GetStats() Stats {
	return Stats{
		ChunkBufferSize:   constants.DownloadChunkSize,
		StreamBufferSize:  constants.ArchiveStreamChunkSize,
		ChunkAllocations:  atomic.LoadInt64(&chunkAllocations),
		StreamAllocations: atomic.LoadInt64(&streamAllocations),
	}
}
