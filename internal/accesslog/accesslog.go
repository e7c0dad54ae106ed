// Package accesslog records who touched what on the file server.
package accesslog

import (
	"sync"
	"time"

	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/logging"
)

// Actions recorded by the server.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLoginBlocked   = "login_blocked"
	ActionLogout         = "logout"
	ActionList           = "list"
	ActionDownload       = "download"
	ActionDownloadFolder = "download_folder"
	ActionUpload         = "upload"
	ActionForbidden      = "forbidden"
	ActionCheckCode      = "check_code"
	ActionSharedFolders  = "shared_folders"
	ActionAccessLog      = "access_log"
)

// Entry is one immutable access record.
type Entry struct {
	Time     time.Time `json:"time"`
	Address  string    `json:"ip"`
	Identity string    `json:"user"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail"`
}

// Sink receives every appended entry. Implementations must not block for long;
// Append is called on the request path.
type Sink interface {
	Write(Entry) error
}

// Source is a sink that can read back what it stored.
type Source interface {
	Sink
	Recent(limit int) ([]Entry, error)
}

// Log is a bounded ring of entries. Once full, the oldest entry is dropped.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int

	sink   Sink
	logger *logging.Logger
}

// New creates a ring holding at most capacity entries. capacity <= 0 uses the
// default of 1000.
func New(capacity int, logger *logging.Logger) *Log {
	if capacity <= 0 {
		capacity = constants.AccessLogCapacity
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Log{
		entries: make([]Entry, capacity),
		logger:  logger,
	}
}

// SetSink attaches a persistent sink. Sink errors are logged and otherwise
// ignored; the in-memory ring is authoritative for reads.
func (l *Log) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

// Append records an entry stamped with the current time.
func (l *Log) Append(address, identity, action, detail string) Entry {
	e := Entry{
		Time:     time.Now(),
		Address:  address,
		Identity: identity,
		Action:   action,
		Detail:   detail,
	}

	l.mu.Lock()
	idx := (l.start + l.count) % len(l.entries)
	l.entries[idx] = e
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
	sink := l.sink
	l.mu.Unlock()

	l.logger.Info().
		Str("ip", address).
		Str("user", identity).
		Str("action", action).
		Str("detail", detail).
		Msg("access")

	if sink != nil {
		if err := sink.Write(e); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to persist access log entry")
		}
	}
	return e
}

// Recent returns up to limit of the newest entries, oldest first.
// limit <= 0 returns everything held.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	first := l.start + l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.entries[(first+i)%len(l.entries)]
	}
	return out
}

// History returns up to limit of the newest entries, oldest first. A sink
// that implements Source is read first so history survives restarts; the
// ring is the fallback.
func (l *Log) History(limit int) []Entry {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()

	if src, ok := sink.(Source); ok {
		entries, err := src.Recent(limit)
		if err == nil {
			return entries
		}
		l.logger.Warn().Err(err).Msg("Failed to read persisted access log")
	}
	return l.Recent(limit)
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the ring capacity.
func (l *Log) Cap() int {
	return len(l.entries)
}
