// Package throttle limits login attempts per source address.
//
// Failures are kept in a sliding window per address. Reaching the limit blocks
// the address for a fixed duration. Expired blocks are cleared lazily on the
// next check; there is no background sweep. State is in memory only.
package throttle

import (
	"sync"
	"time"

	"github.com/fshare/fshare/internal/constants"
)

// Config holds the throttle parameters.
type Config struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultConfig returns 5 attempts per 5 minutes with a 15 minute block.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   constants.MaxLoginAttempts,
		Window:        constants.LoginAttemptWindow,
		BlockDuration: constants.LoginBlockDuration,
	}
}

// Throttle tracks failed logins. Safe for concurrent use.
type Throttle struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	attempts     map[string][]time.Time
	blockedUntil map[string]time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// New creates a throttle. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Throttle {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	t := &Throttle{
		cfg:          cfg,
		now:          time.Now,
		attempts:     make(map[string][]time.Time),
		blockedUntil: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure appends a failure for addr and returns how many attempts remain
// before the address is blocked. A return of 0 means addr is now blocked.
func (t *Throttle) RecordFailure(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := t.prune(addr, now)
	recent = append(recent, now)
	t.attempts[addr] = recent

	if len(recent) >= t.cfg.MaxAttempts {
		t.blockedUntil[addr] = now.Add(t.cfg.BlockDuration)
		return 0
	}
	return t.cfg.MaxAttempts - len(recent)
}

// RecordSuccess clears all state for addr.
func (t *Throttle) RecordSuccess(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, addr)
	delete(t.blockedUntil, addr)
}

// IsBlocked reports whether addr is blocked and, if so, the remaining block
// time rounded up to whole seconds. An expired block is cleared together with
// the address's failure history.
func (t *Throttle) IsBlocked(addr string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.blockedUntil[addr]
	if !ok {
		return false, 0
	}
	now := t.now()
	if !now.Before(until) {
		delete(t.blockedUntil, addr)
		delete(t.attempts, addr)
		return false, 0
	}
	remaining := until.Sub(now)
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return true, secs
}

// prune drops failures older than the window. Caller holds t.mu.
func (t *Throttle) prune(addr string, now time.Time) []time.Time {
	list := t.attempts[addr]
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}
	if i == len(list) {
		delete(t.attempts, addr)
		return nil
	}
	list = list[i:]
	t.attempts[addr] = list
	return list
}
