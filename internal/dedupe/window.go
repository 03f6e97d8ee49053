// ABOUTME: Size-bounded, time-limited window of recently seen message IDs
// ABOUTME: Used by the session dispatcher to drop redelivered inbound messages

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an ID is remembered.
	DefaultTTL = 30 * time.Minute
	// DefaultSize bounds the number of remembered IDs.
	DefaultSize = 10000
)

type entry struct {
	key  string
	seen time.Time
}

// Window remembers keys for a fixed TTL, evicting the oldest key when full.
// Entries are ordered by first sighting, so expiry scans stop at the first
// live entry.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // of *entry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a window. Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, maxSize int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key builds the window key for a tenant-scoped message ID.
func Key(tenant, messageID string) string {
	return tenant + "\x00" + messageID
}

// Seen reports whether key was recorded within the TTL, and records it if
// not. Check and record happen under one lock.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if _, ok := w.index[key]; ok {
		return true
	}

	if w.order.Len() >= w.maxSize {
		oldest := w.order.Front()
		w.order.Remove(oldest)
		delete(w.index, oldest.Value.(*entry).key)
	}
	w.index[key] = w.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return w.order.Len()
}

func (w *Window) expireLocked(now time.Time) {
	for e := w.order.Front(); e != nil; e = w.order.Front() {
		ent := e.Value.(*entry)
		if now.Sub(ent.seen) < w.ttl {
			return
		}
		w.order.Remove(e)
		delete(w.index, ent.key)
	}
}
