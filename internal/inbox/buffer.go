// ABOUTME: Bounded per-tenant buffer of inbound messages with a debug trace ring
// ABOUTME: Safe for one producer (the connection dispatcher) and many polling readers

package inbox

import (
	"sync"
	"time"

	"github.com/2389/wa-gateway/internal/phone"
)

// Defaults used when Config fields are zero.
const (
	DefaultCapacity      = 200
	DefaultTraceCapacity = 50
	DefaultReadLimit     = 50
	DefaultMaxReadLimit  = 500
)

// Item is one normalized inbound message.
type Item struct {
	ID        string  `json:"id,omitempty"`
	From      string  `json:"from"`
	SenderJID string  `json:"senderJid"`
	ChatJID   string  `json:"chatJid"`
	PushName  string  `json:"pushName,omitempty"`
	Type      string  `json:"type"`
	Text      *string `json:"text"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// TraceEntry records metadata about one raw inbound event.
type TraceEntry struct {
	TS          int64  `json:"ts"`
	RemoteJID   string `json:"remoteJid"`
	SenderJID   string `json:"senderJid"`
	SenderPhone string `json:"senderPhone"`
	FromMe      bool   `json:"fromMe"`
	MsgType     string `json:"msgType"`
}

// Stats counts message batches and messages seen by the dispatcher.
type Stats struct {
	Upserts      int64  `json:"upserts"`
	Messages     int64  `json:"messages"`
	LastUpsertAt *int64 `json:"lastUpsertAt"`
}

// Debug is a snapshot of the trace ring and stats.
type Debug struct {
	Stats Stats        `json:"stats"`
	Last  []TraceEntry `json:"last"`
}

// Config sizes a Buffer.
type Config struct {
	Capacity      int
	TraceCapacity int
	DefaultLimit  int
	MaxLimit      int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.TraceCapacity <= 0 {
		c.TraceCapacity = DefaultTraceCapacity
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = DefaultMaxReadLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultReadLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	return c
}

// ReadOptions controls a Read.
type ReadOptions struct {
	Consume bool
	// Limit is clamped to [1, MaxLimit]. Zero selects the default limit.
	Limit int
	// From filters by sender. It is normalized first; a value that
	// normalizes to nothing disables the filter.
	From string
}

// Buffer holds one tenant's inbound messages.
type Buffer struct {
	mu    sync.Mutex
	cfg   Config
	items []Item
	trace []TraceEntry
	stats Stats
}

// New creates an empty Buffer.
func New(cfg Config) *Buffer {
	return &Buffer{cfg: cfg.withDefaults()}
}

// Push appends item, evicting the oldest items beyond capacity.
func (b *Buffer) Push(item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if over := len(b.items) - b.cfg.Capacity; over > 0 {
		b.items = append(b.items[:0:0], b.items[over:]...)
	}
}

// RecordUpsert counts one delivered batch of messages.
func (b *Buffer) RecordUpsert(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ms := at.UnixMilli()
	b.stats.Upserts++
	b.stats.LastUpsertAt = &ms
}

// RecordMessage counts one message inside a batch, before any filtering.
func (b *Buffer) RecordMessage() {
	b.mu.Lock()
	b.stats.Messages++
	b.mu.Unlock()
}

// Trace appends to the debug ring.
func (b *Buffer) Trace(e TraceEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trace = append(b.trace, e)
	if over := len(b.trace) - b.cfg.TraceCapacity; over > 0 {
		b.trace = append(b.trace[:0:0], b.trace[over:]...)
	}
}

// Read returns up to Limit of the most recent matching items, oldest first.
// With Consume set, the returned items are removed in the same critical
// section, so concurrent consumers never receive the same item twice.
func (b *Buffer) Read(opts ReadOptions) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.clampLimit(opts.Limit)

	filtered := b.items
	if target := phone.Normalize(opts.From); target != "" {
		filtered = make([]Item, 0, len(b.items))
		for _, it := range b.items {
			if it.From == target {
				filtered = append(filtered, it)
			}
		}
	}

	window := filtered
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]Item, len(window))
	copy(out, window)

	if opts.Consume && len(out) > 0 {
		b.consumeLocked(out)
	}
	return out
}

func (b *Buffer) clampLimit(n int) int {
	switch {
	case n == 0:
		return b.cfg.DefaultLimit
	case n < 1:
		return 1
	case n > b.cfg.MaxLimit:
		return b.cfg.MaxLimit
	}
	return n
}

func (b *Buffer) consumeLocked(taken []Item) {
	ids := make(map[string]struct{}, len(taken))
	for _, it := range taken {
		if it.ID != "" {
			ids[it.ID] = struct{}{}
		}
	}

	kept := b.items[:0:0]
	if len(ids) > 0 {
		for _, it := range b.items {
			if _, gone := ids[it.ID]; it.ID == "" || !gone {
				kept = append(kept, it)
			}
		}
	} else {
		last := taken[len(taken)-1].Timestamp
		for _, it := range b.items {
			if it.Timestamp > last {
				kept = append(kept, it)
			}
		}
	}
	b.items = kept
}

// Debug returns a copy of the stats and trace ring.
func (b *Buffer) Debug() Debug {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := Debug{Stats: b.stats, Last: make([]TraceEntry, len(b.trace))}
	copy(d.Last, b.trace)
	if b.stats.LastUpsertAt != nil {
		ms := *b.stats.LastUpsertAt
		d.Stats.LastUpsertAt = &ms
	}
	return d
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
