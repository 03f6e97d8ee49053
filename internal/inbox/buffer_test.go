// ABOUTME: Tests for the inbox buffer
// ABOUTME: Validates FIFO eviction, windowed reads, sender filters, consumption, and the debug ring

package inbox

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id, from string, ts int64) Item {
	return Item{ID: id, From: from, SenderJID: from + "@s.whatsapp.net", ChatJID: from + "@s.whatsapp.net", Type: "conversation", Timestamp: ts}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := New(Config{Capacity: 5})

	for i := 1; i <= 12; i++ {
		b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
	}

	assert.Equal(t, 5, b.Len())
	got := b.Read(ReadOptions{Limit: 100})
	assert.Equal(t, []string{"m8", "m9", "m10", "m11", "m12"}, ids(got))
}

func TestBuffer_RetainsMinOfPushedAndCap(t *testing.T) {
	for _, pushed := range []int{0, 1, 199, 200, 201, 450} {
		b := New(Config{})
		for i := 0; i < pushed; i++ {
			b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
		}
		want := pushed
		if want > DefaultCapacity {
			want = DefaultCapacity
		}
		assert.Equal(t, want, b.Len(), "pushed %d", pushed)
	}
}

func TestBuffer_ReadWindowOldestFirst(t *testing.T) {
	b := New(Config{})
	for i := 1; i <= 10; i++ {
		b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
	}

	got := b.Read(ReadOptions{Limit: 3})
	assert.Equal(t, []string{"m8", "m9", "m10"}, ids(got))
}

func TestBuffer_LimitClamping(t *testing.T) {
	b := New(Config{Capacity: 1000})
	for i := 0; i < 600; i++ {
		b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
	}

	assert.Len(t, b.Read(ReadOptions{}), DefaultReadLimit)
	assert.Len(t, b.Read(ReadOptions{Limit: -4}), 1)
	assert.Len(t, b.Read(ReadOptions{Limit: 10000}), DefaultMaxReadLimit)
}

func TestBuffer_FilterBySender(t *testing.T) {
	b := New(Config{})
	b.Push(item("a1", "6281111", 1))
	b.Push(item("b1", "6282222", 2))
	b.Push(item("a2", "6281111", 3))

	got := b.Read(ReadOptions{From: "081111"})
	assert.Equal(t, []string{"a1", "a2"}, ids(got))

	// A filter that normalizes to nothing is ignored.
	got = b.Read(ReadOptions{From: "not-a-number"})
	assert.Len(t, got, 3)
}

func TestBuffer_UnconsumedReadsAreRepeatable(t *testing.T) {
	b := New(Config{})
	b.Push(item("m1", "62812", 1))
	b.Push(item("m2", "62812", 2))

	first := b.Read(ReadOptions{})
	second := b.Read(ReadOptions{})
	assert.Equal(t, first, second)
}

func TestBuffer_ConsumeByID(t *testing.T) {
	b := New(Config{})
	b.Push(item("a1", "6281111", 1))
	b.Push(item("b1", "6282222", 2))
	b.Push(item("a2", "6281111", 3))

	got := b.Read(ReadOptions{Consume: true, From: "6281111"})
	assert.Equal(t, []string{"a1", "a2"}, ids(got))

	again := b.Read(ReadOptions{From: "6281111"})
	assert.Empty(t, again)

	rest := b.Read(ReadOptions{})
	assert.Equal(t, []string{"b1"}, ids(rest))
}

func TestBuffer_ConsumeWindowOnly(t *testing.T) {
	b := New(Config{})
	for i := 1; i <= 5; i++ {
		b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
	}

	got := b.Read(ReadOptions{Consume: true, Limit: 2})
	assert.Equal(t, []string{"m4", "m5"}, ids(got))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(b.Read(ReadOptions{})))
}

func TestBuffer_ConsumeKeepsItemsWithoutID(t *testing.T) {
	b := New(Config{})
	b.Push(item("", "62812", 1))
	b.Push(item("m2", "62812", 2))

	got := b.Read(ReadOptions{Consume: true})
	require.Len(t, got, 2)

	rest := b.Read(ReadOptions{})
	require.Len(t, rest, 1)
	assert.Equal(t, "", rest[0].ID)
}

func TestBuffer_ConsumeTimestampFallback(t *testing.T) {
	b := New(Config{})
	b.Push(item("", "6281111", 10))
	b.Push(item("", "6282222", 20))
	b.Push(item("", "6281111", 20))
	b.Push(item("", "6281111", 30))

	got := b.Read(ReadOptions{Consume: true, From: "6282222"})
	require.Len(t, got, 1)

	// Everything at or before ts=20 is gone, including the colliding item
	// from another sender.
	rest := b.Read(ReadOptions{})
	require.Len(t, rest, 1)
	assert.Equal(t, int64(30), rest[0].Timestamp)
}

func TestBuffer_ConcurrentConsumersNeverShareItems(t *testing.T) {
	b := New(Config{Capacity: 1000})
	for i := 0; i < 500; i++ {
		b.Push(item(fmt.Sprintf("m%d", i), "62812", int64(i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got := b.Read(ReadOptions{Consume: true, Limit: 7})
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, it := range got {
					seen[it.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 500)
	for id, n := range seen {
		if n != 1 {
			t.Errorf("item %s delivered %d times", id, n)
		}
	}
}

func TestBuffer_DebugTrace(t *testing.T) {
	b := New(Config{})

	d := b.Debug()
	assert.Nil(t, d.Stats.LastUpsertAt)
	assert.Empty(t, d.Last)

	at := time.UnixMilli(1700000000000)
	b.RecordUpsert(at)
	b.RecordMessage()
	b.RecordMessage()
	for i := 0; i < 60; i++ {
		b.Trace(TraceEntry{TS: int64(i), RemoteJID: "62812@s.whatsapp.net", MsgType: "conversation"})
	}

	d = b.Debug()
	assert.Equal(t, int64(1), d.Stats.Upserts)
	assert.Equal(t, int64(2), d.Stats.Messages)
	require.NotNil(t, d.Stats.LastUpsertAt)
	assert.Equal(t, at.UnixMilli(), *d.Stats.LastUpsertAt)
	require.Len(t, d.Last, DefaultTraceCapacity)
	assert.Equal(t, int64(10), d.Last[0].TS)
	assert.Equal(t, int64(59), d.Last[len(d.Last)-1].TS)

	// Trace entries are independent of consumable items.
	assert.Equal(t, 0, b.Len())
}
