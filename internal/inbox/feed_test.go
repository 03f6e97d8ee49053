// ABOUTME: Tests for the live inbox feed
// ABOUTME: Covers delivery, tenant isolation, slow subscribers, and cancellation

package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Item) Item {
	t.Helper()
	select {
	case it, ok := <-ch:
		require.True(t, ok, "channel closed")
		return it
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for item")
	}
	return Item{}
}

func TestFeed_DeliversToTenantSubscribers(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	a1 := f.Subscribe(t.Context(), "acme")
	a2 := f.Subscribe(t.Context(), "acme")
	g := f.Subscribe(t.Context(), "globex")

	f.Publish("acme", Item{ID: "m1"})

	assert.Equal(t, "m1", recv(t, a1).ID)
	assert.Equal(t, "m1", recv(t, a2).ID)
	select {
	case it := <-g:
		t.Fatalf("globex received %q", it.ID)
	default:
	}
}

func TestFeed_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	ch := f.Subscribe(t.Context(), "acme")
	for i := 0; i < subscriberBuffer+10; i++ {
		f.Publish("acme", Item{Timestamp: int64(i)})
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestFeed_CancelClosesChannel(t *testing.T) {
	f := NewFeed(nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx, "acme")
	assert.Equal(t, 1, f.Subscribers("acme"))

	cancel()
	require.Eventually(t, func() bool { return f.Subscribers("acme") == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after everyone left is a no-op.
	f.Publish("acme", Item{ID: "late"})
}
