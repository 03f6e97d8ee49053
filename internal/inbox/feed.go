// ABOUTME: Live fan-out of newly buffered inbox items to streaming subscribers
// ABOUTME: Observe-only; streaming an item does not consume it from the buffer

package inbox

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the channel depth per subscriber; a slow subscriber
// misses items rather than stalling the dispatcher.
const subscriberBuffer = 64

// Feed publishes items per tenant to any number of subscribers.
type Feed struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan Item // tenant -> sub ID -> ch
	logger *slog.Logger
}

// NewFeed creates a feed. Pass nil logger for default.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subs:   make(map[string]map[string]chan Item),
		logger: logger.With("component", "inbox_feed"),
	}
}

// Subscribe registers for tenant's items until ctx ends, after which the
// channel is closed.
func (f *Feed) Subscribe(ctx context.Context, tenant string) <-chan Item {
	id := uuid.NewString()
	ch := make(chan Item, subscriberBuffer)

	f.mu.Lock()
	if f.subs[tenant] == nil {
		f.subs[tenant] = make(map[string]chan Item)
	}
	f.subs[tenant][id] = ch
	f.mu.Unlock()

	f.logger.Debug("subscriber added", "tenant", tenant, "sub_id", id)

	go func() {
		<-ctx.Done()
		f.unsubscribe(tenant, id)
	}()
	return ch
}

// Publish hands item to every subscriber of tenant without blocking.
func (f *Feed) Publish(tenant string, item Item) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.subs[tenant] {
		select {
		case ch <- item:
		default:
			f.logger.Debug("dropped item for slow subscriber", "tenant", tenant, "sub_id", id)
		}
	}
}

// Subscribers returns the number of live subscriptions for tenant.
func (f *Feed) Subscribers(tenant string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[tenant])
}

func (f *Feed) unsubscribe(tenant, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[tenant]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(f.subs, tenant)
	}
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for tenant, subs := range f.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(f.subs, tenant)
	}
}
