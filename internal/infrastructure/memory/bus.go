package memory

import (
	"context"
	"sync"

	"replica/internal/core/pubsub"
)

const subscriptionBuffer = 64

var _ pubsub.Bus = (*Bus)(nil)

// Bus is a channel-based pubsub.Bus. Publish blocks until every current
// subscriber has buffered the message, the subscriber closes, or ctx ends.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscription]struct{})}
}

type subscription struct {
	bus     *Bus
	channel string
	ch      chan string
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Messages() <-chan string { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		delete(s.bus.subs[s.channel], s)
		if len(s.bus.subs[s.channel]) == 0 {
			delete(s.bus.subs, s.channel)
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe registers a subscription; it is active on return.
func (b *Bus) Subscribe(_ context.Context, channel string) (pubsub.Subscription, error) {
	s := &subscription{
		bus:     b,
		channel: channel,
		ch:      make(chan string, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Publish delivers payload to the current subscribers of channel.
func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[channel] {
		select {
		case s.ch <- payload:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
