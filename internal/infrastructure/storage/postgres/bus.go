package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"replica/internal/core/pubsub"
	"replica/pkg/logger"
)

var _ pubsub.Bus = (*NotifyBus)(nil)

const notifyBuffer = 64

// NotifyBus implements pubsub.Bus with LISTEN/NOTIFY. Each subscription holds
// a dedicated pool connection for its lifetime.
type NotifyBus struct {
	pool *Pool
	log  *logger.Logger
}

// NewNotifyBus creates a bus on pool.
func NewNotifyBus(pool *Pool, log *logger.Logger) *NotifyBus {
	return &NotifyBus{pool: pool, log: log.WithComponent("notify-bus")}
}

// Publish sends payload to channel.
func (b *NotifyBus) Publish(ctx context.Context, channel, payload string) error {
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel. The LISTEN is in effect when Subscribe returns.
func (b *NotifyBus) Subscribe(ctx context.Context, channel string) (pubsub.Subscription, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for %s: %w", channel, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	// The connection leaves the pool; it is closed with the subscription.
	raw := conn.Hijack()
	subCtx, cancel := context.WithCancel(context.Background())
	s := &notifySubscription{
		conn:    raw,
		channel: channel,
		ch:      make(chan string, notifyBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     b.log.With("channel", channel),
	}
	go s.loop(subCtx)
	return s, nil
}

type notifySubscription struct {
	conn    *pgx.Conn
	channel string
	ch      chan string
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	log     *logger.Logger
}

func (s *notifySubscription) Messages() <-chan string { return s.ch }

func (s *notifySubscription) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				s.log.Errorw("listen connection lost", "error", err)
			}
			return
		}
		if n.Channel != s.channel {
			continue
		}
		select {
		case s.ch <- n.Payload:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops listening and closes the connection.
func (s *notifySubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.conn.Close(context.Background())
	})
	return err
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
