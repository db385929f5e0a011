package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV(t *testing.T) {
	ctx := context.Background()
	s := NewKV()

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "orders:last-tick", "10"))
	require.NoError(t, s.Set(ctx, "orders:status", "ACTIVE"))
	require.NoError(t, s.Set(ctx, "users:status", "ACTIVE"))

	v, ok, err := s.Get(ctx, "orders:last-tick")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10", v)

	keys, err := s.Keys(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:last-tick", "orders:status"}, keys)

	require.NoError(t, s.Delete(ctx, keys...))
	keys, _ = s.Keys(ctx, "")
	assert.Equal(t, []string{"users:status"}, keys)
}

func TestBusDeliversToSubscribers(t *testing.T) {
	ctx := context.Background()
	b := NewBus()

	s1, err := b.Subscribe(ctx, "orders:manager")
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, "orders:manager")
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "users:manager")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "orders:manager", "PING"))

	assert.Equal(t, "PING", <-s1.Messages())
	assert.Equal(t, "PING", <-s2.Messages())
	select {
	case m := <-other.Messages():
		t.Fatalf("unexpected message %q", m)
	default:
	}
}

func TestBusCloseEndsMessages(t *testing.T) {
	ctx := context.Background()
	b := NewBus()
	s, err := b.Subscribe(ctx, "c")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, open := <-s.Messages()
	assert.False(t, open)
	assert.NoError(t, b.Publish(ctx, "c", "x"))
}

func TestPublishUnblocksOnClose(t *testing.T) {
	ctx := context.Background()
	b := NewBus()
	s, err := b.Subscribe(ctx, "c")
	require.NoError(t, err)

	for i := 0; i < subscriptionBuffer; i++ {
		require.NoError(t, b.Publish(ctx, "c", "fill"))
	}

	done := make(chan error, 1)
	go func() { done <- b.Publish(ctx, "c", "blocked") }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish did not return after close")
	}
}
