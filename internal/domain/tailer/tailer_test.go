package tailer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/wal"
)

// fakeLog serves chunks of at most perChunk entries with ticks strictly after from.
type fakeLog struct {
	entries  []wal.Entry
	perChunk int
	calls    []wal.Tick
	err      error
}

func newFakeLog(perChunk int, ticks ...wal.Tick) *fakeLog {
	l := &fakeLog{perChunk: perChunk}
	for _, tk := range ticks {
		l.entries = append(l.entries, wal.Entry{
			Tick: tk,
			Type: wal.OpUpsert,
			CUID: "c1",
			Data: map[string]any{"_key": tk.String()},
		})
	}
	return l
}

func (l *fakeLog) Tail(_ context.Context, from wal.Tick, _ int) (wal.Batch, error) {
	l.calls = append(l.calls, from)
	if l.err != nil {
		return wal.Batch{}, l.err
	}
	var out []wal.Entry
	remaining := 0
	for _, e := range l.entries {
		if e.Tick <= from {
			continue
		}
		if len(out) < l.perChunk {
			out = append(out, e)
		} else {
			remaining++
		}
	}
	if len(out) == 0 {
		return wal.Batch{FromPresent: true}, nil
	}
	return wal.Batch{
		Entries:      out,
		LastIncluded: out[len(out)-1].Tick,
		CheckMore:    remaining > 0,
		FromPresent:  true,
	}, nil
}

func TestNextWalksChunksWhileCheckMore(t *testing.T) {
	log := newFakeLog(2, 10, 11, 12, 13, 14)
	tl := New(log, 0, 0)

	var seen []wal.Tick
	ack := false
	for {
		b, err := tl.Next(context.Background(), ack)
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		for _, e := range b.Entries {
			seen = append(seen, e.Tick)
		}
		ack = true
	}

	assert.Equal(t, []wal.Tick{10, 11, 12, 13, 14}, seen)
	assert.Equal(t, wal.Tick(14), tl.Cursor())
	assert.Equal(t, []wal.Tick{0, 11, 13}, log.calls)
}

func TestNextWithoutAckRefetchesIdenticalBatch(t *testing.T) {
	log := newFakeLog(2, 10, 11, 12)
	tl := New(log, 0, 0)

	first, err := tl.Next(context.Background(), false)
	require.NoError(t, err)
	again, err := tl.Next(context.Background(), false)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(again)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, wal.Tick(0), tl.Cursor())
	assert.Equal(t, []wal.Tick{0, 0}, log.calls)

	next, err := tl.Next(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, wal.Tick(12), next.LastIncluded)
	assert.Equal(t, wal.Tick(11), tl.Cursor())
}

func TestLastIncludedIsMonotonic(t *testing.T) {
	log := newFakeLog(1, 3, 5, 8, 9)
	tl := New(log, 0, 0)

	var prev wal.Tick
	ack := false
	for {
		b, err := tl.Next(context.Background(), ack)
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.LastIncluded, prev)
		prev = b.LastIncluded
		ack = true
	}
	assert.Equal(t, wal.Tick(9), prev)
}

func TestEmptySentinelEndsSequence(t *testing.T) {
	log := newFakeLog(2)
	tl := New(log, 42, 0)

	_, err := tl.Next(context.Background(), false)
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = tl.Next(context.Background(), true)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Len(t, log.calls, 1)
	assert.Equal(t, wal.Tick(42), tl.Cursor())
}

func TestSequenceEndsAfterLastChunkAcked(t *testing.T) {
	log := newFakeLog(5, 1, 2)
	tl := New(log, 0, 0)

	b, err := tl.Next(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, b.CheckMore)

	_, err = tl.Next(context.Background(), true)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, wal.Tick(2), tl.Cursor())

	log.entries = append(log.entries, wal.Entry{Tick: 3, Type: wal.OpUpsert})
	tl.Reset(tl.Cursor())
	b, err = tl.Next(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, wal.Tick(3), b.LastIncluded)
}

func TestUnackedLastChunkIsRetriedNotEnded(t *testing.T) {
	log := newFakeLog(5, 1, 2)
	tl := New(log, 0, 0)

	_, err := tl.Next(context.Background(), false)
	require.NoError(t, err)
	b, err := tl.Next(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, wal.Tick(2), b.LastIncluded)
	assert.Equal(t, wal.Tick(0), tl.Cursor())
}

func TestSourceErrorKeepsCursor(t *testing.T) {
	log := newFakeLog(1, 1, 2)
	tl := New(log, 0, 0)

	_, err := tl.Next(context.Background(), false)
	require.NoError(t, err)

	log.err = errors.New("connection refused")
	_, err = tl.Next(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, wal.Tick(1), tl.Cursor())
}

func TestNextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newFakeLog(1, 1), 0, 0).Next(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

type sourceFunc func(ctx context.Context, from wal.Tick, chunkSize int) (wal.Batch, error)

func (f sourceFunc) Tail(ctx context.Context, from wal.Tick, chunkSize int) (wal.Batch, error) {
	return f(ctx, from, chunkSize)
}

func TestChunkWithoutLastIncludedIsNotSentinel(t *testing.T) {
	var froms []wal.Tick
	src := sourceFunc(func(_ context.Context, from wal.Tick, _ int) (wal.Batch, error) {
		froms = append(froms, from)
		return wal.Batch{
			Entries: []wal.Entry{
				{Tick: 11, Type: wal.OpUpsert, Data: map[string]any{"_key": "a"}},
				{Tick: 12, Type: wal.OpTxnCommit},
			},
			FromPresent: true,
		}, nil
	})
	tl := New(src, 10, 0)

	b, err := tl.Next(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, b.Entries, 2)
	assert.Equal(t, wal.Tick(12), b.LastIncluded)

	_, err = tl.Next(context.Background(), true)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, wal.Tick(12), tl.Cursor())
	assert.Equal(t, []wal.Tick{10}, froms)
}
