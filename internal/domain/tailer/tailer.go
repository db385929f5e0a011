// Package tailer reads the source write-ahead log in acknowledged chunks.
//
// A Tailer is a pull-based request/response loop: every call to Next carries
// the acknowledgment of the batch returned by the previous call. The cursor
// only moves forward when that batch was processed; otherwise the same chunk
// is fetched again. A sequence ends when the source reports no further data
// (check_more is false) or returns the empty sentinel.
package tailer

import (
	"context"
	"fmt"

	"replica/internal/core/wal"
)

// Source is the log endpoint the tailer reads from.
type Source interface {
	// Tail returns the chunk of entries strictly after from.
	Tail(ctx context.Context, from wal.Tick, chunkSize int) (wal.Batch, error)
}

// DefaultChunkSize is the requested chunk size in bytes.
const DefaultChunkSize = 1 << 20

// Tailer is not safe for concurrent use; one worker owns it.
type Tailer struct {
	source    Source
	chunkSize int

	cursor wal.Tick
	last   *wal.Batch
	done   bool
}

// New creates a tailer positioned after start.
func New(source Source, start wal.Tick, chunkSize int) *Tailer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Tailer{source: source, chunkSize: chunkSize, cursor: start}
}

// Reset begins a new sequence after start, discarding any unacknowledged batch.
func (t *Tailer) Reset(start wal.Tick) {
	t.cursor = start
	t.last = nil
	t.done = false
}

// Cursor returns the acknowledged position.
func (t *Tailer) Cursor() wal.Tick {
	return t.cursor
}

// Next acknowledges the previous batch and returns the next one.
// The ack argument of the first call in a sequence is ignored.
//
// With ack == false the previous chunk is requested again from the same
// cursor. With ack == true the cursor moves to the previous batch's
// LastIncluded, and the sequence ends unless that batch had CheckMore set.
func (t *Tailer) Next(ctx context.Context, ack bool) (wal.Batch, error) {
	if t.done {
		return wal.Batch{}, ErrExhausted
	}

	if t.last != nil && ack {
		prev := t.last
		t.last = nil
		if prev.LastIncluded > t.cursor {
			t.cursor = prev.LastIncluded
		}
		if !prev.CheckMore {
			t.done = true
			return wal.Batch{}, ErrExhausted
		}
	}

	if err := ctx.Err(); err != nil {
		return wal.Batch{}, err
	}

	batch, err := t.source.Tail(ctx, t.cursor, t.chunkSize)
	if err != nil {
		return wal.Batch{}, fmt.Errorf("tail from %s: %w", t.cursor, err)
	}

	if batch.Empty() {
		t.done = true
		t.last = nil
		return wal.Batch{}, ErrExhausted
	}
	if batch.LastIncluded == 0 {
		// Entries without a last-included header: the chunk ends at its
		// highest entry tick.
		for _, e := range batch.Entries {
			if e.Tick > batch.LastIncluded {
				batch.LastIncluded = e.Tick
			}
		}
	}

	t.last = &batch
	return batch, nil
}
