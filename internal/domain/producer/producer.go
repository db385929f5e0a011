// Package producer forwards watched write-ahead log entries to the broker and
// commits the log position only after the broker has accepted them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"replica/internal/core/apperror"
	appctx "replica/internal/core/context"
	"replica/internal/core/kv"
	"replica/internal/core/wal"
	"replica/internal/domain/tailer"
	"replica/pkg/logger"
)

var tracer = otel.Tracer("replica/producer")

// TaskName is the supervised task and control channel name of the producer.
const TaskName = "producer"

// Config configures the producer pipeline.
type Config struct {
	// Watch lists the collection names to replicate.
	Watch []string
	// ChunkSize is the tail request chunk size in bytes.
	ChunkSize int
	// Idle is the pause between tail sequences.
	Idle time.Duration
	// KeyField is the document field used as the message key.
	KeyField string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize: tailer.DefaultChunkSize,
		Idle:      10 * time.Second,
		KeyField:  "_key",
	}
}

// Stats summarises one tail sequence.
type Stats struct {
	Batches   int
	Entries   int
	Published int
	LastTick  wal.Tick
	DataLoss  bool
}

// Producer is the pipeline. One worker runs it at a time.
type Producer struct {
	cfg       Config
	source    Source
	publisher Publisher
	positions kv.Store
	mirror    Mirror
	log       *logger.Logger

	byName map[string]string
	byID   map[string]string
	tail   *tailer.Tailer
}

// New creates a producer. mirror may be nil.
func New(cfg Config, source Source, publisher Publisher, positions kv.Store, mirror Mirror, log *logger.Logger) *Producer {
	if cfg.KeyField == "" {
		cfg.KeyField = "_key"
	}
	return &Producer{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		positions: positions,
		mirror:    mirror,
		log:       log.WithComponent("producer"),
	}
}

// Resolve maps every watched collection to its identifier.
// An unknown collection is a configuration error.
func (p *Producer) Resolve(ctx context.Context) error {
	cols, err := p.source.Collections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	ids := make(map[string]string, len(cols))
	for _, c := range cols {
		ids[c.Name] = c.ID
	}

	byName := make(map[string]string, len(p.cfg.Watch))
	byID := make(map[string]string, len(p.cfg.Watch))
	for _, name := range p.cfg.Watch {
		id, ok := ids[name]
		if !ok {
			return apperror.NewConfig(fmt.Sprintf("watched collection %q does not exist", name))
		}
		byName[name] = id
		byID[id] = name
	}
	p.byName = byName
	p.byID = byID
	p.log.Infow("watching collections", "collections", byName)
	return nil
}

// StartTick returns the persisted position, restoring it from the mirror or
// priming it to the log head when nothing has been stored yet.
func (p *Producer) StartTick(ctx context.Context) (wal.Tick, error) {
	raw, ok, err := p.positions.Get(ctx, kv.GlobalTickKey)
	if err != nil {
		return 0, fmt.Errorf("read last tick: %w", err)
	}
	if ok {
		return wal.ParseTick(raw)
	}

	if p.mirror != nil {
		tick, found, err := p.mirror.Read()
		if err != nil {
			p.log.Warnw("cannot read tick file", "error", err)
		} else if found {
			if err := p.positions.Set(ctx, kv.GlobalTickKey, tick.String()); err != nil {
				return 0, fmt.Errorf("restore last tick: %w", err)
			}
			p.log.Warnw("last tick restored from tick file", "tick", tick)
			return tick, nil
		}
	}

	head, err := p.source.LastTick(ctx)
	if err != nil {
		return 0, fmt.Errorf("read log head: %w", err)
	}
	if err := p.positions.Set(ctx, kv.GlobalTickKey, head.String()); err != nil {
		return 0, fmt.Errorf("store initial tick: %w", err)
	}
	p.log.Infow("stored initial tick", "tick", head)
	return head, nil
}

// Filter keeps document operations of watched collections and builds their messages.
func (p *Producer) Filter(entries []wal.Entry) []Message {
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		if !e.Type.IsDocumentOp() {
			continue
		}
		topic, ok := p.byID[e.CUID]
		if !ok {
			continue
		}
		var key []byte
		if k, ok := e.Key(p.cfg.KeyField); ok {
			key = []byte(k)
		}
		msgs = append(msgs, Message{Topic: topic, Key: key, Entry: e})
	}
	return msgs
}

// Run resolves the watched collections and forwards the log until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.Resolve(ctx); err != nil {
		return err
	}
	if _, err := p.StartTick(ctx); err != nil {
		return err
	}

	for {
		stats, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if stats.Batches > 0 {
			p.log.Debugw("tail sequence finished",
				"batches", stats.Batches,
				"entries", stats.Entries,
				"published", stats.Published,
				"last_tick", stats.LastTick)
		}
		if !sleep(ctx, p.cfg.Idle) {
			return nil
		}
	}
}

// Poll runs one tail sequence starting at the persisted position.
func (p *Producer) Poll(ctx context.Context) (Stats, error) {
	var stats Stats

	raw, ok, err := p.positions.Get(ctx, kv.GlobalTickKey)
	if err != nil {
		return stats, fmt.Errorf("read last tick: %w", err)
	}
	var start wal.Tick
	if ok {
		if start, err = wal.ParseTick(raw); err != nil {
			return stats, err
		}
	}

	if p.tail == nil {
		p.tail = tailer.New(p.source, start, p.cfg.ChunkSize)
	} else {
		p.tail.Reset(start)
	}
	t := p.tail
	ack := false
	for {
		batch, err := t.Next(ctx, ack)
		if errors.Is(err, tailer.ErrExhausted) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if !batch.FromPresent {
			stats.DataLoss = true
			p.log.Errorw("requested tick is no longer in the log, entries were lost",
				"from", t.Cursor(), "last_included", batch.LastIncluded)
		}

		ack, err = p.forward(ctx, batch, &stats)
		if err != nil {
			return stats, err
		}
		if !ack && !sleep(ctx, p.cfg.Idle) {
			return stats, ctx.Err()
		}
	}
}

// forward publishes one batch and commits its tick. It reports whether the
// batch may be acknowledged.
func (p *Producer) forward(ctx context.Context, batch wal.Batch, stats *Stats) (bool, error) {
	ctx, span := tracer.Start(ctx, "producer.batch",
		trace.WithAttributes(
			attribute.Int("wal.entries", len(batch.Entries)),
			attribute.String("wal.last_included", batch.LastIncluded.String()),
		))
	defer span.End()
	ctx = appctx.WithTrace(ctx, appctx.NewBatchTrace(ctx, batch.LastIncluded.String()))
	log := p.log.WithContext(ctx)

	msgs := p.Filter(batch.Entries)
	if len(msgs) > 0 {
		if err := p.publisher.Publish(ctx, msgs); err != nil {
			span.RecordError(err)
			return false, fmt.Errorf("publish %d messages: %w", len(msgs), err)
		}
	}
	if err := p.publisher.Flush(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("flush: %w", err)
	}

	if err := p.positions.Set(ctx, kv.GlobalTickKey, batch.LastIncluded.String()); err != nil {
		log.Warnw("cannot store last tick, batch will be fetched again", "tick", batch.LastIncluded, "error", err)
		return false, nil
	}
	if p.mirror != nil {
		if err := p.mirror.Write(batch.LastIncluded); err != nil {
			log.Warnw("cannot write tick file", "tick", batch.LastIncluded, "error", err)
		}
	}

	stats.Batches++
	stats.Entries += len(batch.Entries)
	stats.Published += len(msgs)
	stats.LastTick = batch.LastIncluded
	log.Debugw("batch forwarded", "entries", len(batch.Entries), "published", len(msgs), "tick", batch.LastIncluded)
	return true, nil
}

// sleep waits d or until ctx is done. It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
