// Package consumer moves one entity's records from its broker topic into the
// target table. Offsets are committed only after the rows are written.
package consumer

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
	"replica/internal/domain/schema"
	"replica/internal/domain/transform"
	"replica/pkg/logger"
)

var tracer = otel.Tracer("replica/consumer")

// Config configures one consumer pipeline.
type Config struct {
	Entity      string
	PollTimeout time.Duration
	MaxRecords  int
	// Idle is the pause taken when the topic is fully consumed.
	Idle time.Duration
}

// DefaultConfig returns production defaults for entity.
func DefaultConfig(entity string) Config {
	return Config{
		Entity:      entity,
		PollTimeout: time.Second,
		MaxRecords:  1000,
		Idle:        10 * time.Second,
	}
}

// StepStats summarises one poll cycle.
type StepStats struct {
	Polled   int
	Written  int
	Rejected int
	Filtered int
}

// Consumer is the pipeline of one entity. It owns its broker handle.
type Consumer struct {
	cfg         Config
	broker      Broker
	target      Target
	schemas     Schemas
	transformer *transform.Transformer
	positions   kv.Store
	sink        ErrorSink
	log         *logger.Logger
	now         func() time.Time

	resume wal.Tick
}

// New creates a consumer.
func New(
	cfg Config,
	broker Broker,
	target Target,
	schemas Schemas,
	transformer *transform.Transformer,
	positions kv.Store,
	sink ErrorSink,
	log *logger.Logger,
) *Consumer {
	return &Consumer{
		cfg:         cfg,
		broker:      broker,
		target:      target,
		schemas:     schemas,
		transformer: transformer,
		positions:   positions,
		sink:        sink,
		log:         log.WithComponent("consumer").With("entity", cfg.Entity),
		now:         time.Now,
	}
}

// ResumeTick returns the tick filter still armed, or zero.
func (c *Consumer) ResumeTick() wal.Tick {
	return c.resume
}

// Init loads the schema, prepares the write table and reads the resume tick.
func (c *Consumer) Init(ctx context.Context) (string, error) {
	s, err := c.schemas.BySource(c.cfg.Entity)
	if err != nil {
		return "", apperror.NewConfig(fmt.Sprintf("no schema for %s", c.cfg.Entity)).WithCause(err)
	}

	table, err := c.target.PrepareWriteTable(ctx, s)
	if err != nil {
		return "", fmt.Errorf("prepare table %s: %w", s.WriteTable(), err)
	}

	raw, ok, err := c.positions.Get(ctx, kv.TickKey(c.cfg.Entity))
	if err != nil {
		return "", fmt.Errorf("read resume tick: %w", err)
	}
	if ok && raw != "" {
		tick, err := wal.ParseTick(raw)
		if err != nil {
			return "", err
		}
		c.resume = tick
	}

	c.log.Infow("consumer started", "table", table, "resume_tick", c.resume)
	return table, nil
}

// Run consumes until ctx is done. The broker handle is closed on return.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := c.broker.Close(); cerr != nil {
			c.log.Warnw("close broker consumer", "error", cerr)
		}
	}()

	table, err := c.Init(ctx)
	if err != nil {
		return err
	}

	for ctx.Err() == nil {
		stats, err := c.Step(ctx, table)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if stats.Polled > 0 {
			continue
		}

		drained, err := c.broker.Drained(ctx)
		if err != nil {
			c.log.Warnw("cannot compare committed and end offsets", "error", err)
			continue
		}
		if drained {
			c.log.Debugw("topic drained, idling", "idle", c.cfg.Idle)
			if !sleep(ctx, c.cfg.Idle) {
				break
			}
		}
	}

	c.log.Infow("consumer exited gracefully")
	return nil
}

// Step runs one poll, transform, write and commit cycle.
func (c *Consumer) Step(ctx context.Context, table string) (StepStats, error) {
	ctx, span := tracer.Start(ctx, "consumer.step",
		trace.WithAttributes(attribute.String("entity", c.cfg.Entity)))
	defer span.End()

	var stats StepStats

	records, err := c.broker.Poll(ctx, c.cfg.PollTimeout, c.cfg.MaxRecords)
	if err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("poll %s: %w", c.cfg.Entity, err)
	}
	stats.Polled = len(records)
	log := c.log
	if len(records) > 0 {
		position := fmt.Sprintf("%d-%d", records[0].Offset, records[len(records)-1].Offset)
		ctx = appctx.WithTrace(ctx, appctx.NewBatchTrace(ctx, position))
		log = c.log.WithContext(ctx)
	}

	docs, rejected := Prepare(records, c.resume, c.now())
	for _, r := range rejected {
		c.sink.Reject(ctx, c.cfg.Entity, r.Data, r.Err)
	}
	stats.Rejected += len(rejected)

	if len(docs) > 0 && !c.resume.IsZero() {
		c.log.Infow("resume tick filter disarmed", "resume_tick", c.resume)
		c.resume = 0
	}

	if len(docs) > 0 {
		s, err := c.schemas.BySource(c.cfg.Entity)
		if err != nil {
			return stats, err
		}
		columns := s.Columns()
		rows := make([][]any, 0, len(docs))
		for _, d := range docs {
			ok, err := s.Match(d.Data)
			if err != nil {
				c.sink.Reject(ctx, c.cfg.Entity, d.Data, err)
				stats.Rejected++
				continue
			}
			if !ok {
				stats.Filtered++
				continue
			}

			row, err := c.transformer.Transform(s, d.Data)
			if err != nil {
				c.sink.Reject(ctx, c.cfg.Entity, d.Data, err)
				stats.Rejected++
				continue
			}
			rows = append(rows, row.Values(columns))
			log.Debugw("processed", "key", row[s.PrimaryKey], "ver", d.Data[schema.VersionField], "offset", d.Offset)
		}

		if len(rows) > 0 {
			if err := c.target.Insert(ctx, table, columns, rows); err != nil {
				span.RecordError(err)
				return stats, fmt.Errorf("insert into %s: %w", table, err)
			}
			stats.Written = len(rows)
			log.Infow("rows written", "table", table, "rows", len(rows))
		}
	}

	if err := c.broker.Commit(ctx); err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("commit offsets: %w", err)
	}
	return stats, nil
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

// IsConfigError reports whether err stops the consumer before it polls.
func IsConfigError(err error) bool {
	return apperror.HasCode(err, apperror.CodeConfig) || errors.Is(err, schema.ErrSchemaNotFound)
}
