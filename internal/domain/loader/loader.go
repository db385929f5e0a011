// Package loader backfills target tables from a full scan of their source
// collections. Rows are written to a staging table that replaces the live
// table once the scan completes.
package loader

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"replica/internal/core/kv"
	"replica/internal/domain/consumer"
	"replica/internal/domain/schema"
	"replica/internal/domain/transform"
	"replica/pkg/logger"
)

var tracer = otel.Tracer("replica/loader")

// Options controls one load.
type Options struct {
	BatchSize int
	// StoreTick records the log head as the entity's resume tick before the
	// scan, so its consumer skips changes the scan already saw.
	StoreTick bool
}

// DefaultOptions returns the CLI defaults.
func DefaultOptions() Options {
	return Options{BatchSize: 10000}
}

// Result summarises a load.
type Result struct {
	Entity   string
	Table    string
	Scanned  int
	Loaded   int
	Rejected int
	Filtered int
	Duration time.Duration
}

// Loader rebuilds target tables.
type Loader struct {
	scanner     Scanner
	head        Head
	target      Target
	schemas     consumer.Schemas
	transformer *transform.Transformer
	positions   kv.Store
	sink        consumer.ErrorSink
	log         *logger.Logger
}

// New creates a loader.
func New(
	scanner Scanner,
	head Head,
	target Target,
	schemas consumer.Schemas,
	transformer *transform.Transformer,
	positions kv.Store,
	sink consumer.ErrorSink,
	log *logger.Logger,
) *Loader {
	return &Loader{
		scanner:     scanner,
		head:        head,
		target:      target,
		schemas:     schemas,
		transformer: transformer,
		positions:   positions,
		sink:        sink,
		log:         log.WithComponent("loader"),
	}
}

// LoadAll loads entities in order and stops at the first failure.
func (l *Loader) LoadAll(ctx context.Context, entities []string, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(entities))
	for _, entity := range entities {
		res, err := l.Load(ctx, entity, opts)
		if err != nil {
			return results, fmt.Errorf("load %s: %w", entity, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Load rebuilds the target table of entity.
func (l *Loader) Load(ctx context.Context, entity string, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "loader.load",
		trace.WithAttributes(attribute.String("entity", entity)))
	defer span.End()

	start := time.Now()
	res := Result{Entity: entity}
	log := l.log.With("entity", entity)

	s, err := l.schemas.BySource(entity)
	if err != nil {
		return res, err
	}
	res.Table = s.Target
	temp := s.TempTable()

	if err := l.target.DropTable(ctx, temp); err != nil {
		return res, err
	}
	if err := l.target.CreateTable(ctx, s, temp); err != nil {
		return res, err
	}
	log.Infow("temporary table created", "table", temp)

	if opts.StoreTick {
		tick, err := l.head.LastTick(ctx)
		if err != nil {
			return res, fmt.Errorf("read log head: %w", err)
		}
		if err := l.positions.Set(ctx, kv.TickKey(entity), tick.String()); err != nil {
			return res, fmt.Errorf("store resume tick: %w", err)
		}
		log.Infow("stored current log tick", "tick", tick)
	}

	columns := s.Columns()
	err = l.scanner.Scan(ctx, entity, opts.BatchSize, func(docs []map[string]any) error {
		res.Scanned += len(docs)
		rows := l.rows(ctx, s, docs, &res)
		if len(rows) == 0 {
			return nil
		}
		if err := l.target.Insert(ctx, temp, columns, rows); err != nil {
			return err
		}
		res.Loaded += len(rows)
		log.Infow("batch loaded", "rows", len(rows), "total", res.Loaded)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("scan %s: %w", entity, err)
	}

	if err := l.target.DropTable(ctx, s.Target); err != nil {
		return res, err
	}
	if err := l.target.RenameTable(ctx, temp, s.Target); err != nil {
		return res, err
	}

	if s.Buffer != nil {
		if err := l.target.DropTable(ctx, s.BufferTable()); err != nil {
			return res, err
		}
		if err := l.target.CreateBufferTable(ctx, s); err != nil {
			return res, err
		}
		log.Infow("buffer table recreated", "table", s.BufferTable())
	}

	res.Duration = time.Since(start)
	log.Infow("table loaded",
		"table", s.Target,
		"loaded", res.Loaded,
		"rejected", res.Rejected,
		"filtered", res.Filtered,
		"duration", res.Duration,
	)
	return res, nil
}

// rows transforms one page. Loaded rows carry version zero so that any
// streamed change of the same key supersedes them.
func (l *Loader) rows(ctx context.Context, s *schema.Schema, docs []map[string]any, res *Result) [][]any {
	columns := s.Columns()
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		ok, err := s.Match(doc)
		if err != nil {
			l.sink.Reject(ctx, s.Source, doc, err)
			res.Rejected++
			continue
		}
		if !ok {
			res.Filtered++
			continue
		}

		doc[schema.VersionField] = 0
		doc[schema.DeletedField] = 0
		row, err := l.transformer.Transform(s, doc)
		if err != nil {
			l.sink.Reject(ctx, s.Source, doc, err)
			res.Rejected++
			continue
		}
		rows = append(rows, row.Values(columns))
	}
	return rows
}
