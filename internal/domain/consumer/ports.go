package consumer

import (
	"context"
	"time"

	"replica/internal/core/wal"
	"replica/internal/domain/schema"
)

// Record is a broker record. Entry is nil for tombstones.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Entry     *wal.Entry
}

// Broker is a consumer-group handle owned by one worker.
type Broker interface {
	// Poll returns up to max records, waiting at most timeout.
	Poll(ctx context.Context, timeout time.Duration, max int) ([]Record, error)
	// Commit commits the offsets of every record returned so far.
	Commit(ctx context.Context) error
	// Drained reports whether committed offsets equal the end offsets of
	// every assigned partition.
	Drained(ctx context.Context) (bool, error)
	Close() error
}

// Target is the columnar store rows are written to.
type Target interface {
	// PrepareWriteTable makes sure the table rows of s go to exists and returns its name.
	PrepareWriteTable(ctx context.Context, s *schema.Schema) (string, error)
	// Insert writes rows, each holding values in columns order.
	Insert(ctx context.Context, table string, columns []string, rows [][]any) error
}

// Schemas resolves the current definition of an entity.
type Schemas interface {
	BySource(entity string) (*schema.Schema, error)
}

// ErrorSink receives documents that could not be transformed.
type ErrorSink interface {
	Reject(ctx context.Context, entity string, doc map[string]any, err error)
}
