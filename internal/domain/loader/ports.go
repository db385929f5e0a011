package loader

import (
	"context"

	"replica/internal/core/wal"
	"replica/internal/domain/schema"
)

// Scanner pages through every document of a source collection.
type Scanner interface {
	Scan(ctx context.Context, collection string, batchSize int, fn func([]map[string]any) error) error
}

// Head reports the current position of the source log.
type Head interface {
	LastTick(ctx context.Context) (wal.Tick, error)
}

// Target is the columnar store a load rebuilds tables in.
type Target interface {
	CreateTable(ctx context.Context, s *schema.Schema, table string) error
	DropTable(ctx context.Context, table string) error
	RenameTable(ctx context.Context, from, to string) error
	Insert(ctx context.Context, table string, columns []string, rows [][]any) error
	CreateBufferTable(ctx context.Context, s *schema.Schema) error
}
