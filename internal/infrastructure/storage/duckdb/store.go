// Package duckdb is an embedded columnar target. It keeps every version of a
// row; readers deduplicate on _ver.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	_ "github.com/marcboeker/go-duckdb/v2"

	"replica/internal/domain/consumer"
	"replica/internal/domain/schema"
	"replica/internal/infrastructure/storage/literal"
	"replica/pkg/logger"
)

var _ consumer.Target = (*Store)(nil)

// Config configures the store.
type Config struct {
	// Path is the database file; empty opens an in-memory database.
	Path string
	// Schema groups the replicated tables.
	Schema    string
	BatchSize int
}

// Store writes rows into a DuckDB database file.
type Store struct {
	db        *sql.DB
	schema    string
	batchSize int
	log       *logger.Logger
}

// Open opens the database and creates the schema.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	s := &Store{db: db, schema: cfg.Schema, batchSize: cfg.BatchSize, log: log.WithComponent("duckdb")}
	if s.schema != "" {
		if err := s.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(s.schema)); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) qualify(table string) string {
	if s.schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(s.schema) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Exec runs a statement.
func (s *Store) Exec(ctx context.Context, query string) error {
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Insert writes rows in batches inside one transaction.
func (s *Store) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	stmts, err := literal.Inserts(s.qualify(table), quoted, rows, s.batchSize, literal.DuckDB)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert into %s: %w", table, err)
	}
	return nil
}

// TableExists reports whether table exists in the store schema.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	schemaName := s.schema
	if schemaName == "" {
		schemaName = "main"
	}
	query, args, err := squirrel.Select("count(*)").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": schemaName, "table_name": table}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var n int64
	if err := sqlscan.Get(ctx, s.db, &n, query, args...); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// PrepareWriteTable creates the base table when missing. There is no buffer
// engine, so rows always go to the base table.
func (s *Store) PrepareWriteTable(ctx context.Context, sch *schema.Schema) (string, error) {
	if err := s.createTable(ctx, sch, sch.Target, true); err != nil {
		return "", err
	}
	return sch.Target, nil
}

// CreateBufferTable is a no-op.
func (s *Store) CreateBufferTable(context.Context, *schema.Schema) error {
	return nil
}

// CreateTable creates table with the columns of sch.
func (s *Store) CreateTable(ctx context.Context, sch *schema.Schema, table string) error {
	return s.createTable(ctx, sch, table, false)
}

func (s *Store) createTable(ctx context.Context, sch *schema.Schema, table string, ifNotExists bool) error {
	if err := s.Exec(ctx, CreateTableDDL(s.qualify(table), sch.Fields, ifNotExists)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// CreateTableDDL renders a CREATE TABLE statement for fields. Column types
// are translated from their declared ClickHouse types.
func CreateTableDDL(qualified string, fields []schema.Field, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(qualified)
	b.WriteString(" (")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(f.Name))
		b.WriteByte(' ')
		b.WriteString(ColumnType(f.ColumnType, f.Name))
	}
	b.WriteString(")")
	return b.String()
}

// ColumnType maps a ClickHouse column type onto DuckDB. Undeclared types of
// the injected columns default to BIGINT, anything unknown to VARCHAR.
func ColumnType(chType, name string) string {
	t := strings.TrimSpace(chType)
	for _, wrapper := range []string{"Nullable(", "LowCardinality("} {
		for strings.HasPrefix(t, wrapper) && strings.HasSuffix(t, ")") {
			t = strings.TrimSpace(t[len(wrapper) : len(t)-1])
		}
	}

	switch {
	case t == "":
		if name == schema.VersionField || name == schema.DeletedField {
			return "BIGINT"
		}
		return "VARCHAR"
	case t == "String" || strings.HasPrefix(t, "FixedString"):
		return "VARCHAR"
	case strings.HasPrefix(t, "Int") || strings.HasPrefix(t, "UInt"):
		return "BIGINT"
	case strings.HasPrefix(t, "Float"):
		return "DOUBLE"
	case strings.HasPrefix(t, "Decimal("):
		return "DECIMAL" + strings.TrimPrefix(t, "Decimal")
	case strings.HasPrefix(t, "Decimal"):
		return "DECIMAL(38, 10)"
	case strings.HasPrefix(t, "DateTime"):
		return "TIMESTAMP"
	case strings.HasPrefix(t, "Date"):
		return "DATE"
	case t == "Bool":
		return "BOOLEAN"
	case strings.HasPrefix(t, "Array(") && strings.HasSuffix(t, ")"):
		return ColumnType(t[len("Array("):len(t)-1], "") + "[]"
	default:
		return "VARCHAR"
	}
}

// DropTable drops table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if err := s.Exec(ctx, "DROP TABLE IF EXISTS "+s.qualify(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// RenameTable renames from to to within the store schema.
func (s *Store) RenameTable(ctx context.Context, from, to string) error {
	if err := s.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.qualify(from), quoteIdent(to))); err != nil {
		return fmt.Errorf("rename table %s: %w", from, err)
	}
	return nil
}
