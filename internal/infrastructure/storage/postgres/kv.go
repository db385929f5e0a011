package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"replica/internal/core/kv"
)

var _ kv.Store = (*KVStore)(nil)

// DefaultStateTable is the table holding replication state.
const DefaultStateTable = "replica_state"

// KVStore implements kv.Store on a two-column table.
type KVStore struct {
	txm   *TxManager
	table string
}

// NewKVStore creates a store on table; an empty table uses DefaultStateTable.
func NewKVStore(txm *TxManager, table string) *KVStore {
	if table == "" {
		table = DefaultStateTable
	}
	return &KVStore{txm: txm, table: table}
}

// Builder returns a squirrel builder with PostgreSQL placeholders.
func (s *KVStore) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Migrate creates the state table if it does not exist.
func (s *KVStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key        text PRIMARY KEY,
		value      text NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`, quoteIdent(s.table))
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	return nil
}

// Get returns the value of key.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	sql, args, err := s.getQuery(key).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build query: %w", err)
	}

	var value string
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &value, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) getQuery(key string) squirrel.SelectBuilder {
	return s.Builder().
		Select("value").
		From(s.table).
		Where(squirrel.Eq{"key": key}).
		Limit(1)
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	sql, args, err := s.setQuery(key, value).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) setQuery(key, value string) squirrel.InsertBuilder {
	return s.Builder().
		Insert(s.table).
		Columns("key", "value", "updated_at").
		Values(key, value, squirrel.Expr("now()")).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at")
}

// Delete removes keys in one transaction.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	sql, args, err := s.Builder().
		Delete(s.table).
		Where(squirrel.Eq{"key": keys}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
		return nil
	})
}

// Keys lists keys starting with prefix in lexical order.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	sql, args, err := s.keysQuery(prefix).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var keys []string
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &keys, sql, args...); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *KVStore) keysQuery(prefix string) squirrel.SelectBuilder {
	return s.Builder().
		Select("key").
		From(s.table).
		Where(squirrel.Like{"key": escapeLike(prefix) + "%"}).
		OrderBy("key")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
