package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/kv"
	"replica/internal/core/wal"
	"replica/internal/domain/schema"
	"replica/internal/domain/transform"
	"replica/internal/infrastructure/memory"
	"replica/pkg/logger"
)

type fakeScanner struct {
	pages [][]map[string]any
	err   error
	seen  string
	size  int
}

func (s *fakeScanner) Scan(_ context.Context, collection string, batchSize int, fn func([]map[string]any) error) error {
	s.seen, s.size = collection, batchSize
	for _, p := range s.pages {
		if err := fn(p); err != nil {
			return err
		}
	}
	return s.err
}

type fakeHead struct{ tick wal.Tick }

func (h fakeHead) LastTick(context.Context) (wal.Tick, error) { return h.tick, nil }

type fakeTarget struct {
	ops  []string
	rows map[string][][]any
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{rows: make(map[string][][]any)}
}

func (t *fakeTarget) CreateTable(_ context.Context, _ *schema.Schema, table string) error {
	t.ops = append(t.ops, "create "+table)
	return nil
}

func (t *fakeTarget) DropTable(_ context.Context, table string) error {
	t.ops = append(t.ops, "drop "+table)
	return nil
}

func (t *fakeTarget) RenameTable(_ context.Context, from, to string) error {
	t.ops = append(t.ops, "rename "+from+" "+to)
	t.rows[to] = t.rows[from]
	delete(t.rows, from)
	return nil
}

func (t *fakeTarget) Insert(_ context.Context, table string, _ []string, rows [][]any) error {
	t.ops = append(t.ops, "insert "+table)
	t.rows[table] = append(t.rows[table], rows...)
	return nil
}

func (t *fakeTarget) CreateBufferTable(_ context.Context, s *schema.Schema) error {
	t.ops = append(t.ops, "buffer "+s.BufferTable())
	return nil
}

type countingSink struct{ n int }

func (s *countingSink) Reject(context.Context, string, map[string]any, error) { s.n++ }

func itemsSchema(buffered bool) *schema.Schema {
	s := &schema.Schema{
		Source:     "items",
		Target:     "Items",
		PrimaryKey: "Id",
		Fields: []schema.Field{
			{Name: "Id", Ref: "_key", Casters: []string{"int"}},
			{Name: "Qty", Ref: "qty", Casters: []string{"int"}, Required: true},
		},
	}
	if buffered {
		s.Buffer = &schema.Buffer{NumLayers: 1}
	}
	return s.WithVersioning()
}

func newLoader(t *testing.T, s *schema.Schema, scanner *fakeScanner, target *fakeTarget, store *memory.KV, sink *countingSink) *Loader {
	t.Helper()
	reg := schema.NewRegistry(transform.DefaultCasters())
	require.NoError(t, reg.Put(s))
	return New(scanner, fakeHead{tick: 4242}, target, reg, transform.New(transform.DefaultCasters()), store, sink, logger.NewNop())
}

func TestLoad_SwapsTempTable(t *testing.T) {
	scanner := &fakeScanner{pages: [][]map[string]any{
		{{"_key": "1", "qty": 3.0}, {"_key": "2"}},
		{{"_key": "3", "qty": 1.0}},
	}}
	target := newFakeTarget()
	store := memory.NewKV()
	sink := &countingSink{}
	l := newLoader(t, itemsSchema(false), scanner, target, store, sink)

	res, err := l.Load(context.Background(), "items", Options{BatchSize: 50})
	require.NoError(t, err)

	assert.Equal(t, "items", scanner.seen)
	assert.Equal(t, 50, scanner.size)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, sink.n)
	assert.Equal(t, []string{
		"drop ItemsTemp",
		"create ItemsTemp",
		"insert ItemsTemp",
		"insert ItemsTemp",
		"drop Items",
		"rename ItemsTemp Items",
	}, target.ops)
	assert.Equal(t, [][]any{
		{int64(1), int64(3), int64(0), int64(0)},
		{int64(3), int64(1), int64(0), int64(0)},
	}, target.rows["Items"])

	_, ok, err := store.Get(context.Background(), kv.TickKey("items"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_StoresTickAndRecreatesBuffer(t *testing.T) {
	target := newFakeTarget()
	store := memory.NewKV()
	l := newLoader(t, itemsSchema(true), &fakeScanner{}, target, store, &countingSink{})

	_, err := l.Load(context.Background(), "items", Options{BatchSize: 10, StoreTick: true})
	require.NoError(t, err)

	tick, ok, err := store.Get(context.Background(), kv.TickKey("items"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4242", tick)

	assert.Equal(t, []string{
		"drop ItemsTemp",
		"create ItemsTemp",
		"drop Items",
		"rename ItemsTemp Items",
		"drop Items_Buffer",
		"buffer Items_Buffer",
	}, target.ops)
}

func TestLoad_ScanFailureKeepsLiveTable(t *testing.T) {
	target := newFakeTarget()
	scanner := &fakeScanner{err: errors.New("cursor lost")}
	l := newLoader(t, itemsSchema(false), scanner, target, memory.NewKV(), &countingSink{})

	_, err := l.Load(context.Background(), "items", DefaultOptions())
	require.Error(t, err)
	assert.NotContains(t, target.ops, "drop Items")
}

func TestLoadAll_StopsAtUnknownEntity(t *testing.T) {
	l := newLoader(t, itemsSchema(false), &fakeScanner{}, newFakeTarget(), memory.NewKV(), &countingSink{})

	results, err := l.LoadAll(context.Background(), []string{"items", "orders"}, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchemaNotFound)
	require.Len(t, results, 1)
	assert.Equal(t, "Items", results[0].Table)
}
