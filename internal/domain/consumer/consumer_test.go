package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/apperror"
	"replica/internal/core/kv"
	"replica/internal/core/wal"
	"replica/internal/domain/schema"
	"replica/internal/domain/transform"
	"replica/pkg/logger"
)

// --- fakes ---

type fakeBroker struct {
	mu       sync.Mutex
	polls    [][]Record
	pollErr  error
	commits  int
	drained  bool
	closed   bool
	events   []string
	onPolled func()
}

func (b *fakeBroker) Poll(context.Context, time.Duration, int) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, "poll")
	if b.pollErr != nil {
		return nil, b.pollErr
	}
	if len(b.polls) == 0 {
		if b.onPolled != nil {
			b.onPolled()
		}
		return nil, nil
	}
	next := b.polls[0]
	b.polls = b.polls[1:]
	return next, nil
}

func (b *fakeBroker) Commit(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits++
	b.events = append(b.events, "commit")
	return nil
}

func (b *fakeBroker) Drained(context.Context) (bool, error) { return b.drained, nil }

func (b *fakeBroker) Close() error {
	b.closed = true
	return nil
}

type fakeTarget struct {
	table   string
	columns []string
	rows    [][]any
	err     error
	broker  *fakeBroker
}

func (t *fakeTarget) PrepareWriteTable(_ context.Context, s *schema.Schema) (string, error) {
	t.table = s.WriteTable()
	return t.table, nil
}

func (t *fakeTarget) Insert(_ context.Context, _ string, columns []string, rows [][]any) error {
	if t.broker != nil {
		t.broker.events = append(t.broker.events, "insert")
	}
	if t.err != nil {
		return t.err
	}
	t.columns = columns
	t.rows = append(t.rows, rows...)
	return nil
}

type fakeKV struct{ data map[string]string }

func (k *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := k.data[key]
	return v, ok, nil
}
func (k *fakeKV) Set(_ context.Context, key, value string) error {
	k.data[key] = value
	return nil
}
func (k *fakeKV) Delete(context.Context, ...string) error        { return nil }
func (k *fakeKV) Keys(context.Context, string) ([]string, error) { return nil, nil }

type recordingSink struct {
	docs []map[string]any
	errs []error
}

func (s *recordingSink) Reject(_ context.Context, _ string, doc map[string]any, err error) {
	s.docs = append(s.docs, doc)
	s.errs = append(s.errs, err)
}

// --- helpers ---

func itemsSchema() *schema.Schema {
	return (&schema.Schema{
		Source:     "items",
		Target:     "Items",
		Database:   "analytics",
		PrimaryKey: "Id",
		Fields: []schema.Field{
			{Name: "Id", Ref: "_key", Casters: []string{"int"}},
			{Name: "Attr1", Ref: "attr1", Casters: []string{"int"}, Required: true},
		},
	}).WithVersioning()
}

func newRegistry(t *testing.T, s *schema.Schema) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry(transform.DefaultCasters())
	require.NoError(t, reg.Put(s))
	return reg
}

func record(offset int64, tick wal.Tick, op wal.OpType, data map[string]any) Record {
	return Record{Topic: "items", Offset: offset, Entry: &wal.Entry{Tick: tick, Type: op, Data: data}}
}

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestConsumer(t *testing.T, b *fakeBroker, target *fakeTarget, store *fakeKV, sink *recordingSink) *Consumer {
	cfg := DefaultConfig("items")
	cfg.Idle = time.Millisecond
	c := New(cfg, b, target, newRegistry(t, itemsSchema()), transform.New(transform.DefaultCasters()), store, sink, logger.NewNop())
	c.now = func() time.Time { return fixedNow }
	return c
}

// --- tests ---

func TestVersion(t *testing.T) {
	v, err := Version(fixedNow, 57)
	require.NoError(t, err)
	assert.Equal(t, int64(202403257), v)

	v, err = Version(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20243660), v)

	_, err = Version(fixedNow, 999999999999999)
	assert.Error(t, err)
}

func TestPrepareResumeScenario(t *testing.T) {
	records := []Record{
		record(0, 100, wal.OpUpsert, map[string]any{"_key": "1", "attr1": float64(1)}),
		record(1, 101, wal.OpUpsert, map[string]any{"_key": "2", "attr1": float64(2)}),
		record(2, 102, wal.OpRemove, map[string]any{"_key": "3", "attr1": float64(3)}),
		{Topic: "items", Offset: 3},
	}
	resume, err := wal.ParseTick("101")
	require.NoError(t, err)

	docs, rejected := Prepare(records, resume, fixedNow)
	assert.Empty(t, rejected)
	require.Len(t, docs, 2)

	assert.Equal(t, "2", docs[0].Data["_key"])
	assert.Equal(t, 0, docs[0].Data[schema.DeletedField])
	assert.Equal(t, "3", docs[1].Data["_key"])
	assert.Equal(t, 1, docs[1].Data[schema.DeletedField])
	assert.Equal(t, int64(20240321), docs[0].Data[schema.VersionField])
}

func TestPrepareDoesNotMutateRecords(t *testing.T) {
	data := map[string]any{"_key": "1"}
	Prepare([]Record{record(0, 1, wal.OpUpsert, data)}, 0, fixedNow)
	assert.Equal(t, map[string]any{"_key": "1"}, data)
}

func TestStepWritesScenarioRows(t *testing.T) {
	b := &fakeBroker{polls: [][]Record{{
		record(0, 100, wal.OpUpsert, map[string]any{"_key": "1", "attr1": float64(1)}),
		record(1, 101, wal.OpUpsert, map[string]any{"_key": "2", "attr1": float64(2)}),
		record(2, 102, wal.OpRemove, map[string]any{"_key": "3", "attr1": float64(3)}),
		{Topic: "items", Offset: 3},
	}}}
	target := &fakeTarget{broker: b}
	store := &fakeKV{data: map[string]string{kv.TickKey("items"): "101"}}
	c := newTestConsumer(t, b, target, store, &recordingSink{})

	table, err := c.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Items", table)
	assert.Equal(t, wal.Tick(101), c.ResumeTick())

	stats, err := c.Step(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Polled)
	assert.Equal(t, 2, stats.Written)

	assert.Equal(t, []string{"Id", "Attr1", schema.VersionField, schema.DeletedField}, target.columns)
	require.Len(t, target.rows, 2)
	assert.Equal(t, int64(2), target.rows[0][0])
	assert.Equal(t, int64(0), target.rows[0][3])
	assert.Equal(t, int64(3), target.rows[1][0])
	assert.Equal(t, int64(1), target.rows[1][3])

	assert.Equal(t, []string{"poll", "insert", "commit"}, b.events)
	assert.True(t, c.ResumeTick().IsZero())
}

func TestResumeFilterStaysArmedUntilContent(t *testing.T) {
	b := &fakeBroker{polls: [][]Record{
		{},
		{record(0, 90, wal.OpUpsert, map[string]any{"_key": "1", "attr1": float64(1)})},
		{record(1, 120, wal.OpUpsert, map[string]any{"_key": "2", "attr1": float64(2)})},
		{record(2, 95, wal.OpUpsert, map[string]any{"_key": "3", "attr1": float64(3)})},
	}}
	target := &fakeTarget{}
	store := &fakeKV{data: map[string]string{kv.TickKey("items"): "100"}}
	c := newTestConsumer(t, b, target, store, &recordingSink{})
	table, err := c.Init(context.Background())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.Step(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, wal.Tick(100), c.ResumeTick())
	}
	assert.Empty(t, target.rows)

	_, err = c.Step(context.Background(), table)
	require.NoError(t, err)
	assert.True(t, c.ResumeTick().IsZero())

	_, err = c.Step(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, target.rows, 2)
	assert.Equal(t, int64(3), target.rows[1][0])
}

func TestStepRoutesBadDocumentsToSink(t *testing.T) {
	b := &fakeBroker{polls: [][]Record{{
		record(0, 1, wal.OpUpsert, map[string]any{"attr1": float64(1)}),
		record(1, 2, wal.OpUpsert, map[string]any{"_key": "2"}),
		record(2, 3, wal.OpUpsert, map[string]any{"_key": "3", "attr1": float64(3)}),
	}}}
	target := &fakeTarget{}
	sink := &recordingSink{}
	c := newTestConsumer(t, b, target, &fakeKV{data: map[string]string{}}, sink)
	table, err := c.Init(context.Background())
	require.NoError(t, err)

	stats, err := c.Step(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 2, stats.Rejected)
	require.Len(t, sink.errs, 2)
	assert.True(t, apperror.HasCode(sink.errs[0], apperror.CodeMissingPrimaryKey))
	assert.True(t, apperror.HasCode(sink.errs[1], apperror.CodeMissingRequiredField))
	assert.Equal(t, 1, b.commits)
}

func TestStepDoesNotCommitWhenInsertFails(t *testing.T) {
	b := &fakeBroker{polls: [][]Record{{
		record(0, 1, wal.OpUpsert, map[string]any{"_key": "1", "attr1": float64(1)}),
	}}}
	target := &fakeTarget{err: errors.New("table is read only")}
	c := newTestConsumer(t, b, target, &fakeKV{data: map[string]string{}}, &recordingSink{})
	table, err := c.Init(context.Background())
	require.NoError(t, err)

	_, err = c.Step(context.Background(), table)
	require.Error(t, err)
	assert.Equal(t, 0, b.commits)
}

func TestStepSkipsFilteredDocuments(t *testing.T) {
	parsed, err := schema.Parse([]byte(`
table_name: Items
schema:
  primary_key: Id
  properties:
    Id: {type: int, ref: _key}
filter: 'doc._deleted == 0'
`), "items", "analytics")
	require.NoError(t, err)

	b := &fakeBroker{polls: [][]Record{{
		record(0, 1, wal.OpUpsert, map[string]any{"_key": "1"}),
		record(1, 2, wal.OpRemove, map[string]any{"_key": "2"}),
	}}}
	target := &fakeTarget{}
	cfg := DefaultConfig("items")
	c := New(cfg, b, target, newRegistry(t, parsed.WithVersioning()), transform.New(transform.DefaultCasters()),
		&fakeKV{data: map[string]string{}}, &recordingSink{}, logger.NewNop())

	table, err := c.Init(context.Background())
	require.NoError(t, err)
	stats, err := c.Step(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Filtered)
}

func TestInitFailsWithoutSchema(t *testing.T) {
	cfg := DefaultConfig("unknown")
	c := New(cfg, &fakeBroker{}, &fakeTarget{}, schema.NewRegistry(nil), transform.New(transform.DefaultCasters()),
		&fakeKV{data: map[string]string{}}, &recordingSink{}, logger.NewNop())

	_, err := c.Init(context.Background())
	assert.True(t, IsConfigError(err))
}

func TestRunClosesBrokerOnPollError(t *testing.T) {
	b := &fakeBroker{pollErr: errors.New("broker transport failure")}
	c := newTestConsumer(t, b, &fakeTarget{}, &fakeKV{data: map[string]string{}}, &recordingSink{})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, b.closed)
}

func TestRunIdlesWhenDrainedAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBroker{drained: true}
	b.onPolled = func() {
		if b.commits >= 3 {
			cancel()
		}
	}
	c := newTestConsumer(t, b, &fakeTarget{}, &fakeKV{data: map[string]string{}}, &recordingSink{})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.True(t, b.closed)
}
