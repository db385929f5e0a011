package schema

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/pkg/logger"
)

type casterNames map[string]bool

func (c casterNames) Has(name string) bool { return c[name] }

var testCasters = casterNames{"int": true, "str": true, "float": true, "to_array": true, "[List, str]": true}

const ordersYAML = `
table_name: Orders
table: |
  CREATE TABLE analytics.Orders (Id Int64, Name String) ENGINE = ReplacingMergeTree(_ver) ORDER BY Id
schema:
  primary_key: Id
  properties:
    Id:
      type: int
      ch_type: Int64
      ref: _key
    Name:
      type: str
      ref: name
      default: temp
    Attr1:
      type: int
      ref: attr1
      default: 10
    Attr2:
      type: int
      ref: attr2
      required: true
    Tags:
      type: [to_array, "[List, str]"]
buffer:
  num_layers: 16
  min_time: 10
  max_time: 100
  min_rows: 10000
  max_rows: 1000000
  min_bytes: 10000000
  max_bytes: 100000000
topic_config:
  retention.ms: "86400000"
filter: 'doc.status != "draft"'
`

func TestParseKeepsPropertyOrderAndOptions(t *testing.T) {
	s, err := Parse([]byte(ordersYAML), "orders", "analytics")
	require.NoError(t, err)

	assert.Equal(t, "orders", s.Source)
	assert.Equal(t, "Orders", s.Target)
	assert.Equal(t, "analytics", s.Database)
	assert.Equal(t, []string{"Id", "Name", "Attr1", "Attr2", "Tags"}, s.Columns())
	assert.Equal(t, "Id", s.PrimaryKey)

	id, _ := s.Field("Id")
	assert.Equal(t, "_key", id.SourceRef())
	assert.Equal(t, []string{"int"}, id.Casters)

	name, _ := s.Field("Name")
	assert.True(t, name.HasDefault)
	assert.Equal(t, "temp", name.Default)

	attr2, _ := s.Field("Attr2")
	assert.True(t, attr2.Required)
	assert.False(t, attr2.HasDefault)

	tags, _ := s.Field("Tags")
	assert.Equal(t, "Tags", tags.SourceRef())
	assert.Equal(t, []string{"to_array", "[List, str]"}, tags.Casters)

	require.NotNil(t, s.Buffer)
	assert.Equal(t, int64(16), s.Buffer.NumLayers)
	assert.Equal(t, int64(100000000), s.Buffer.MaxBytes)
	assert.Equal(t, "Orders_Buffer", s.WriteTable())
	assert.Equal(t, "OrdersTemp", s.TempTable())
	assert.Equal(t, "86400000", s.TopicConfig["retention.ms"])

	pkType, err := s.PrimaryKeyType()
	require.NoError(t, err)
	assert.Equal(t, "Int64", pkType)

	require.NoError(t, s.Validate(testCasters))
}

func TestFilterMatch(t *testing.T) {
	s, err := Parse([]byte(ordersYAML), "orders", "analytics")
	require.NoError(t, err)

	ok, err := s.Match(map[string]any{"status": "paid"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Match(map[string]any{"status": "draft"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterMatchComparesDecodedNumbers(t *testing.T) {
	f, err := CompileFilter(`doc.id > 9007199254740992 && doc.price < 3.0 && doc.meta.count == 3`)
	require.NoError(t, err)

	ok, err := f.Match(map[string]any{
		"id":    json.Number("9007199254740993"),
		"price": json.Number("2.5"),
		"meta":  map[string]any{"count": json.Number("3")},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Match(map[string]any{
		"id":    json.Number("9007199254740992"),
		"price": json.Number("2.5"),
		"meta":  map[string]any{"count": json.Number("3")},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileFilterRejectsNonBool(t *testing.T) {
	_, err := CompileFilter(`doc.status`)
	assert.Error(t, err)

	_, err = CompileFilter(`doc.status ==`)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownCaster(t *testing.T) {
	s, err := Parse([]byte(ordersYAML), "orders", "analytics")
	require.NoError(t, err)
	s.Fields[1].Casters = []string{"str1"}

	err = s.Validate(testCasters)
	var unknown *UnknownCasterError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "str1", unknown.Caster)
	assert.Equal(t, "Name", unknown.Field)
}

func TestValidateRejectsMissingPrimaryKey(t *testing.T) {
	s := &Schema{Source: "a", Target: "A", PrimaryKey: "Id", Fields: []Field{{Name: "Name", Casters: []string{"str"}}}}
	assert.Error(t, s.Validate(testCasters))
}

func TestWithVersioningIsIdempotent(t *testing.T) {
	s := &Schema{Fields: []Field{{Name: "Id", Casters: []string{"int"}}}}
	s.WithVersioning().WithVersioning()
	assert.Equal(t, []string{"Id", VersionField, DeletedField}, s.Columns())
}

func writeSchema(t *testing.T, dir, entity, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, entity+FileExt), []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "orders", ordersYAML)

	reg, err := LoadDir(dir, "analytics", []string{"orders"}, testCasters)
	require.NoError(t, err)

	s, err := reg.BySource("orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", s.Target)
	assert.Contains(t, s.Columns(), VersionField)

	byTarget, err := reg.ByTarget("Orders")
	require.NoError(t, err)
	assert.Same(t, s, byTarget)

	assert.Equal(t, []string{"orders"}, reg.Sources())
	assert.Equal(t, []string{"Orders"}, reg.Targets())

	_, err = reg.BySource("users")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestLoadDirFailsFastOnMissingDefinition(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "orders", ordersYAML)

	_, err := LoadDir(dir, "analytics", []string{"orders", "users"}, testCasters)
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestRegistryRejectsTableMappedTwice(t *testing.T) {
	reg := NewRegistry(testCasters)
	a := &Schema{Source: "a", Target: "T", PrimaryKey: "Id", Fields: []Field{{Name: "Id", Casters: []string{"int"}}}}
	b := &Schema{Source: "b", Target: "T", PrimaryKey: "Id", Fields: []Field{{Name: "Id", Casters: []string{"int"}}}}
	require.NoError(t, reg.Put(a))
	assert.Error(t, reg.Put(b))
}

func TestRegistryKeepsMappingWhenTargetIsTaken(t *testing.T) {
	reg := NewRegistry(testCasters)
	field := []Field{{Name: "Id", Casters: []string{"int"}}}
	a := &Schema{Source: "a", Target: "TA", PrimaryKey: "Id", Fields: field}
	b := &Schema{Source: "b", Target: "TB", PrimaryKey: "Id", Fields: field}
	require.NoError(t, reg.Put(a))
	require.NoError(t, reg.Put(b))

	moved := &Schema{Source: "a", Target: "TB", PrimaryKey: "Id", Fields: field}
	assert.Error(t, reg.Put(moved))

	got, err := reg.ByTarget("TA")
	require.NoError(t, err)
	assert.Same(t, a, got)
	got, err = reg.BySource("a")
	require.NoError(t, err)
	assert.Same(t, a, got)
	got, err = reg.ByTarget("TB")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, []string{"TA", "TB"}, reg.Targets())
}

func TestRegistryPutMovesSourceToFreeTable(t *testing.T) {
	reg := NewRegistry(testCasters)
	field := []Field{{Name: "Id", Casters: []string{"int"}}}
	require.NoError(t, reg.Put(&Schema{Source: "a", Target: "TA", PrimaryKey: "Id", Fields: field}))
	require.NoError(t, reg.Put(&Schema{Source: "a", Target: "TC", PrimaryKey: "Id", Fields: field}))

	_, err := reg.ByTarget("TA")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
	assert.Equal(t, []string{"TC"}, reg.Targets())
}

func TestAllowedEntities(t *testing.T) {
	allowed := AllowedEntities([]string{"orders", "users", "audit"}, []string{"audit"})
	assert.Equal(t, []string{"orders", "users"}, allowed)

	assert.NoError(t, CheckAllowed([]string{"users"}, allowed))
	assert.ErrorIs(t, CheckAllowed([]string{"audit"}, allowed), ErrEntityNotAllowed)
}

func TestWatcherReloadKeepsPreviousOnInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "orders", ordersYAML)
	reg, err := LoadDir(dir, "analytics", []string{"orders"}, testCasters)
	require.NoError(t, err)

	w := NewWatcher(dir, "analytics", reg, logger.NewNop())

	writeSchema(t, dir, "orders", "table_name: Orders\nschema:\n  primary_key: Missing\n  properties:\n    Id: {type: int}\n")
	assert.Error(t, w.Reload("orders"))
	s, _ := reg.BySource("orders")
	assert.Contains(t, s.Columns(), "Attr2")

	writeSchema(t, dir, "orders", "table_name: Orders\nschema:\n  primary_key: Id\n  properties:\n    Id: {type: int, ref: _key}\n")
	require.NoError(t, w.Reload("orders"))
	s, _ = reg.BySource("orders")
	assert.Equal(t, []string{"Id", VersionField, DeletedField}, s.Columns())
}

func TestCreateStatementFor(t *testing.T) {
	s, err := Parse([]byte(ordersYAML), "orders", "analytics")
	require.NoError(t, err)

	ddl, err := s.CreateStatementFor(s.TempTable())
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE TABLE analytics.OrdersTemp (Id Int64, Name String)")
	assert.Contains(t, ddl, "ENGINE = ReplacingMergeTree(_ver)")

	s.CreateStatement = "create table if not exists Orders(Id Int64) ENGINE = Memory"
	ddl, err = s.CreateStatementFor("Orders")
	require.NoError(t, err)
	assert.Equal(t, "create table if not exists analytics.Orders(Id Int64) ENGINE = Memory", ddl)

	s.CreateStatement = "SELECT 1"
	_, err = s.CreateStatementFor("Orders")
	assert.Error(t, err)
}
