package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/wal"
	"replica/internal/infrastructure/codec"
)

func newCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(codec.CompressionZstd, 0)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func strPtr(s string) *string { return &s }

func TestToRecord(t *testing.T) {
	c := newCodec(t)
	value, enc, err := c.Encode(wal.Entry{Tick: 42, Type: wal.OpUpsert, Data: map[string]any{"_key": "a"}})
	require.NoError(t, err)
	assert.Equal(t, codec.CompressionZstd, enc)

	rec, err := toRecord(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: strPtr("items"), Partition: 2, Offset: 17},
		Value:          value,
		Headers:        []kafka.Header{{Key: codec.HeaderEncoding, Value: []byte(enc)}},
	}, c)
	require.NoError(t, err)

	assert.Equal(t, "items", rec.Topic)
	assert.Equal(t, int32(2), rec.Partition)
	assert.Equal(t, int64(17), rec.Offset)
	require.NotNil(t, rec.Entry)
	assert.Equal(t, wal.Tick(42), rec.Entry.Tick)
	assert.Equal(t, "a", rec.Entry.Data["_key"])
}

func TestToRecord_Tombstone(t *testing.T) {
	rec, err := toRecord(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: strPtr("items"), Offset: 3},
	}, newCodec(t))
	require.NoError(t, err)
	assert.Nil(t, rec.Entry)
}

func TestToRecord_PlainWithoutHeader(t *testing.T) {
	rec, err := toRecord(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: strPtr("items")},
		Value:          []byte(`{"tick":"7","type":2302,"data":{"_key":"z"}}`),
	}, newCodec(t))
	require.NoError(t, err)
	assert.Equal(t, wal.OpRemove, rec.Entry.Type)
}

func TestDrained(t *testing.T) {
	marks := map[int32][2]int64{0: {0, 10}, 1: {5, 5}}
	wm := func(_ string, p int32) (int64, int64, error) {
		m := marks[p]
		return m[0], m[1], nil
	}

	ok, err := drained([]kafka.TopicPartition{
		{Topic: strPtr("items"), Partition: 0, Offset: 10},
		{Topic: strPtr("items"), Partition: 1, Offset: kafka.OffsetInvalid},
	}, wm)
	require.NoError(t, err)
	assert.True(t, ok, "committed at high watermark and empty partition")

	ok, err = drained([]kafka.TopicPartition{
		{Topic: strPtr("items"), Partition: 0, Offset: 9},
	}, wm)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = drained([]kafka.TopicPartition{
		{Topic: strPtr("items"), Partition: 0, Offset: kafka.OffsetInvalid},
	}, wm)
	require.NoError(t, err)
	assert.False(t, ok, "nothing committed on a non-empty partition")

	_, err = drained([]kafka.TopicPartition{{Topic: strPtr("items")}}, func(string, int32) (int64, int64, error) {
		return 0, 0, errors.New("broker down")
	})
	assert.Error(t, err)
}

func TestAwaitDeliveries(t *testing.T) {
	ch := make(chan kafka.Event, 3)
	ch <- &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: strPtr("items")}}
	ch <- &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: strPtr("items"), Error: errors.New("msg too large")}}
	ch <- &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: strPtr("items")}}

	err := awaitDeliveries(context.Background(), ch, 3)
	assert.ErrorContains(t, err, "msg too large")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, awaitDeliveries(ctx, make(chan kafka.Event), 1), context.Canceled)
}

func TestResultError(t *testing.T) {
	ok := []kafka.TopicResult{
		{Topic: "a", Error: kafka.NewError(kafka.ErrNoError, "", false)},
		{Topic: "b", Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "exists", false)},
	}
	assert.NoError(t, resultError("create topic", ok, kafka.ErrTopicAlreadyExists))

	bad := []kafka.TopicResult{{Topic: "c", Error: kafka.NewError(kafka.ErrInvalidReplicationFactor, "rf", false)}}
	assert.ErrorContains(t, resultError("create topic", bad, kafka.ErrTopicAlreadyExists), "create topic c")
}

func TestConfigMaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = []string{"k1:9092", "k2:9092"}
	cfg.Compression = "zstd"

	p := *cfg.producerConfig()
	assert.Equal(t, "k1:9092,k2:9092", p["bootstrap.servers"])
	assert.Equal(t, "zstd", p["compression.type"])
	assert.Equal(t, "all", p["acks"])

	c := *cfg.consumerConfig("items-group")
	assert.Equal(t, "items-group", c["group.id"])
	assert.Equal(t, false, c["enable.auto.commit"])
	assert.Equal(t, "earliest", c["auto.offset.reset"])
}
