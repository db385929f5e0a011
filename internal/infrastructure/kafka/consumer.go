package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"replica/internal/domain/consumer"
	"replica/internal/infrastructure/codec"
	"replica/pkg/logger"
)

var _ consumer.Broker = (*Consumer)(nil)

// Consumer reads one topic as a member of a consumer group. It is owned by a
// single worker and is not safe for concurrent use.
type Consumer struct {
	c       *kafka.Consumer
	codec   *codec.Codec
	timeout int
	log     *logger.Logger
}

// NewConsumer joins group and subscribes to topic.
func NewConsumer(cfg Config, group, topic string, c *codec.Codec, log *logger.Logger) (*Consumer, error) {
	kc, err := kafka.NewConsumer(cfg.consumerConfig(group))
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := kc.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = kc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &Consumer{
		c:       kc,
		codec:   c,
		timeout: cfg.timeoutMs(),
		log:     log.WithComponent("kafka-consumer").With("topic", topic),
	}, nil
}

// Poll returns up to max records. It waits at most timeout for the first
// record and returns early once the client has nothing more buffered.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration, max int) ([]consumer.Record, error) {
	deadline := time.Now().Add(timeout)
	var records []consumer.Record

	for len(records) < max {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		wait := time.Until(deadline)
		if len(records) > 0 || wait <= 0 {
			wait = 0
		}

		switch ev := c.c.Poll(int(wait / time.Millisecond)).(type) {
		case nil:
			if len(records) > 0 || time.Now().After(deadline) {
				return records, nil
			}
		case *kafka.Message:
			rec, err := toRecord(ev, c.codec)
			if err != nil {
				c.log.Errorw("skipping undecodable record", "partition", ev.TopicPartition.Partition,
					"offset", int64(ev.TopicPartition.Offset), "error", err)
				continue
			}
			records = append(records, rec)
		case kafka.Error:
			if ev.IsFatal() {
				return records, fmt.Errorf("kafka consumer: %w", ev)
			}
			c.log.Warnw("kafka consumer error", "code", ev.Code().String(), "error", ev)
		default:
			c.log.Debugw("ignored kafka event", "event", ev.String())
		}
	}
	return records, nil
}

// toRecord decodes a broker message. Messages without a value are tombstones.
func toRecord(m *kafka.Message, c *codec.Codec) (consumer.Record, error) {
	rec := consumer.Record{
		Partition: m.TopicPartition.Partition,
		Offset:    int64(m.TopicPartition.Offset),
	}
	if m.TopicPartition.Topic != nil {
		rec.Topic = *m.TopicPartition.Topic
	}
	if m.Value == nil {
		return rec, nil
	}

	var enc codec.Compression
	for _, h := range m.Headers {
		if h.Key == codec.HeaderEncoding {
			enc = codec.Compression(h.Value)
		}
	}
	entry, err := c.Decode(m.Value, enc)
	if err != nil {
		return rec, err
	}
	rec.Entry = &entry
	return rec, nil
}

// Commit commits the offsets of the records returned so far.
func (c *Consumer) Commit(context.Context) error {
	if _, err := c.c.Commit(); err != nil {
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Code() == kafka.ErrNoOffset {
			return nil
		}
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Drained reports whether the group has committed up to the end of every
// assigned partition.
func (c *Consumer) Drained(context.Context) (bool, error) {
	assigned, err := c.c.Assignment()
	if err != nil {
		return false, fmt.Errorf("read assignment: %w", err)
	}
	if len(assigned) == 0 {
		return true, nil
	}
	committed, err := c.c.Committed(assigned, c.timeout)
	if err != nil {
		return false, fmt.Errorf("read committed offsets: %w", err)
	}
	return drained(committed, func(topic string, partition int32) (int64, int64, error) {
		return c.c.QueryWatermarkOffsets(topic, partition, c.timeout)
	})
}

type watermarkFunc func(topic string, partition int32) (low, high int64, err error)

// drained compares committed offsets with partition high watermarks. A
// partition without a committed offset counts from its low watermark.
func drained(committed []kafka.TopicPartition, watermarks watermarkFunc) (bool, error) {
	for _, tp := range committed {
		if tp.Topic == nil {
			continue
		}
		low, high, err := watermarks(*tp.Topic, tp.Partition)
		if err != nil {
			return false, fmt.Errorf("query watermarks of %s[%d]: %w", *tp.Topic, tp.Partition, err)
		}
		offset := int64(tp.Offset)
		if offset < 0 {
			offset = low
		}
		if offset < high {
			return false, nil
		}
	}
	return true, nil
}

// Close leaves the group.
func (c *Consumer) Close() error {
	if err := c.c.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	return nil
}
