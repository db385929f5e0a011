package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"replica/internal/domain/producer"
	"replica/internal/infrastructure/codec"
	"replica/pkg/logger"
)

var _ producer.Publisher = (*Producer)(nil)

// flushStep is the slice Flush blocks for between context checks.
const flushStep = 100 * time.Millisecond

// Producer publishes log entries. Publish waits for every delivery report.
type Producer struct {
	p     *kafka.Producer
	codec *codec.Codec
	log   *logger.Logger
}

// NewProducer connects a producer.
func NewProducer(cfg Config, c *codec.Codec, log *logger.Logger) (*Producer, error) {
	p, err := kafka.NewProducer(cfg.producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	pr := &Producer{p: p, codec: c, log: log.WithComponent("kafka-producer")}
	go pr.events()
	return pr, nil
}

// events drains client-level events; deliveries go to per-call channels.
func (p *Producer) events() {
	for ev := range p.p.Events() {
		if e, ok := ev.(kafka.Error); ok {
			p.log.Errorw("kafka producer error", "code", e.Code().String(), "fatal", e.IsFatal(), "error", e)
		}
	}
}

// Publish sends msgs and blocks until the broker acknowledged or rejected each one.
func (p *Producer) Publish(ctx context.Context, msgs []producer.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	deliveries := make(chan kafka.Event, len(msgs))

	sent := 0
	for _, m := range msgs {
		km, err := p.message(m)
		if err != nil {
			return err
		}
		if err := p.produce(ctx, km, deliveries); err != nil {
			// Reports of messages already handed over still arrive on the buffered channel.
			return err
		}
		sent++
	}
	return awaitDeliveries(ctx, deliveries, sent)
}

func (p *Producer) message(m producer.Message) (*kafka.Message, error) {
	value, enc, err := p.codec.Encode(m.Entry)
	if err != nil {
		return nil, err
	}
	topic := m.Topic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            m.Key,
		Value:          value,
		Headers:        []kafka.Header{{Key: codec.HeaderEncoding, Value: []byte(enc)}},
	}, nil
}

// produce enqueues km, waiting for queue space when the local queue is full.
func (p *Producer) produce(ctx context.Context, km *kafka.Message, deliveries chan kafka.Event) error {
	for {
		err := p.p.Produce(km, deliveries)
		if err == nil {
			return nil
		}
		var kerr kafka.Error
		if !errors.As(err, &kerr) || kerr.Code() != kafka.ErrQueueFull {
			return fmt.Errorf("produce to %s: %w", *km.TopicPartition.Topic, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.p.Flush(int(flushStep / time.Millisecond))
	}
}

// awaitDeliveries collects n delivery reports and returns the first failure.
func awaitDeliveries(ctx context.Context, deliveries <-chan kafka.Event, n int) error {
	var first error
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-deliveries:
			m, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil && first == nil {
				topic := ""
				if m.TopicPartition.Topic != nil {
					topic = *m.TopicPartition.Topic
				}
				first = fmt.Errorf("deliver to %s: %w", topic, m.TopicPartition.Error)
			}
		}
	}
	return first
}

// Flush waits until the local queue is empty or ctx is done.
func (p *Producer) Flush(ctx context.Context) error {
	for p.p.Flush(int(flushStep/time.Millisecond)) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush producer: %w", err)
		}
	}
	return nil
}

// Close flushes briefly and releases the client.
func (p *Producer) Close() {
	p.p.Flush(int(5 * time.Second / time.Millisecond))
	p.p.Close()
}
