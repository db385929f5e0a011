// Package kafka adapts confluent-kafka-go to the producer and consumer
// pipelines and provides topic administration for resyncs.
package kafka

import (
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Config holds the settings shared by every client.
type Config struct {
	Brokers []string
	// Compression is the broker-side compression.type of produced batches.
	Compression string
	// RequestTimeout bounds metadata and offset queries.
	RequestTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		Compression:    "none",
		RequestTimeout: 10 * time.Second,
	}
}

func (c Config) timeoutMs() int {
	if c.RequestTimeout <= 0 {
		return 10000
	}
	return int(c.RequestTimeout / time.Millisecond)
}

func (c Config) base() kafka.ConfigMap {
	return kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.Brokers, ","),
	}
}

func (c Config) producerConfig() *kafka.ConfigMap {
	m := c.base()
	m["acks"] = "all"
	m["enable.idempotence"] = true
	m["linger.ms"] = 5
	if c.Compression != "" {
		m["compression.type"] = c.Compression
	}
	return &m
}

func (c Config) consumerConfig(group string) *kafka.ConfigMap {
	m := c.base()
	m["group.id"] = group
	m["auto.offset.reset"] = "earliest"
	m["enable.auto.commit"] = false
	m["enable.partition.eof"] = false
	return &m
}

func (c Config) adminConfig() *kafka.ConfigMap {
	m := c.base()
	return &m
}
