package producer

import (
	"context"

	"replica/internal/core/wal"
	"replica/internal/domain/tailer"
)

// Collection is a source collection with its globally unique identifier.
type Collection struct {
	Name string
	ID   string
}

// Source is the document database side of the producer.
type Source interface {
	tailer.Source
	// LastTick returns the current head of the log.
	LastTick(ctx context.Context) (wal.Tick, error)
	// Collections lists the collections of the replicated database.
	Collections(ctx context.Context) ([]Collection, error)
}

// Message is one outbound broker record.
type Message struct {
	Topic string
	// Key is nil when the document has no key.
	Key   []byte
	Entry wal.Entry
}

// Publisher delivers messages to the broker.
type Publisher interface {
	// Publish returns after every message has been acknowledged or failed.
	Publish(ctx context.Context, msgs []Message) error
	// Flush waits for any buffered messages to be delivered.
	Flush(ctx context.Context) error
}

// Mirror is the local crash-recovery copy of the committed tick.
type Mirror interface {
	Write(tick wal.Tick) error
	Read() (wal.Tick, bool, error)
}
