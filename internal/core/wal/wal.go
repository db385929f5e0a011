// Package wal defines the write-ahead log model shared by the tailer, the
// producer and the consumer: ticks, operation types, entries and batches.
package wal

import (
	"bytes"
	"fmt"
	"strconv"
)

// Tick is a monotonically increasing position in the source log.
// The zero value means "no position".
type Tick uint64

// ParseTick parses the decimal representation used by the source and the state store.
func ParseTick(s string) (Tick, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tick %q: %w", s, err)
	}
	return Tick(v), nil
}

// String returns the decimal representation.
func (t Tick) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// IsZero reports whether t carries no position.
func (t Tick) IsZero() bool {
	return t == 0
}

// MarshalJSON encodes the tick as a JSON string, like the source does.
func (t Tick) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (t *Tick) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	v, err := ParseTick(string(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OpType is the operation code of a log entry.
type OpType int

// Operation codes as written by the source log.
const (
	OpTxnStart  OpType = 2200
	OpTxnCommit OpType = 2201
	OpTxnAbort  OpType = 2202
	OpUpsert    OpType = 2300
	OpRemove    OpType = 2302
)

// String returns the operation name.
func (o OpType) String() string {
	switch o {
	case OpTxnStart:
		return "TXN_START"
	case OpTxnCommit:
		return "TXN_COMMIT"
	case OpTxnAbort:
		return "TXN_ABORT"
	case OpUpsert:
		return "UPSERT"
	case OpRemove:
		return "REMOVE"
	default:
		return "OP_" + strconv.Itoa(int(o))
	}
}

// IsDocumentOp reports whether entries of this type carry a document.
func (o OpType) IsDocumentOp() bool {
	return o == OpUpsert || o == OpRemove
}

// Entry is a single record of the source log.
type Entry struct {
	Tick Tick           `json:"tick"`
	Type OpType         `json:"type"`
	DB   string         `json:"db,omitempty"`
	CUID string         `json:"cuid,omitempty"`
	TID  string         `json:"tid,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Key returns the document key stored under field, or "" when absent.
func (e Entry) Key(field string) (string, bool) {
	if e.Data == nil {
		return "", false
	}
	switch v := e.Data[field].(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Batch is one chunk returned by a tail request.
type Batch struct {
	Entries []Entry
	// LastIncluded is the tick of the last entry in the chunk; 0 means nothing was returned.
	LastIncluded Tick
	// CheckMore signals that more data is available without waiting.
	CheckMore bool
	// FromPresent is false when the requested start tick is no longer in the log.
	FromPresent bool
}

// Empty reports whether the batch is the "nothing to tail" sentinel.
func (b Batch) Empty() bool {
	return b.LastIncluded == 0 && len(b.Entries) == 0
}
