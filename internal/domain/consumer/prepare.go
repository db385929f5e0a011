package consumer

import (
	"fmt"
	"strconv"
	"time"

	"replica/internal/core/wal"
	"replica/internal/domain/schema"
)

// Document is a source document ready for transformation.
type Document struct {
	Offset int64
	Tick   wal.Tick
	Op     wal.OpType
	Data   map[string]any
}

// Rejected is a record that could not be prepared.
type Rejected struct {
	Offset int64
	Data   map[string]any
	Err    error
}

// Version returns the row version for a record: the UTC date as YYYY followed by
// the zero-padded day of year, then the broker offset, read as one integer.
func Version(now time.Time, offset int64) (int64, error) {
	now = now.UTC()
	raw := fmt.Sprintf("%04d%03d%d", now.Year(), now.YearDay(), offset)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version for offset %d: %w", offset, err)
	}
	return v, nil
}

// Prepare drops tombstones and, when resume is set, entries older than resume.
// Surviving documents are copied and stamped with _ver and _deleted.
func Prepare(records []Record, resume wal.Tick, now time.Time) ([]Document, []Rejected) {
	docs := make([]Document, 0, len(records))
	var rejected []Rejected
	for _, r := range records {
		if r.Entry == nil || r.Entry.Data == nil {
			continue
		}
		if !resume.IsZero() && r.Entry.Tick < resume {
			continue
		}

		data := make(map[string]any, len(r.Entry.Data)+2)
		for k, v := range r.Entry.Data {
			data[k] = v
		}

		ver, err := Version(now, r.Offset)
		if err != nil {
			rejected = append(rejected, Rejected{Offset: r.Offset, Data: data, Err: err})
			continue
		}
		data[schema.VersionField] = ver
		deleted := 0
		if r.Entry.Type == wal.OpRemove {
			deleted = 1
		}
		data[schema.DeletedField] = deleted

		docs = append(docs, Document{Offset: r.Offset, Tick: r.Entry.Tick, Op: r.Entry.Type, Data: data})
	}
	return docs, rejected
}
