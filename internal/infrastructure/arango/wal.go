package arango

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"replica/internal/core/wal"
)

// Replication response headers of the tail endpoint.
const (
	headerLastIncluded = "X-Arango-Replication-Lastincluded"
	headerCheckMore    = "X-Arango-Replication-Checkmore"
	headerFromPresent  = "X-Arango-Replication-Frompresent"
)

// Tail fetches one chunk of the log starting at from.
func (c *Client) Tail(ctx context.Context, from wal.Tick, chunkSize int) (wal.Batch, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.String())
	}
	if chunkSize > 0 {
		q.Set("chunkSize", strconv.Itoa(chunkSize))
	}
	if c.cfg.ServerID != "" {
		q.Set("serverId", c.cfg.ServerID)
	}

	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/_api/wal/tail", query: q})
	if err != nil {
		return wal.Batch{}, fmt.Errorf("tail log from %s: %w", from, err)
	}

	batch := wal.Batch{
		CheckMore:   headerBool(resp.header, headerCheckMore),
		FromPresent: headerBool(resp.header, headerFromPresent),
	}
	if v := resp.header.Get(headerLastIncluded); v != "" {
		if batch.LastIncluded, err = wal.ParseTick(v); err != nil {
			return wal.Batch{}, fmt.Errorf("tail log: %w", err)
		}
	}
	if resp.status == http.StatusNoContent {
		return batch, nil
	}

	entries, err := decodeEntries(resp.body)
	if err != nil {
		return wal.Batch{}, fmt.Errorf("tail log from %s: %w", from, err)
	}
	batch.Entries = entries
	return batch, nil
}

// decodeEntries parses a newline-delimited JSON body.
func decodeEntries(body []byte) ([]wal.Entry, error) {
	var entries []wal.Entry
	for i, line := range bytes.Split(body, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e wal.Entry
		if err := wal.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode entry on line %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func headerBool(h http.Header, key string) bool {
	b, _ := strconv.ParseBool(h.Get(key))
	return b
}

// LastTick returns the current head of the log.
func (c *Client) LastTick(ctx context.Context) (wal.Tick, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/_api/wal/lastTick"})
	if err != nil {
		return 0, fmt.Errorf("read last tick: %w", err)
	}
	var out struct {
		Tick wal.Tick `json:"tick"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return 0, fmt.Errorf("decode last tick: %w", err)
	}
	return out.Tick, nil
}
