package arango

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"replica/internal/core/wal"
)

// cursorTTL keeps a streaming cursor alive between batches, in seconds.
const cursorTTL = 1800

type cursorResponse struct {
	ID      string           `json:"id"`
	HasMore bool             `json:"hasMore"`
	Result  []map[string]any `json:"result"`
}

// Scan streams every document of collection in batches of batchSize and calls
// fn for each batch. The server-side cursor is released when Scan returns.
func (c *Client) Scan(ctx context.Context, collection string, batchSize int, fn func([]map[string]any) error) error {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/_api/cursor",
		body: map[string]any{
			"query":     "FOR d IN @@collection RETURN d",
			"bindVars":  map[string]any{"@collection": collection},
			"batchSize": batchSize,
			"ttl":       cursorTTL,
			"options":   map[string]any{"stream": true},
		},
	})
	if err != nil {
		return fmt.Errorf("open cursor on %s: %w", collection, err)
	}

	var cur cursorResponse
	if err := wal.Unmarshal(resp.body, &cur); err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	defer func() {
		if cur.HasMore && cur.ID != "" {
			c.closeCursor(cur.ID)
		}
	}()

	for {
		if len(cur.Result) > 0 {
			if err := fn(cur.Result); err != nil {
				return err
			}
		}
		if !cur.HasMore {
			return nil
		}

		id := cur.ID
		resp, err := c.do(ctx, request{method: http.MethodPut, path: "/_api/cursor/" + url.PathEscape(id)})
		if err != nil {
			return fmt.Errorf("read cursor %s: %w", id, err)
		}
		cur = cursorResponse{}
		if err := wal.Unmarshal(resp.body, &cur); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
		if cur.ID == "" {
			cur.ID = id
		}
	}
}

func (c *Client) closeCursor(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: "/_api/cursor/" + url.PathEscape(id)}); err != nil {
		c.log.Warnw("failed to release cursor", "cursor", id, "error", err)
	}
}
