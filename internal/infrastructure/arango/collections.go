package arango

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"replica/internal/domain/producer"
)

var _ producer.Source = (*Client)(nil)

// Collections lists the non-system collections with their globally unique ids.
func (c *Client) Collections(ctx context.Context) ([]producer.Collection, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/_api/collection",
		query:  url.Values{"excludeSystem": {"true"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var out struct {
		Result []struct {
			Name             string `json:"name"`
			GloballyUniqueID string `json:"globallyUniqueId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}

	cols := make([]producer.Collection, 0, len(out.Result))
	for _, r := range out.Result {
		cols = append(cols, producer.Collection{Name: r.Name, ID: r.GloballyUniqueID})
	}
	return cols, nil
}
