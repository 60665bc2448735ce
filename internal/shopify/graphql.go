package shopify

import (
	"context"
	"encoding/json"
	"net/http"
)

const fulfillmentEventsQuery = `query ($fulfillment_ids: [ID!]!) {
  nodes(ids: $fulfillment_ids) {
    ... on Fulfillment {
      id
      events(first: 50) {
        edges {
          node {
            status
            happenedAt
          }
        }
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fulfillmentNodes struct {
	Data struct {
		Nodes []*struct {
			ID     string `json:"id"`
			Events struct {
				Edges []struct {
					Node FulfillmentEvent `json:"node"`
				} `json:"edges"`
			} `json:"events"`
		} `json:"nodes"`
	} `json:"data"`
}

// GetFulfillmentEvents returns tracking events for the given fulfillment GraphQL ids.
// On failure every requested id is returned with no events.
func (c *Client) GetFulfillmentEvents(ctx context.Context, gids []string) ([]FulfillmentEvents, error) {
	if len(gids) == 0 {
		return []FulfillmentEvents{}, nil
	}

	empty := func() []FulfillmentEvents {
		out := make([]FulfillmentEvents, len(gids))
		for i, gid := range gids {
			out[i] = FulfillmentEvents{GID: gid, Events: []FulfillmentEvent{}}
		}
		return out
	}

	payload, err := json.Marshal(graphqlRequest{
		Query:     fulfillmentEventsQuery,
		Variables: map[string]any{"fulfillment_ids": gids},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.apiURL(apiVersion, "graphql.json", nil), payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("read fulfillment events failed", "count", len(gids), "error", err)
		return empty(), nil
	}

	var result fulfillmentNodes
	if err := json.Unmarshal(resp.body, &result); err != nil {
		c.logger.Warn("unreadable fulfillment events response", "error", err)
		return empty(), nil
	}

	out := make([]FulfillmentEvents, 0, len(result.Data.Nodes))
	for _, n := range result.Data.Nodes {
		if n == nil {
			continue
		}
		fe := FulfillmentEvents{GID: n.ID, Events: make([]FulfillmentEvent, 0, len(n.Events.Edges))}
		for _, e := range n.Events.Edges {
			fe.Events = append(fe.Events, e.Node)
		}
		out = append(out, fe)
	}
	return out, nil
}
