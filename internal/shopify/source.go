// Package shopify is the remote data source: the store's admin REST and GraphQL API.
package shopify

import (
	"context"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// Source defines the calls the sync orchestrator makes against a store.
//
// List calls page until exhausted and return one flat slice. Transient failures
// that survive retries are logged and yield whatever was read so far; the only
// errors list calls return are context errors.
type Source interface {
	GetShop(ctx context.Context) (*models.Shop, error)

	GetOrdersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error)
	GetOrdersByID(ctx context.Context, ids []string) ([]models.Record, error)

	GetCustomersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error)
	GetCustomersByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error)

	GetProductsByDate(ctx context.Context, from, to time.Time) ([]models.Record, error)
	GetProductsByID(ctx context.Context, ids []string) ([]models.Record, error)

	GetPriceRulesByDate(ctx context.Context, from, to time.Time) ([]models.Record, error)
	GetPriceRulesByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error)

	GetRecentEvents(ctx context.Context, from, to time.Time) ([]models.Record, error)
	GetInventoryItems(ctx context.Context, ids []string) ([]models.Record, error)
	GetFulfillmentEvents(ctx context.Context, gids []string) ([]FulfillmentEvents, error)

	// Usage is the share of the request quota used over the trailing minute, in percent.
	Usage() int
}

// Pinger is implemented by sources that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FulfillmentEvents holds the tracking events of one fulfillment, keyed by its
// GraphQL id.
type FulfillmentEvents struct {
	GID    string             `json:"gid"`
	Events []FulfillmentEvent `json:"events"`
}

// FulfillmentEvent is one tracking update.
type FulfillmentEvent struct {
	Status     string `json:"status"`
	HappenedAt string `json:"happenedAt"`
}

// Records converts the events to the shape stored on fulfillment records.
func (f FulfillmentEvents) Records() []any {
	out := make([]any, 0, len(f.Events))
	for _, e := range f.Events {
		out = append(out, map[string]any{"status": e.Status, "happenedAt": e.HappenedAt})
	}
	return out
}
