package shopify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// TimeRange is a requested [From, To] window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// MockSource is an in-memory Source for testing. Date-filtered calls match records
// by their created_at or updated_at field; id calls match by id. Returned records
// are shallow copies, so callers may rewrite top-level fields.
type MockSource struct {
	mu sync.Mutex

	Shop *models.Shop
	// ShopErr can be set to make GetShop fail
	ShopErr error
	// Unreachable makes Ping fail
	Unreachable bool

	Orders     []models.Record
	Customers  []models.Record
	Products   []models.Record
	PriceRules []models.Record
	Inventory  []models.Record
	Events     []models.Record

	// FulfillmentEvents maps a fulfillment GraphQL id to its tracking events
	FulfillmentEvents map[string][]FulfillmentEvent

	UsagePercent int

	calls       map[string]int
	dateWindows []TimeRange
}

// NewMockSource creates a mock for a shop created at createdAt.
func NewMockSource(createdAt time.Time) *MockSource {
	return &MockSource{
		Shop: &models.Shop{
			ID:        "1",
			Name:      "Mock Shop",
			Domain:    "mock.myshopify.com",
			PlanName:  "basic",
			CreatedAt: createdAt,
		},
		FulfillmentEvents: make(map[string][]FulfillmentEvent),
		calls:             make(map[string]int),
	}
}

func (m *MockSource) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method was called.
func (m *MockSource) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// OrderWindows returns the windows passed to GetOrdersByDate, in call order.
func (m *MockSource) OrderWindows() []TimeRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TimeRange(nil), m.dateWindows...)
}

// SetUnreachable toggles Ping failures.
func (m *MockSource) SetUnreachable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unreachable = v
}

// AddOrders appends orders to the mock.
func (m *MockSource) AddOrders(records ...models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, records...)
}

// AddCustomers appends customers to the mock.
func (m *MockSource) AddCustomers(records ...models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Customers = append(m.Customers, records...)
}

func cloneRecords(records []models.Record) []models.Record {
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		cp := make(models.Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (m *MockSource) byTime(src *[]models.Record, field string, from, to time.Time) []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.Record
	for _, r := range *src {
		if ts, ok := recordTime(r, field); ok && !ts.Before(from) && !ts.After(to) {
			matched = append(matched, r)
		}
	}
	return cloneRecords(matched)
}

func (m *MockSource) byID(src *[]models.Record, ids []string) []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var matched []models.Record
	for _, r := range *src {
		if want[models.RecordID(r)] {
			matched = append(matched, r)
		}
	}
	return cloneRecords(matched)
}

func recordTime(r models.Record, field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// GetShop implements Source.
func (m *MockSource) GetShop(ctx context.Context) (*models.Shop, error) {
	m.record("GetShop")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShopErr != nil {
		return nil, m.ShopErr
	}
	if m.Shop == nil {
		return nil, errors.New("no shop")
	}
	shop := *m.Shop
	return &shop, nil
}

// Ping implements Pinger.
func (m *MockSource) Ping(ctx context.Context) error {
	m.record("Ping")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unreachable {
		return errors.New("unreachable")
	}
	return nil
}

// GetOrdersByDate implements Source.
func (m *MockSource) GetOrdersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetOrdersByDate")
	m.mu.Lock()
	m.dateWindows = append(m.dateWindows, TimeRange{From: from, To: to})
	m.mu.Unlock()
	return m.byTime(&m.Orders, "created_at", from, to), nil
}

// GetOrdersByID implements Source.
func (m *MockSource) GetOrdersByID(ctx context.Context, ids []string) ([]models.Record, error) {
	m.record("GetOrdersByID")
	return m.byID(&m.Orders, ids), nil
}

// GetCustomersByDate implements Source.
func (m *MockSource) GetCustomersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetCustomersByDate")
	return m.byTime(&m.Customers, "created_at", from, to), nil
}

// GetCustomersByUpdatedDate implements Source.
func (m *MockSource) GetCustomersByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetCustomersByUpdatedDate")
	return m.byTime(&m.Customers, "updated_at", from, to), nil
}

// GetProductsByDate implements Source.
func (m *MockSource) GetProductsByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetProductsByDate")
	return m.byTime(&m.Products, "created_at", from, to), nil
}

// GetProductsByID implements Source.
func (m *MockSource) GetProductsByID(ctx context.Context, ids []string) ([]models.Record, error) {
	m.record("GetProductsByID")
	return m.byID(&m.Products, ids), nil
}

// GetPriceRulesByDate implements Source.
func (m *MockSource) GetPriceRulesByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetPriceRulesByDate")
	return m.byTime(&m.PriceRules, "created_at", from, to), nil
}

// GetPriceRulesByUpdatedDate implements Source.
func (m *MockSource) GetPriceRulesByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetPriceRulesByUpdatedDate")
	return m.byTime(&m.PriceRules, "updated_at", from, to), nil
}

// GetRecentEvents implements Source.
func (m *MockSource) GetRecentEvents(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	m.record("GetRecentEvents")
	return m.byTime(&m.Events, "created_at", from, to), nil
}

// GetInventoryItems implements Source.
func (m *MockSource) GetInventoryItems(ctx context.Context, ids []string) ([]models.Record, error) {
	m.record("GetInventoryItems")
	return m.byID(&m.Inventory, ids), nil
}

// GetFulfillmentEvents implements Source.
func (m *MockSource) GetFulfillmentEvents(ctx context.Context, gids []string) ([]FulfillmentEvents, error) {
	m.record("GetFulfillmentEvents")
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FulfillmentEvents, 0, len(gids))
	for _, gid := range gids {
		out = append(out, FulfillmentEvents{GID: gid, Events: m.FulfillmentEvents[gid]})
	}
	return out, nil
}

// Usage implements Source.
func (m *MockSource) Usage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UsagePercent
}
