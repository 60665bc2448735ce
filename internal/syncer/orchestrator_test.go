package syncer

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/shopify"
)

var epoch = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// sleepsAtLeast returns recorded sleeps of at least d, in order.
func (c *fakeClock) sleepsAtLeast(d time.Duration) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, s := range c.sleeps {
		if s >= d {
			out = append(out, s)
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.General.MinimumDuration = 1000
	cfg.General.NoDataDefaultSleep = 5000
	cfg.General.NoDataThreshold = 1
	return cfg
}

type harness struct {
	o       *Orchestrator
	src     *shopify.MockSource
	clock   *fakeClock
	dir     string
	mu      sync.Mutex
	reports []*models.StatusReport
}

func newHarness(t *testing.T, createdAgo time.Duration, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		src:   shopify.NewMockSource(epoch.Add(-createdAgo)),
		clock: newFakeClock(),
		dir:   t.TempDir(),
	}
	if cfg == nil {
		cfg = testConfig()
	}
	o, err := New(Options{
		Store:   &models.Store{UUID: "store-1", Name: "test-shop"},
		Dir:     h.dir,
		Source:  h.src,
		Config:  cfg,
		Console: io.Discard,
		Clock:   h.clock,
		Report: func(r *models.StatusReport) {
			h.mu.Lock()
			h.reports = append(h.reports, r)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		o.shutdown()
	})
	h.o = o
	return h
}

func (h *harness) iterate(t *testing.T, n int) {
	t.Helper()
	for range n {
		stop, err := h.o.iterate(context.Background())
		require.NoError(t, err)
		require.False(t, stop)
	}
}

func (h *harness) read(t *testing.T, typ models.DataType) map[string]models.Record {
	t.Helper()
	records, err := h.o.Engine().Read(context.Background(), typ)
	require.NoError(t, err)
	out := make(map[string]models.Record, len(records))
	for _, r := range records {
		out[models.RecordID(r)] = r
	}
	return out
}

// ==================== Backfill Tests ====================

func TestOrchestrator_BackfillTerminates(t *testing.T) {
	const days = 3
	h := newHarness(t, days*day-time.Hour, nil)

	// initialization pass
	h.iterate(t, 1)
	assert.True(t, h.o.Engine().Ready())
	assert.Equal(t, 0, h.src.Calls("GetOrdersByDate"))

	h.iterate(t, days)
	assert.Equal(t, days, h.o.md.MaxSteps)
	assert.False(t, h.o.md.ForceGC)
	assert.Equal(t, days, h.o.md.Step)

	h.iterate(t, 1)
	assert.Equal(t, days+1, h.src.Calls("GetOrdersByDate"))
	assert.Equal(t, days+1, h.o.md.Step)
	assert.True(t, h.o.md.ForceGC)
	assert.False(t, h.o.md.LastSync.IsZero())

	// the next pass collects garbage instead of reading
	h.iterate(t, 1)
	assert.Equal(t, days+1, h.src.Calls("GetOrdersByDate"))
	assert.False(t, h.o.md.ForceGC)

	// incremental cycles no longer read by creation date
	h.iterate(t, 2)
	assert.Equal(t, days+1, h.src.Calls("GetOrdersByDate"))
	assert.Equal(t, PhaseIncremental, h.o.currentPhase())
}

func TestOrchestrator_BackfillWindowsWalkBackwards(t *testing.T) {
	h := newHarness(t, 2*day-time.Hour, nil)
	h.iterate(t, 4)

	windows := h.src.OrderWindows()
	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, day, w.To.Sub(w.From), "window %d", i)
		if i > 0 {
			assert.WithinDuration(t, windows[i-1].From, w.To, time.Minute,
				"window %d should end where window %d began", i, i-1)
		}
	}
}

func TestOrchestrator_BackfillStoresOrders(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	h.src.AddOrders(
		models.Record{
			"id":         json.Number("1001"),
			"created_at": epoch.Add(-2 * time.Hour),
			"customer":   map[string]any{"id": json.Number("55"), "email": "a@example.com"},
			"fulfillments": []any{
				map[string]any{"id": json.Number("9001"), "order_id": json.Number("1001")},
			},
		},
		models.Record{"id": json.Number("1002"), "created_at": epoch.Add(-30 * time.Hour), "customer": nil},
	)
	h.iterate(t, 3)

	orders := h.read(t, models.TypeOrders)
	require.Len(t, orders, 2)
	assert.Equal(t, json.Number("55"), orders["1001"]["customer"])
	assert.Equal(t, []any{json.Number("9001")}, orders["1001"]["fulfillments"])
	assert.Nil(t, orders["1002"]["customer"])

	fulfillments := h.read(t, models.TypeFulfillments)
	require.Contains(t, fulfillments, "9001")
	assert.Equal(t, json.Number("1001"), fulfillments["9001"]["order_id"])
}

// ==================== Backoff Tests ====================

// toIncremental runs a store created an hour ago through its two backfill cycles
// and the garbage collection that follows.
func toIncremental(t *testing.T, h *harness) {
	t.Helper()
	h.iterate(t, 4)
	require.Equal(t, PhaseIncremental, h.o.currentPhase())
	require.False(t, h.o.md.ForceGC)
}

func TestOrchestrator_NoDataBackoffGrows(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)
	require.Empty(t, h.clock.sleepsAtLeast(5*time.Second))

	h.iterate(t, 3)
	sleeps := h.clock.sleepsAtLeast(5 * time.Second)
	require.Len(t, sleeps, 3)
	assert.Equal(t, 5000*time.Millisecond, sleeps[0])
	assert.Greater(t, sleeps[1], sleeps[0])
	assert.Greater(t, sleeps[2], sleeps[1])
}

func TestOrchestrator_NoDataBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.General.NoDataDefaultSleep = 500000
	h := newHarness(t, time.Hour, cfg)
	toIncremental(t, h)

	h.iterate(t, 5)
	sleeps := h.clock.sleepsAtLeast(500 * time.Second)
	require.Len(t, sleeps, 5)
	for _, s := range sleeps {
		assert.LessOrEqual(t, s, maxNoDataSleep)
	}
	assert.Equal(t, maxNoDataSleep, sleeps[len(sleeps)-1])
	assert.Equal(t, maxNoDataSleep, h.o.md.NoDataSleep)
}

func TestOrchestrator_NoDataBackoffResetsOnData(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)
	h.iterate(t, 2)
	require.Greater(t, h.o.md.NoDataSleep, 5000*time.Millisecond)

	h.src.AddCustomers(models.Record{"id": json.Number("7"), "updated_at": h.clock.Now()})
	h.iterate(t, 1)
	require.NotNil(t, h.o.prev)
	assert.Len(t, h.o.prev.customers, 1)

	before := len(h.clock.sleepsAtLeast(5 * time.Second))
	h.iterate(t, 1)
	assert.Equal(t, before, len(h.clock.sleepsAtLeast(5*time.Second)), "no backoff after a cycle with data")
	assert.Equal(t, 5000*time.Millisecond, h.o.md.NoDataSleep)
}

// ==================== Command Tests ====================

func TestOrchestrator_ForceResync(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)
	calls := h.src.Calls("GetOrdersByDate")

	h.o.ForceResync()
	h.iterate(t, 1)
	assert.Equal(t, 0, h.o.md.Step)
	assert.Equal(t, h.clock.Now(), h.o.md.LastSync)

	h.iterate(t, 1)
	assert.Equal(t, calls+1, h.src.Calls("GetOrdersByDate"))
}

func TestOrchestrator_SyncFrequencyRestartsPass(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)

	h.clock.mu.Lock()
	h.clock.now = h.clock.now.Add(4 * day)
	h.clock.mu.Unlock()
	h.iterate(t, 1)
	assert.Equal(t, 0, h.o.md.Step)
}

func TestOrchestrator_AgingStoreStillResyncs(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)

	resets, forcedGCs := 0, 0
	start := h.clock.Now()
	for range 16 {
		h.clock.mu.Lock()
		h.clock.now = h.clock.now.Add(12 * time.Hour)
		h.clock.mu.Unlock()

		for range 3 {
			step, forced := h.o.md.Step, h.o.md.ForceGC
			h.iterate(t, 1)
			if step != 0 && h.o.md.Step == 0 {
				resets++
			}
			if !forced && h.o.md.ForceGC {
				forcedGCs++
			}
		}
	}

	require.Greater(t, h.clock.Now().Sub(start), 2*h.o.config().SyncFrequency())
	assert.GreaterOrEqual(t, resets, 2, "periodic resync must fire as the store ages")
	assert.LessOrEqual(t, forcedGCs, resets, "only a completed pass forces garbage collection")
}

func TestOrchestrator_DailyDriftDoesNotCompletePass(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	toIncremental(t, h)
	lastSync := h.o.md.LastSync

	h.clock.mu.Lock()
	h.clock.now = h.clock.now.Add(day)
	h.clock.mu.Unlock()
	h.iterate(t, 2)

	assert.Greater(t, h.o.md.Step, h.o.md.MaxSteps)
	assert.True(t, h.o.md.PassComplete)
	assert.False(t, h.o.md.ForceGC)
	assert.Equal(t, lastSync, h.o.md.LastSync)
}

func TestOrchestrator_OfflineDoesNoWork(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	h.src.SetUnreachable(true)
	h.iterate(t, 3)

	assert.False(t, h.o.Engine().Ready())
	assert.Equal(t, 0, h.src.Calls("GetOrdersByDate"))
	assert.Equal(t, 3, h.src.Calls("Ping"))

	h.src.SetUnreachable(false)
	h.iterate(t, 2)
	assert.Equal(t, 1, h.src.Calls("GetOrdersByDate"))
}

func TestOrchestrator_DisconnectPurges(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	h.src.AddOrders(models.Record{"id": json.Number("1"), "created_at": epoch.Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- h.o.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.src.Calls("GetOrdersByDate") > 0
	}, 5*time.Second, 5*time.Millisecond)

	h.o.Disconnect()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not terminate")
	}

	assert.Equal(t, StateTerminated, h.o.State())
	_, err := os.Stat(h.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestOrchestrator_ContextCancelPersists(t *testing.T) {
	h := newHarness(t, 5*day, nil)
	h.iterate(t, 3)
	step := h.o.md.Step

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stop, err := h.o.iterate(ctx)
	require.NoError(t, err)
	assert.True(t, stop)

	meta, err := OpenMetaStore(filepath.Join(h.dir, config.MetadataFile))
	require.NoError(t, err)
	defer meta.Close()
	md, err := meta.Load()
	require.NoError(t, err)
	assert.Equal(t, step, md.Step)
	assert.True(t, md.ShopKnown)
}

func TestOrchestrator_ResumesFromMetadata(t *testing.T) {
	h := newHarness(t, 5*day, nil)
	h.iterate(t, 3)
	require.Equal(t, 2, h.o.md.Step)
	h.o.shutdown()

	o, err := New(Options{
		Store:   &models.Store{UUID: "store-1", Name: "test-shop"},
		Dir:     h.dir,
		Source:  h.src,
		Config:  testConfig(),
		Console: io.Discard,
		Clock:   h.clock,
	})
	require.NoError(t, err)
	defer o.shutdown()
	assert.Equal(t, 2, o.md.Step)
}

// ==================== Status Tests ====================

func TestOrchestrator_StatusReports(t *testing.T) {
	h := newHarness(t, 3*day-time.Hour, nil)
	h.src.UsagePercent = 42
	assert.Nil(t, h.o.Status())

	h.iterate(t, 2)
	status := h.o.Status()
	require.NotNil(t, status)
	assert.Equal(t, "test-shop", status.Store.Name)
	assert.Equal(t, 3, status.MaxSteps)
	assert.Equal(t, 42, status.QuotaUsage)
	assert.Equal(t, string(PhaseBackfill), status.Phase)

	h.mu.Lock()
	published := len(h.reports)
	h.mu.Unlock()
	h.o.RequestStatus()
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.reports, published+1)
}

func TestOrchestrator_ShopFailureKeepsBackfilling(t *testing.T) {
	h := newHarness(t, 3*day, nil)
	h.src.ShopErr = assert.AnError
	h.iterate(t, 3)

	assert.False(t, h.o.md.ShopKnown)
	assert.Equal(t, PhaseBackfill, h.o.currentPhase())
	// windows are read, but the step cannot advance without the creation date
	assert.Equal(t, 2, h.src.Calls("GetOrdersByDate"))
	assert.Equal(t, 0, h.o.md.Step)
}

// ==================== Enrichment Tests ====================

func TestOrchestrator_TrackingEventsAttached(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	gid := "gid://shopify/Fulfillment/9001"
	h.src.AddOrders(models.Record{
		"id":         json.Number("1001"),
		"created_at": epoch.Add(-time.Hour),
		"fulfillments": []any{map[string]any{
			"id":                   json.Number("9001"),
			"admin_graphql_api_id": gid,
			"shipment_status":      "in_transit",
		}},
	})
	h.src.FulfillmentEvents[gid] = []shopify.FulfillmentEvent{
		{Status: "IN_TRANSIT", HappenedAt: "2024-03-10T10:00:00Z"},
	}

	h.iterate(t, 2)
	assert.NotContains(t, h.read(t, models.TypeFulfillments)["9001"], "events")

	h.iterate(t, 1)
	f := h.read(t, models.TypeFulfillments)["9001"]
	require.Contains(t, f, "events")
	events, ok := f["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "IN_TRANSIT", events[0].(map[string]any)["status"])
}

func TestOrchestrator_InventoryFromPreviousProducts(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	h.src.Products = []models.Record{{
		"id":         json.Number("300"),
		"created_at": epoch.Add(-time.Hour),
		"variants": []any{
			map[string]any{"id": json.Number("301"), "inventory_item_id": json.Number("77")},
			map[string]any{"id": json.Number("302"), "inventory_item_id": json.Number("77")},
		},
	}}
	h.src.Inventory = []models.Record{{"id": json.Number("77"), "sku": "SKU-77"}}

	h.iterate(t, 2)
	assert.Equal(t, 0, h.src.Calls("GetInventoryItems"))

	h.iterate(t, 1)
	assert.Equal(t, 1, h.src.Calls("GetInventoryItems"))
	inv := h.read(t, models.TypeInventory)
	require.Contains(t, inv, "77")
	assert.Equal(t, "SKU-77", inv["77"]["sku"])
}

func TestOrchestrator_EventSubjectsRefetched(t *testing.T) {
	h := newHarness(t, 2*day, nil)
	h.src.Orders = []models.Record{{"id": json.Number("5000"), "created_at": epoch.Add(-10 * day), "note": "old"}}
	h.src.Events = []models.Record{
		{"id": json.Number("1"), "subject_type": "Order", "subject_id": json.Number("5000"), "created_at": epoch},
	}

	h.iterate(t, 2)
	orders := h.read(t, models.TypeOrders)
	require.Contains(t, orders, "5000")
	assert.Equal(t, "old", orders["5000"]["note"])
}

// ==================== Helper Tests ====================

func TestRecentWindow(t *testing.T) {
	now := epoch
	w := recentWindow(now.Add(-3*day), now)
	assert.Equal(t, now.Add(-3*day), w.from)
	assert.Equal(t, now.Add(-2*day), w.to)

	w = recentWindow(now.Add(-time.Hour), now)
	assert.Equal(t, now.Add(-time.Hour-time.Minute), w.from)
	assert.Equal(t, now, w.to)
}

func TestStepWindow(t *testing.T) {
	w := stepWindow(0, epoch)
	assert.Equal(t, epoch.Add(-day), w.from)
	assert.Equal(t, epoch, w.to)

	w = stepWindow(4, epoch)
	assert.Equal(t, epoch.Add(-5*day), w.from)
	assert.Equal(t, epoch.Add(-4*day), w.to)
}

func TestMaxSteps(t *testing.T) {
	assert.Equal(t, 0, maxSteps(epoch, epoch))
	assert.Equal(t, 1, maxSteps(epoch.Add(-time.Hour), epoch))
	assert.Equal(t, 3, maxSteps(epoch.Add(-3*day), epoch))
	assert.Equal(t, 4, maxSteps(epoch.Add(-3*day-time.Second), epoch))
}

func TestFragmentation(t *testing.T) {
	assert.Zero(t, fragmentation(500, 1000, 100))
	assert.Zero(t, fragmentation(500, 0, 200))
	// 1000 objects over 195 chunks is about 5 per chunk
	assert.InDelta(t, 500.0/(1000.0/195.0), fragmentation(500, 1000, 200), 1e-9)
}

func TestEventSubjects(t *testing.T) {
	orders, products := eventSubjects([]models.Record{
		{"subject_type": "Order", "subject_id": json.Number("1")},
		{"subject_type": "Order", "subject_id": json.Number("1")},
		{"subject_type": "Product", "subject_id": json.Number("2")},
		{"subject_type": "Collection", "subject_id": json.Number("3")},
		{"subject_type": "Order"},
	})
	assert.Equal(t, []string{"1"}, orders)
	assert.Equal(t, []string{"2"}, products)
}
