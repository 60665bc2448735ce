package syncer

import (
	"context"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/shopify"
)

// fulfillmentEventBatch is how many fulfillments one tracking query covers.
const fulfillmentEventBatch = 250

// cycleResult is what one read cycle fetched. The next cycle derives its
// inventory and tracking requests from it.
type cycleResult struct {
	orders       []models.Record
	fulfillments []models.Record
	customers    []models.Record
	products     []models.Record
	discounts    []models.Record
	inventory    []models.Record
	tracked      []models.Record
}

func (r *cycleResult) total() int {
	if r == nil {
		return 0
	}
	return len(r.orders) + len(r.fulfillments) + len(r.customers) + len(r.products) +
		len(r.discounts) + len(r.inventory) + len(r.tracked)
}

// window is a [from, to] read range.
type window struct {
	from, to time.Time
}

// recentWindow is the update range read after cursor. A cursor more than a day
// behind catches up one day at a time.
func recentWindow(cursor, now time.Time) window {
	if now.Sub(cursor) > day {
		return window{from: cursor, to: cursor.Add(day)}
	}
	return window{from: cursor.Add(-time.Minute), to: now}
}

// stepWindow is the creation-date range covered by backfill step s.
func stepWindow(step int, now time.Time) window {
	return window{
		from: now.Add(-time.Duration(step+1) * day),
		to:   now.Add(-time.Duration(step) * day),
	}
}

func (o *Orchestrator) currentPhase() Phase {
	if !o.md.ShopKnown || o.md.Step <= o.md.MaxSteps {
		return PhaseBackfill
	}
	return PhaseIncremental
}

// readCycle fetches one round of data and appends it. On error nothing is committed
// to the metadata, so the same windows are read again.
func (o *Orchestrator) readCycle(ctx context.Context) error {
	cfg := o.config()
	phase := o.currentPhase()
	o.setPhase(phase)

	if phase == PhaseIncremental && o.prev != nil && o.prev.total() < cfg.General.NoDataThreshold {
		d := o.md.NoDataSleep
		if d <= 0 {
			d = cfg.NoDataDefaultSleep()
		}
		o.logger.Debug("little new data, backing off", "sleep", d)
		if !o.pause(ctx, d) {
			return nil
		}
		o.md.NoDataSleep = min(time.Duration(float64(d)*noDataGrowth), maxNoDataSleep)
		if o.disconnect.Load() {
			return nil
		}
	} else {
		o.md.NoDataSleep = cfg.NoDataDefaultSleep()
	}

	now := o.clock.Now()
	recent := recentWindow(o.md.RecentReadCursor, now)
	var dated *window
	if phase == PhaseBackfill {
		w := stepWindow(o.md.Step, now)
		dated = &w
	}

	events, err := o.source.GetRecentEvents(ctx, recent.from, recent.to)
	if err != nil {
		return err
	}
	orderIDs, productIDs := eventSubjects(events)

	res := &cycleResult{}
	prev := o.prev
	ordersDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ordersDone)
		return o.syncOrders(gctx, res, orderIDs, dated)
	})
	g.Go(func() error {
		return o.syncCustomers(gctx, res, recent, dated)
	})
	g.Go(func() error {
		return o.syncProducts(gctx, res, productIDs, dated)
	})
	g.Go(func() error {
		return o.syncDiscounts(gctx, res, recent, dated)
	})
	if prev != nil {
		g.Go(func() error {
			return o.syncInventory(gctx, res, prev.products)
		})
		g.Go(func() error {
			return o.syncTracking(gctx, res, prev.fulfillments, ordersDone)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.md.RecentReadCursor = recent.to
	o.prev = res
	o.logger.Info("read cycle complete", "phase", phase, "step", o.md.Step,
		"orders", len(res.orders), "customers", len(res.customers), "products", len(res.products),
		"discounts", len(res.discounts), "inventory", len(res.inventory))

	if phase == PhaseBackfill && o.md.ShopKnown && o.md.Step <= o.md.MaxSteps {
		o.md.Step++
		// MaxSteps grows by one a day as the store ages; only the first crossing
		// of a pass completes it.
		if o.md.Step > o.md.MaxSteps && !o.md.PassComplete {
			o.md.PassComplete = true
			o.md.LastSync = now
			o.md.ForceGC = true
			o.logger.Info("historical sync complete", "steps", o.md.Step)
		}
	}
	return nil
}

// eventSubjects extracts the ids of orders and products named by recent events.
func eventSubjects(events []models.Record) (orders, products []string) {
	seenOrders := make(map[string]struct{})
	seenProducts := make(map[string]struct{})
	for _, e := range events {
		id := models.IDString(e["subject_id"])
		if id == "" {
			continue
		}
		switch e["subject_type"] {
		case "Order":
			if _, ok := seenOrders[id]; !ok {
				seenOrders[id] = struct{}{}
				orders = append(orders, id)
			}
		case "Product":
			if _, ok := seenProducts[id]; !ok {
				seenProducts[id] = struct{}{}
				products = append(products, id)
			}
		}
	}
	return orders, products
}

func (o *Orchestrator) syncOrders(ctx context.Context, res *cycleResult, ids []string, dated *window) error {
	orders, err := o.source.GetOrdersByID(ctx, ids)
	if err != nil {
		return err
	}
	if dated != nil {
		byDate, err := o.source.GetOrdersByDate(ctx, dated.from, dated.to)
		if err != nil {
			return err
		}
		orders = append(byDate, orders...)
	}

	fulfillments := splitOrders(orders)
	if err := o.engine.Append(ctx, models.TypeOrders, orders); err != nil {
		return err
	}
	if err := o.engine.Append(ctx, models.TypeFulfillments, fulfillments); err != nil {
		return err
	}
	res.orders = orders
	res.fulfillments = fulfillments
	return nil
}

// splitOrders reduces each order's embedded customer to its id and moves its
// fulfillments out to separate records, leaving their ids behind.
func splitOrders(orders []models.Record) []models.Record {
	var fulfillments []models.Record
	for _, order := range orders {
		if c, ok := order["customer"].(map[string]any); ok {
			order["customer"] = c["id"]
		}

		list, ok := order["fulfillments"].([]any)
		if !ok {
			continue
		}
		ids := make([]any, 0, len(list))
		for _, item := range list {
			f, ok := item.(map[string]any)
			if !ok {
				ids = append(ids, item)
				continue
			}
			ids = append(ids, f["id"])
			fulfillments = append(fulfillments, maps.Clone(models.Record(f)))
		}
		order["fulfillments"] = ids
	}
	return fulfillments
}

func (o *Orchestrator) syncCustomers(ctx context.Context, res *cycleResult, recent window, dated *window) error {
	customers, err := o.source.GetCustomersByUpdatedDate(ctx, recent.from, recent.to)
	if err != nil {
		return err
	}
	if dated != nil {
		byDate, err := o.source.GetCustomersByDate(ctx, dated.from, dated.to)
		if err != nil {
			return err
		}
		customers = append(byDate, customers...)
	}
	if err := o.engine.Append(ctx, models.TypeCustomers, customers); err != nil {
		return err
	}
	res.customers = customers
	return nil
}

func (o *Orchestrator) syncProducts(ctx context.Context, res *cycleResult, ids []string, dated *window) error {
	products, err := o.source.GetProductsByID(ctx, ids)
	if err != nil {
		return err
	}
	if dated != nil {
		byDate, err := o.source.GetProductsByDate(ctx, dated.from, dated.to)
		if err != nil {
			return err
		}
		products = append(byDate, products...)
	}
	if err := o.engine.Append(ctx, models.TypeProducts, products); err != nil {
		return err
	}
	res.products = products
	return nil
}

func (o *Orchestrator) syncDiscounts(ctx context.Context, res *cycleResult, recent window, dated *window) error {
	rules, err := o.source.GetPriceRulesByUpdatedDate(ctx, recent.from, recent.to)
	if err != nil {
		return err
	}
	if dated != nil {
		byDate, err := o.source.GetPriceRulesByDate(ctx, dated.from, dated.to)
		if err != nil {
			return err
		}
		rules = append(byDate, rules...)
	}
	if err := o.engine.Append(ctx, models.TypeDiscounts, rules); err != nil {
		return err
	}
	res.discounts = rules
	return nil
}

// syncInventory refreshes the inventory items behind the variants of the
// previous cycle's products.
func (o *Orchestrator) syncInventory(ctx context.Context, res *cycleResult, products []models.Record) error {
	ids := inventoryItemIDs(products)
	if len(ids) == 0 {
		return nil
	}
	items, err := o.source.GetInventoryItems(ctx, ids)
	if err != nil {
		return err
	}
	if err := o.engine.Append(ctx, models.TypeInventory, items); err != nil {
		return err
	}
	res.inventory = items
	return nil
}

func inventoryItemIDs(products []models.Record) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range products {
		variants, _ := p["variants"].([]any)
		for _, v := range variants {
			variant, ok := v.(map[string]any)
			if !ok {
				continue
			}
			id := models.IDString(variant["inventory_item_id"])
			if id == "" {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// syncTracking attaches tracking events to shipped fulfillments seen in the
// previous cycle. It appends only after the orders task has finished, so the
// tracked copy is stamped later than any fresh copy of the same fulfillment.
func (o *Orchestrator) syncTracking(ctx context.Context, res *cycleResult, prev []models.Record, ordersDone <-chan struct{}) error {
	base := make(map[string]models.Record)
	var gids []string
	for _, f := range prev {
		gid, _ := f["admin_graphql_api_id"].(string)
		status, _ := f["shipment_status"].(string)
		if gid == "" || status == "" {
			continue
		}
		if _, ok := base[gid]; !ok {
			gids = append(gids, gid)
		}
		base[gid] = f
	}
	if len(gids) == 0 {
		return nil
	}

	var found []shopify.FulfillmentEvents
	for start := 0; start < len(gids); start += fulfillmentEventBatch {
		end := min(start+fulfillmentEventBatch, len(gids))
		batch, err := o.source.GetFulfillmentEvents(ctx, gids[start:end])
		if err != nil {
			return err
		}
		found = append(found, batch...)
	}

	select {
	case <-ordersDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	// A fulfillment refetched with its order in this cycle is the fresher base.
	for _, f := range res.fulfillments {
		if gid, _ := f["admin_graphql_api_id"].(string); gid != "" {
			if _, ok := base[gid]; ok {
				base[gid] = f
			}
		}
	}

	var tracked []models.Record
	for _, fe := range found {
		if len(fe.Events) == 0 {
			continue
		}
		f, ok := base[fe.GID]
		if !ok {
			continue
		}
		cp := maps.Clone(f)
		cp["events"] = fe.Records()
		tracked = append(tracked, cp)
	}
	if err := o.engine.Append(ctx, models.TypeFulfillments, tracked); err != nil {
		return err
	}
	res.tracked = tracked
	return nil
}
