package syncer

import (
	"context"
	"maps"
	"math"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// emitStatus refreshes the shop profile and resource counters as needed, then
// publishes a snapshot.
func (o *Orchestrator) emitStatus(ctx context.Context) {
	now := o.clock.Now()
	md := o.md

	if !md.ShopKnown || now.Sub(md.LastShopRefresh) >= refreshInterval {
		o.refreshShop(ctx, now)
	}
	if md.ShopKnown && md.Shop != nil {
		md.MaxSteps = maxSteps(md.Shop.CreatedAt, now)
	}

	if now.Sub(md.LastUsageAt) >= refreshInterval || o.currentPhase() == PhaseBackfill {
		md.ObjectCounts = o.engine.CountByType()
		md.FileCounts = o.engine.FileCountByType()
		md.DiskUsage = o.engine.DiskUsage()
		md.FragmentationFactor = fragmentation(o.config().General.GCDatapileSize, md.TotalObjects(), md.TotalFiles())
		md.LastUsageAt = now
	}

	o.logger.Info("storage status",
		"objects", md.TotalObjects(),
		"files", md.TotalFiles(),
		"fragmentation", md.FragmentationFactor,
		"step", md.Step,
		"max_steps", md.MaxSteps)

	o.setPhase(o.currentPhase())
	report := o.buildReport(now)
	o.mu.Lock()
	o.snapshot = report
	o.mu.Unlock()
	o.publish(report)
}

func (o *Orchestrator) refreshShop(ctx context.Context, now time.Time) {
	shop, err := o.source.GetShop(ctx)
	if err != nil {
		o.logger.Warn("failed to retrieve shop information", "error", err)
		return
	}
	o.md.Shop = shop
	o.md.ShopKnown = true
	o.md.LastShopRefresh = now
}

// maxSteps is the number of whole or partial days between the shop's creation and now.
func maxSteps(created, now time.Time) int {
	age := now.Sub(created)
	if age <= 0 {
		return 0
	}
	return int(math.Ceil(float64(age) / float64(day)))
}

// fragmentation compares the compaction target with the mean records per chunk.
// Under 100 files the store is considered unfragmented.
func fragmentation(pileSize, objects, files int) float64 {
	if files <= 100 || objects == 0 {
		return 0
	}
	chunks := files + 1 - len(models.DataTypes)
	return float64(pileSize) / (float64(objects) / float64(chunks))
}

func (o *Orchestrator) buildReport(now time.Time) *models.StatusReport {
	md := o.md
	o.mu.Lock()
	state, phase := o.state, o.phase
	o.mu.Unlock()
	return &models.StatusReport{
		Store:               o.store,
		State:               string(state),
		Phase:               string(phase),
		ObjectCounts:        maps.Clone(md.ObjectCounts),
		FileCounts:          maps.Clone(md.FileCounts),
		TotalObjects:        md.TotalObjects(),
		TotalFiles:          md.TotalFiles(),
		FragmentationFactor: md.FragmentationFactor,
		DiskUsage:           md.DiskUsage,
		Step:                md.Step,
		MaxSteps:            md.MaxSteps,
		QuotaUsage:          o.source.Usage(),
		GeneratedAt:         now,
	}
}

// Status returns the most recent snapshot with live state and quota usage, or nil
// before the first one.
func (o *Orchestrator) Status() *models.StatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snapshot == nil {
		return nil
	}
	cp := *o.snapshot
	cp.State = string(o.state)
	cp.Phase = string(o.phase)
	cp.QuotaUsage = o.source.Usage()
	return &cp
}

// RequestStatus publishes the latest snapshot immediately.
func (o *Orchestrator) RequestStatus() {
	if r := o.Status(); r != nil {
		o.publish(r)
	}
}

func (o *Orchestrator) publish(r *models.StatusReport) {
	if o.report != nil {
		o.report(r)
	}
}
