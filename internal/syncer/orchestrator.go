// Package syncer runs the per-store sync loop: initial day-by-day backfill, then
// event-driven incremental reads, with storage garbage collection between cycles.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/shopify"
	"github.com/tehaksbrid/shop-databaser/internal/storage"
)

// State is what the orchestrator is doing in the current iteration.
type State string

const (
	StateInitializing  State = "initializing"
	StateGC            State = "gc"
	StateSyncing       State = "syncing"
	StateDisconnecting State = "disconnecting"
	StateTerminated    State = "terminated"
)

// Phase selects how a read cycle chooses its windows.
type Phase string

const (
	PhaseBackfill    Phase = "backfill"
	PhaseIncremental Phase = "incremental"
)

const (
	day             = 24 * time.Hour
	gcThreshold     = 1.1
	maxNoDataSleep  = 600000 * time.Millisecond
	noDataGrowth    = 1.1
	refreshInterval = 10 * time.Minute
)

// Reporter receives every status snapshot.
type Reporter func(*models.StatusReport)

// networkLogger is implemented by sources whose request logging can be toggled.
type networkLogger interface {
	SetNetworkLogs(enabled bool)
}

// Options configure an Orchestrator.
type Options struct {
	Store  *models.Store
	Dir    string
	Source shopify.Source
	Config *config.Config
	Clock  Clock
	Report Reporter

	// Console receives log lines when logging.report_logs_to_console is set.
	// Defaults to os.Stderr.
	Console io.Writer

	// Cache, if set, serves repeated reads of the store's engine.
	Cache storage.Cache
}

// Orchestrator owns one store's storage engine and metadata and runs its sync loop.
// Run must be called from exactly one goroutine; the command methods are safe
// for concurrent use.
type Orchestrator struct {
	store  *models.Store
	dir    string
	source shopify.Source
	engine *storage.Engine
	meta   *MetaStore
	clock  Clock
	report Reporter

	cfg     atomic.Pointer[config.Config]
	logFile *LogFile
	console *gatedWriter
	level   *slog.LevelVar
	logger  *slog.Logger

	// loop-owned
	md        *models.SyncMetadata
	prev      *cycleResult
	iterStart time.Time

	resync       atomic.Bool
	disconnect   atomic.Bool
	stopCtx      context.Context
	stop         context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once

	mu       sync.Mutex
	state    State
	phase    Phase
	snapshot *models.StatusReport
}

// New opens the store's metadata and log and prepares its storage engine.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Source == nil || opts.Config == nil {
		return nil, errors.New("orchestrator requires a store, source and config")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	logFile, err := OpenLogFile(filepath.Join(opts.Dir, config.LogFile))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:   opts.Store,
		dir:     opts.Dir,
		source:  opts.Source,
		clock:   opts.Clock,
		report:  opts.Report,
		logFile: logFile,
		console: &gatedWriter{w: opts.Console},
		level:   new(slog.LevelVar),
		done:    make(chan struct{}),
		state:   StateInitializing,
		phase:   PhaseBackfill,
	}
	o.stopCtx, o.stop = context.WithCancel(context.Background())
	out := io.MultiWriter(logFile, o.console)
	hopts := &slog.HandlerOptions{Level: o.level}
	var handler slog.Handler
	if opts.Config.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}
	o.logger = slog.New(handler).With("store", opts.Store.Name)

	o.applyConfig(opts.Config)

	o.engine = storage.New(opts.Dir, storage.Options{
		Logger:   o.logger,
		Cache:    opts.Cache,
		Now:      o.clock.Now,
		PileSize: opts.Config.General.GCDatapileSize,
	})

	if err := o.openMetadata(); err != nil {
		logFile.Close()
		return nil, err
	}
	return o, nil
}

// openMetadata loads persisted progress. An unreadable database is discarded,
// which restarts the historical pass.
func (o *Orchestrator) openMetadata() error {
	path := filepath.Join(o.dir, config.MetadataFile)
	meta, err := OpenMetaStore(path)
	if err != nil {
		o.logger.Warn("discarding unreadable metadata", "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove metadata: %w", rmErr)
		}
		if meta, err = OpenMetaStore(path); err != nil {
			return err
		}
	}

	md, err := meta.Load()
	if err != nil {
		if !errors.Is(err, errNoMetadata) {
			o.logger.Warn("discarding corrupt metadata", "error", err)
		}
		md = models.NewSyncMetadata(o.clock.Now())
	}
	o.meta = meta
	o.md = md
	return nil
}

// Engine returns the store's storage engine.
func (o *Orchestrator) Engine() *storage.Engine {
	return o.engine
}

// Store returns the store this orchestrator syncs.
func (o *Orchestrator) Store() *models.Store {
	return o.store
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// ForceResync restarts the historical pass at the end of the current iteration.
func (o *Orchestrator) ForceResync() {
	o.resync.Store(true)
}

// Disconnect asks the loop to purge the store and terminate. The in-flight iteration
// finishes first; pending sleeps are cut short.
func (o *Orchestrator) Disconnect() {
	o.disconnect.Store(true)
	o.stop()
}

// UpdateConfig swaps the configuration used from the next iteration on.
func (o *Orchestrator) UpdateConfig(cfg *config.Config) {
	o.applyConfig(cfg)
	if o.engine != nil {
		o.engine.SetPileSize(cfg.General.GCDatapileSize)
	}
}

func (o *Orchestrator) applyConfig(cfg *config.Config) {
	o.cfg.Store(cfg)
	o.console.enabled.Store(cfg.Logging.ReportLogsToConsole)
	o.level.Set(parseLevel(cfg.Logging.Level))
	if nl, ok := o.source.(networkLogger); ok {
		nl.SetNetworkLogs(cfg.Logging.ReportNetworkLogs)
	}
}

func (o *Orchestrator) config() *config.Config {
	return o.cfg.Load()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// Run drives the loop until the store is disconnected or ctx is cancelled.
// A disconnect purges all of the store's data before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	o.iterStart = o.clock.Now()
	for {
		stop, err := o.iterate(ctx)
		if stop {
			return err
		}
	}
}

// iterate runs one loop pass. It reports true once the loop must end.
func (o *Orchestrator) iterate(ctx context.Context) (bool, error) {
	if o.disconnect.Load() {
		return true, o.purge()
	}
	if ctx.Err() != nil {
		o.shutdown()
		return true, nil
	}

	cfg := o.config()
	if wait := cfg.MinimumDuration() - o.clock.Now().Sub(o.iterStart); wait > 0 {
		if !o.pause(ctx, wait) {
			return false, nil
		}
	}
	o.iterStart = o.clock.Now()

	if o.engine.Ready() {
		o.emitStatus(ctx)
	}

	o.act(ctx)

	now := o.clock.Now()
	if o.resync.Swap(false) {
		o.logger.Info("resync requested")
		o.md.LastSync = time.Time{}
	}
	if !o.md.LastSync.Add(cfg.SyncFrequency()).After(now) {
		o.md.LastSync = now
		o.restartPass()
		o.logger.Info("starting historical sync pass")
	}

	if err := o.meta.Save(o.md); err != nil {
		o.logger.Error("failed to persist metadata", "error", err)
	}
	return false, nil
}

// act performs the single highest-priority unit of work for this iteration.
func (o *Orchestrator) act(ctx context.Context) {
	if p, ok := o.source.(shopify.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			o.logger.Warn("store unreachable, retrying", "error", err)
			return
		}
	}

	switch {
	case !o.engine.Ready():
		o.setState(StateInitializing)
		o.initialize(ctx)
	case o.md.FragmentationFactor > gcThreshold || o.md.ForceGC:
		o.setState(StateGC)
		o.collectGarbage(ctx)
	default:
		o.setState(StateSyncing)
		if err := o.readCycle(ctx); err != nil {
			o.logger.Error("read cycle aborted", "error", err)
		}
	}
}

func (o *Orchestrator) initialize(ctx context.Context) {
	res, err := o.engine.Initialize(ctx)
	if err != nil {
		o.logger.Error("storage initialization failed", "error", err)
		return
	}
	if res.IndexesPurged {
		o.logger.Warn("indexes were purged, restarting historical sync")
		o.restartPass()
	}
}

// restartPass rewinds the historical pass to the most recent day.
func (o *Orchestrator) restartPass() {
	o.md.Step = 0
	o.md.PassComplete = false
}

func (o *Orchestrator) collectGarbage(ctx context.Context) {
	o.logger.Info("starting garbage collection", "fragmentation", o.md.FragmentationFactor, "forced", o.md.ForceGC)
	if _, err := o.engine.RepairConsistency(ctx); err != nil {
		o.logger.Error("consistency repair failed", "error", err)
		return
	}
	for _, t := range models.DataTypes {
		res, err := o.engine.Compact(ctx, t)
		if err != nil {
			o.logger.Error("compaction failed", "type", t, "error", err)
			return
		}
		if res.Groups > 0 {
			o.logger.Info("compacted", "type", t, "records", res.RecordsKept,
				"chunks_written", res.ChunksWritten, "chunks_deleted", res.ChunksDeleted)
		}
	}
	o.md.FragmentationFactor = 0
	o.md.ForceGC = false
	o.md.LastUsageAt = time.Time{}
	o.logger.Info("garbage collection complete")
}

// pause sleeps for d unless ctx ends or a disconnect arrives.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.stopCtx, cancel)
	defer stop()
	return o.clock.Sleep(sctx, d) == nil
}

// shutdown persists progress and releases files on process exit.
func (o *Orchestrator) shutdown() {
	o.shutdownOnce.Do(func() {
		if err := o.meta.Save(o.md); err != nil {
			o.logger.Error("failed to persist metadata", "error", err)
		}
		o.logger.Info("sync stopped")
		o.meta.Close()
		o.logFile.Close()
		o.setState(StateTerminated)
	})
}

// purge deletes everything the store owns on disk.
func (o *Orchestrator) purge() error {
	o.setState(StateDisconnecting)
	o.logger.Info("disconnecting, purging local data")

	var errs []error
	if err := o.engine.DeleteAll(); err != nil {
		errs = append(errs, err)
	}
	o.shutdownOnce.Do(func() {
		o.meta.Close()
		o.logFile.Close()
	})
	if err := os.RemoveAll(o.dir); err != nil {
		errs = append(errs, fmt.Errorf("remove store directory: %w", err))
	}
	o.setState(StateTerminated)
	return errors.Join(errs...)
}
