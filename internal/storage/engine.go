// Package storage implements the per-store chunked record store.
//
// Records of one type are written as immutable gzip-compressed JSON chunks. A per-type
// index maps every record id to the chunk holding its authoritative copy. Appends
// always create a new chunk; compaction rewrites a type into fewer, larger chunks.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const (
	indexDir  = "index"
	chunksDir = "chunks"

	// DefaultPileSize is the target number of records per compacted chunk.
	DefaultPileSize = 500
)

// ErrNotInitialized is returned by write operations before Initialize has succeeded.
var ErrNotInitialized = errors.New("storage not initialized")

// Options configure an Engine.
type Options struct {
	Logger   *slog.Logger
	Cache    Cache
	Now      func() time.Time
	PileSize int
}

// Engine is the storage engine for one store directory.
type Engine struct {
	root     string
	logger   *slog.Logger
	cache    Cache
	now      func() time.Time
	pileSize atomic.Int64
	ready    atomic.Bool

	locks map[models.DataType]*sync.Mutex

	stampMu   sync.Mutex
	lastStamp int64
}

// New creates an engine rooted at dir. Nothing is touched on disk until Initialize.
func New(dir string, opts Options) *Engine {
	e := &Engine{
		root:   dir,
		logger: opts.Logger,
		cache:  opts.Cache,
		now:    opts.Now,
		locks:  make(map[models.DataType]*sync.Mutex, len(models.DataTypes)),
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.now == nil {
		e.now = time.Now
	}
	for _, t := range models.DataTypes {
		e.locks[t] = &sync.Mutex{}
	}
	e.SetPileSize(opts.PileSize)
	return e
}

// Root returns the store directory.
func (e *Engine) Root() string {
	return e.root
}

// Ready reports whether Initialize has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// SetPileSize changes the compaction target. Values below 1 select DefaultPileSize.
func (e *Engine) SetPileSize(n int) {
	if n < 1 {
		n = DefaultPileSize
	}
	e.pileSize.Store(int64(n))
}

func (e *Engine) indexPath(t models.DataType) string {
	return filepath.Join(e.root, indexDir, string(t)+chunkSuffix)
}

func (e *Engine) chunkPath(t models.DataType, chunkID string) string {
	return filepath.Join(e.root, chunksDir, chunkFileName(t, chunkID))
}

// stamp returns a write time in unix ms that is strictly greater than any
// previously returned by this engine.
func (e *Engine) stamp() int64 {
	e.stampMu.Lock()
	defer e.stampMu.Unlock()
	ts := e.now().UnixMilli()
	if ts <= e.lastStamp {
		ts = e.lastStamp + 1
	}
	e.lastStamp = ts
	return ts
}

func (e *Engine) lock(t models.DataType) *sync.Mutex {
	return e.locks[t]
}

func (e *Engine) lockAll() func() {
	for _, t := range models.DataTypes {
		e.locks[t].Lock()
	}
	return func() {
		for i := len(models.DataTypes) - 1; i >= 0; i-- {
			e.locks[models.DataTypes[i]].Unlock()
		}
	}
}

func (e *Engine) invalidate(t models.DataType) {
	if e.cache != nil {
		e.cache.Invalidate(t)
	}
}

// InitResult describes what Initialize found and fixed.
type InitResult struct {
	IndexesPurged bool
	Repair        *RepairResult
}

// Initialize prepares the directory layout, recovers unreadable indexes, and repairs
// index/chunk consistency. The engine only becomes ready if every step succeeds.
func (e *Engine) Initialize(ctx context.Context) (*InitResult, error) {
	e.ready.Store(false)

	for _, dir := range []string{indexDir, chunksDir} {
		if err := os.MkdirAll(filepath.Join(e.root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	purged, err := e.CheckIndexHealth()
	if err != nil {
		return nil, err
	}

	repair, err := e.RepairConsistency(ctx)
	if err != nil {
		return nil, err
	}

	e.ready.Store(true)
	return &InitResult{IndexesPurged: purged, Repair: repair}, nil
}

// Append stores records as one new chunk and points their ids at it.
// Records without an id are skipped.
func (e *Engine) Append(ctx context.Context, t models.DataType, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if !e.Ready() {
		return ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]models.Record, 0, len(records))
	for _, r := range records {
		if models.RecordID(r) == "" {
			continue
		}
		batch = append(batch, r)
	}
	if skipped := len(records) - len(batch); skipped > 0 {
		e.logger.Warn("skipping records without id", "type", t, "count", skipped)
	}
	if len(batch) == 0 {
		return nil
	}

	ts := e.stamp()
	for _, r := range batch {
		r[models.WriteTimeField] = ts
	}

	chunkID := uuid.NewString()
	mu := e.lock(t)
	mu.Lock()
	defer mu.Unlock()

	if err := writeGzipJSON(e.chunkPath(t, chunkID), batch); err != nil {
		return fmt.Errorf("write %s chunk: %w", t, err)
	}

	idx, err := readIndexFile(e.indexPath(t))
	if err != nil {
		// The new chunk is unreferenced and will be swept by the next repair.
		e.ready.Store(false)
		return fmt.Errorf("read %s index: %w", t, err)
	}
	for _, r := range batch {
		idx[models.RecordID(r)] = chunkID
	}
	if err := writeGzipJSON(e.indexPath(t), idx); err != nil {
		return fmt.Errorf("write %s index: %w", t, err)
	}

	e.invalidate(t)
	e.logger.Debug("appended chunk", "type", t, "chunk", chunkID, "records", len(batch))
	return nil
}

// Read returns the current, deduplicated records of a type, taking each id only
// from the chunk its index entry points at. Unreadable chunks and
// indexes are logged and treated as empty; the only error is context cancellation.
func (e *Engine) Read(ctx context.Context, t models.DataType) ([]models.Record, error) {
	if e.cache != nil {
		if records, ok := e.cache.Get(t); ok {
			return records, nil
		}
	}

	idx, err := readIndexFile(e.indexPath(t))
	if err != nil {
		e.logger.Warn("index unreadable, treating as empty", "type", t, "error", err)
		return []models.Record{}, nil
	}

	chunkIDs := idx.ChunkIDs()
	parts := make([][]models.Record, len(chunkIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, cid := range chunkIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Only the chunk the index names for an id may supply it; older
			// copies in other indexed chunks are stale.
			var owned []models.Record
			for _, r := range e.readChunk(t, cid) {
				if idx[models.RecordID(r)] == cid {
					owned = append(owned, r)
				}
			}
			parts[i] = owned
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Record
	for _, p := range parts {
		all = append(all, p...)
	}
	records := Deduplicate(all)

	if e.cache != nil {
		e.cache.Put(t, records)
	}
	return records, nil
}

// readChunk reads one chunk, degrading to empty on failure.
func (e *Engine) readChunk(t models.DataType, chunkID string) []models.Record {
	records, err := readChunkFile(e.chunkPath(t, chunkID))
	if err != nil {
		e.logger.Warn("chunk unreadable, skipping", "type", t, "chunk", chunkID, "error", err)
		return nil
	}
	return records
}

// CountByType returns the number of indexed ids per type.
func (e *Engine) CountByType() map[models.DataType]int {
	counts := make(map[models.DataType]int, len(models.DataTypes))
	for _, t := range models.DataTypes {
		idx, err := readIndexFile(e.indexPath(t))
		if err != nil {
			e.logger.Warn("index unreadable, counting as empty", "type", t, "error", err)
		}
		counts[t] = len(idx)
	}
	return counts
}

// FileCountByType returns the number of chunk files on disk per type.
func (e *Engine) FileCountByType() map[models.DataType]int {
	counts := make(map[models.DataType]int, len(models.DataTypes))
	for _, t := range models.DataTypes {
		counts[t] = 0
	}
	entries, err := os.ReadDir(filepath.Join(e.root, chunksDir))
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("list chunks failed", "error", err)
		}
		return counts
	}
	for _, entry := range entries {
		if t, _, ok := parseChunkFileName(entry.Name()); ok && !entry.IsDir() {
			counts[t]++
		}
	}
	return counts
}

// DiskUsage returns the total size in bytes of the store's index and chunk files.
func (e *Engine) DiskUsage() int64 {
	var total int64
	for _, dir := range []string{indexDir, chunksDir} {
		_ = filepath.WalkDir(filepath.Join(e.root, dir), func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
	}
	return total
}

// DeleteAll removes every index and chunk of the store. The engine must be
// initialized again before further writes.
func (e *Engine) DeleteAll() error {
	unlock := e.lockAll()
	defer unlock()

	e.ready.Store(false)
	for _, dir := range []string{indexDir, chunksDir} {
		if err := os.RemoveAll(filepath.Join(e.root, dir)); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	for _, t := range models.DataTypes {
		e.invalidate(t)
	}
	return nil
}
