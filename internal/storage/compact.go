package storage

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const compactWorkers = 4

// CompactResult contains the outcome of compacting one type.
type CompactResult struct {
	Groups        int
	RecordsKept   int
	ChunksWritten int
	ChunksDeleted int
	IDsDropped    int
}

// Compact rewrites all records of a type into chunks of roughly the configured pile
// size. Every chunk referenced before compaction is deleted afterwards. Ids whose
// record cannot be found in any chunk are dropped from the index.
func (e *Engine) Compact(ctx context.Context, t models.DataType) (*CompactResult, error) {
	if !e.Ready() {
		return nil, ErrNotInitialized
	}

	mu := e.lock(t)
	mu.Lock()
	defer mu.Unlock()

	idx, err := readIndexFile(e.indexPath(t))
	if err != nil {
		e.ready.Store(false)
		return nil, fmt.Errorf("read %s index: %w", t, err)
	}

	result := &CompactResult{}
	if len(idx) == 0 {
		return result, nil
	}

	groups := groupIDs(idx, int(e.pileSize.Load()))
	result.Groups = len(groups)
	mappings := make([]Index, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compactWorkers)
	for i, group := range groups {
		g.Go(func() error {
			m, err := e.compactGroup(gctx, t, idx, group)
			if err != nil {
				return err
			}
			mappings[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Chunks already written are unreferenced; repair sweeps them.
		return nil, err
	}

	merged := make(Index, len(idx))
	written := make(map[string]bool)
	for _, m := range mappings {
		for id, cid := range m {
			merged[id] = cid
			written[cid] = true
		}
	}
	result.RecordsKept = len(merged)
	result.ChunksWritten = len(written)
	result.IDsDropped = len(idx) - len(merged)

	if err := writeGzipJSON(e.indexPath(t), merged); err != nil {
		return nil, fmt.Errorf("write %s index: %w", t, err)
	}
	e.invalidate(t)

	for _, cid := range idx.ChunkIDs() {
		if err := os.Remove(e.chunkPath(t, cid)); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("compact: failed to delete chunk", "type", t, "chunk", cid, "error", err)
			continue
		}
		result.ChunksDeleted++
	}

	e.logger.Info("compaction complete",
		"type", t,
		"groups", result.Groups,
		"records", result.RecordsKept,
		"chunks_written", result.ChunksWritten,
		"chunks_deleted", result.ChunksDeleted,
		"ids_dropped", result.IDsDropped,
	)
	return result, nil
}

// compactGroup reads the chunks a group's ids live in, keeps the current copy of each
// member id, and writes them as one new chunk.
func (e *Engine) compactGroup(ctx context.Context, t models.DataType, idx Index, group []string) (Index, error) {
	members := make(map[string]bool, len(group))
	var sources []string
	seen := make(map[string]bool)
	for _, id := range group {
		members[id] = true
		if cid := idx[id]; !seen[cid] {
			seen[cid] = true
			sources = append(sources, cid)
		}
	}

	var candidates []models.Record
	for _, cid := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range e.readChunk(t, cid) {
			if members[models.RecordID(r)] {
				candidates = append(candidates, r)
			}
		}
	}

	records := Deduplicate(candidates)
	mapping := make(Index, len(records))
	if len(records) == 0 {
		return mapping, nil
	}

	chunkID := uuid.NewString()
	if err := writeGzipJSON(e.chunkPath(t, chunkID), records); err != nil {
		return nil, fmt.Errorf("write %s chunk: %w", t, err)
	}
	for _, r := range records {
		mapping[models.RecordID(r)] = chunkID
	}
	return mapping, nil
}

// groupIDs partitions the index into compaction groups. Ids are ordered by their
// current chunk, and a group keeps accepting ids while it is under size or while the
// next id comes from a chunk already in the group, so no source chunk is split
// across groups.
func groupIDs(idx Index, size int) [][]string {
	if size < 1 {
		size = 1
	}
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := idx[ids[i]], idx[ids[j]]
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})

	var groups [][]string
	var cur []string
	for _, id := range ids {
		if len(cur) == 0 || len(cur) < size || idx[cur[len(cur)-1]] == idx[id] {
			cur = append(cur, id)
			continue
		}
		groups = append(groups, cur)
		cur = []string{id}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
