package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const indexReadAttempts = 3

// CheckIndexHealth verifies every index can be read and parsed. An index that fails
// all attempts is replaced with an empty one, and the result reports true so the
// caller can schedule a full re-sync.
func (e *Engine) CheckIndexHealth() (bool, error) {
	unlock := e.lockAll()
	defer unlock()

	purged := false
	for _, t := range models.DataTypes {
		path := e.indexPath(t)
		var lastErr error
		for attempt := 1; attempt <= indexReadAttempts; attempt++ {
			if _, lastErr = readIndexFile(path); lastErr == nil {
				break
			}
			e.logger.Warn("index read failed", "type", t, "attempt", attempt, "error", lastErr)
		}
		if lastErr == nil {
			continue
		}

		e.logger.Error("index unrecoverable, replacing with empty index", "type", t, "error", lastErr)
		if err := writeGzipJSON(path, Index{}); err != nil {
			return purged, fmt.Errorf("replace %s index: %w", t, err)
		}
		e.invalidate(t)
		purged = true
	}
	return purged, nil
}

// RepairResult contains the outcome of a consistency repair.
type RepairResult struct {
	ChunksScanned   int
	OrphansDeleted  int
	DanglingRemoved int
}

// RepairConsistency makes indexes and chunk files agree: chunk files (and leftover
// temp files) no index references are deleted, and index entries pointing at a
// missing chunk are removed.
func (e *Engine) RepairConsistency(ctx context.Context) (*RepairResult, error) {
	unlock := e.lockAll()
	defer unlock()

	result := &RepairResult{}

	indexes := make(map[models.DataType]Index, len(models.DataTypes))
	expected := make(map[string]bool)
	for _, t := range models.DataTypes {
		idx, err := readIndexFile(e.indexPath(t))
		if err != nil {
			return nil, fmt.Errorf("read %s index: %w", t, err)
		}
		indexes[t] = idx
		for _, cid := range idx.ChunkIDs() {
			expected[chunkFileName(t, cid)] = true
		}
	}

	dir := filepath.Join(e.root, chunksDir)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		result.ChunksScanned++
		if expected[name] {
			onDisk[name] = true
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			e.logger.Warn("repair: failed to delete orphan chunk", "file", name, "error", err)
			continue
		}
		result.OrphansDeleted++
	}
	e.removeIndexTemps()

	for _, t := range models.DataTypes {
		idx := indexes[t]
		changed := false
		for id, cid := range idx {
			if !onDisk[chunkFileName(t, cid)] {
				delete(idx, id)
				result.DanglingRemoved++
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := writeGzipJSON(e.indexPath(t), idx); err != nil {
			return nil, fmt.Errorf("write %s index: %w", t, err)
		}
		e.invalidate(t)
	}

	e.logger.Info("consistency repair complete",
		"scanned", result.ChunksScanned,
		"orphans_deleted", result.OrphansDeleted,
		"dangling_removed", result.DanglingRemoved,
	)
	return result, nil
}

func (e *Engine) removeIndexTemps() {
	entries, err := os.ReadDir(filepath.Join(e.root, indexDir))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			os.Remove(filepath.Join(e.root, indexDir, entry.Name()))
		}
	}
}
