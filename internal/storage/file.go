package storage

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const (
	chunkSuffix = ".json.gz"
	tempPrefix  = ".tmp-"
)

// Index maps a record id to the chunk id currently authoritative for it.
type Index map[string]string

// ChunkIDs returns the distinct chunk ids referenced by the index.
func (idx Index) ChunkIDs() []string {
	seen := make(map[string]bool, len(idx))
	var ids []string
	for _, c := range idx {
		if !seen[c] {
			seen[c] = true
			ids = append(ids, c)
		}
	}
	return ids
}

// chunkFileName returns the on-disk name of a chunk: "<type>-<chunk-id>.json.gz".
func chunkFileName(t models.DataType, chunkID string) string {
	return string(t) + "-" + chunkID + chunkSuffix
}

// parseChunkFileName splits a chunk file name into its type and chunk id.
func parseChunkFileName(name string) (models.DataType, string, bool) {
	if !strings.HasSuffix(name, chunkSuffix) || strings.HasPrefix(name, ".") {
		return "", "", false
	}
	base := strings.TrimSuffix(name, chunkSuffix)
	typ, id, ok := strings.Cut(base, "-")
	if !ok || id == "" {
		return "", "", false
	}
	t, ok := models.ParseDataType(typ)
	if !ok {
		return "", "", false
	}
	return t, id, true
}

// writeGzipJSON writes v as gzip-compressed JSON. The file is written to a temp file
// in the same directory and renamed into place, so readers see either the old file
// or the new one, never a partial write.
func writeGzipJSON(path string, v any) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	gz := gzip.NewWriter(tmpFile)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode data: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compress data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readGzipJSON decodes a gzip-compressed JSON file into v. Numbers decode as
// json.Number so large ids keep their precision.
func readGzipJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readIndexFile reads an index. A missing file is an empty index.
func readIndexFile(path string) (Index, error) {
	idx := make(Index)
	err := readGzipJSON(path, &idx)
	if os.IsNotExist(err) {
		return make(Index), nil
	}
	if err != nil {
		return nil, err
	}
	if idx == nil {
		idx = make(Index)
	}
	return idx, nil
}

func readChunkFile(path string) ([]models.Record, error) {
	var records []models.Record
	if err := readGzipJSON(path, &records); err != nil {
		return nil, err
	}
	return records, nil
}
