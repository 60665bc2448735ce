package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

var (
	bucketSync  = []byte("sync")
	keyMetadata = []byte("metadata")
)

// errNoMetadata is returned by Load when the store has never been synced.
var errNoMetadata = errors.New("no sync metadata")

// MetaStore persists a store's SyncMetadata in a bbolt file.
type MetaStore struct {
	db   *bolt.DB
	path string
}

// OpenMetaStore opens or creates the metadata database at path.
func OpenMetaStore(path string) (*MetaStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSync)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketSync, err)
	}

	return &MetaStore{db: db, path: path}, nil
}

// Close releases the database.
func (s *MetaStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Load returns the stored metadata, or errNoMetadata.
func (s *MetaStore) Load() (*models.SyncMetadata, error) {
	var md *models.SyncMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSync).Get(keyMetadata)
		if data == nil {
			return errNoMetadata
		}
		md = &models.SyncMetadata{}
		return json.Unmarshal(data, md)
	})
	if err != nil {
		return nil, err
	}
	if md.ObjectCounts == nil {
		md.ObjectCounts = make(map[models.DataType]int)
	}
	if md.FileCounts == nil {
		md.FileCounts = make(map[models.DataType]int)
	}
	return md, nil
}

// Save replaces the stored metadata.
func (s *MetaStore) Save(md *models.SyncMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSync).Put(keyMetadata, data)
	})
}
