package models

import "time"

// SyncMetadata is the per-store progress state owned by the orchestrator.
// It is persisted after every loop iteration so a restart resumes mid-backfill.
type SyncMetadata struct {
	RecentReadCursor    time.Time        `json:"recent_read_cursor"`
	LastSync            time.Time        `json:"last_sync"`
	Step                int              `json:"step"`
	MaxSteps            int              `json:"max_steps"`
	PassComplete        bool             `json:"pass_complete"`
	ShopKnown           bool             `json:"shop_known"`
	ForceGC             bool             `json:"force_gc"`
	FragmentationFactor float64          `json:"fragmentation_factor"`
	ObjectCounts        map[DataType]int `json:"object_counts"`
	FileCounts          map[DataType]int `json:"file_counts"`
	DiskUsage           int64            `json:"disk_usage"`
	NoDataSleep         time.Duration    `json:"no_data_sleep"`
	LastUsageAt         time.Time        `json:"last_usage_at"`
	LastShopRefresh     time.Time        `json:"last_shop_refresh"`
	Shop                *Shop            `json:"shop,omitempty"`
}

// NewSyncMetadata returns the state of a store that has never been synced.
func NewSyncMetadata(now time.Time) *SyncMetadata {
	return &SyncMetadata{
		RecentReadCursor: now,
		ObjectCounts:     make(map[DataType]int),
		FileCounts:       make(map[DataType]int),
	}
}

// TotalObjects sums ObjectCounts.
func (m *SyncMetadata) TotalObjects() int {
	var n int
	for _, c := range m.ObjectCounts {
		n += c
	}
	return n
}

// TotalFiles sums FileCounts.
func (m *SyncMetadata) TotalFiles() int {
	var n int
	for _, c := range m.FileCounts {
		n += c
	}
	return n
}

// BackfillDone reports whether the historical pass has walked past the store's creation date.
func (m *SyncMetadata) BackfillDone() bool {
	return m.ShopKnown && m.Step > m.MaxSteps
}
