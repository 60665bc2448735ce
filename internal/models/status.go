package models

import "time"

// StatusReport is a point-in-time snapshot of one store's sync progress and resource use.
type StatusReport struct {
	Store               *Store           `json:"store"`
	State               string           `json:"state"`
	Phase               string           `json:"phase"`
	ObjectCounts        map[DataType]int `json:"object_counts"`
	FileCounts          map[DataType]int `json:"file_counts"`
	TotalObjects        int              `json:"total_objects"`
	TotalFiles          int              `json:"total_files"`
	FragmentationFactor float64          `json:"fragmentation_factor"`
	DiskUsage           int64            `json:"disk_usage"`
	Step                int              `json:"step"`
	MaxSteps            int              `json:"max_steps"`
	QuotaUsage          int              `json:"quota_usage"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// SyncProgress returns the backfill progress as a percentage.
func (r *StatusReport) SyncProgress() float64 {
	if r.MaxSteps+1 <= 0 {
		return 0
	}
	p := 100 * float64(r.Step) / float64(r.MaxSteps+1)
	if p > 100 {
		p = 100
	}
	return p
}
