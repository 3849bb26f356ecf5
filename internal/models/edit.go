package models

import (
	"gorm.io/gorm"
)

// SegmentEdit records a committed timeline edit and whether it reached
// the Marai backend.
type SegmentEdit struct {
	gorm.Model

	TaskSlug  string `gorm:"index;not null" json:"task_slug"`
	TrackID   string `gorm:"size:100" json:"track_id"`
	SegmentID string `gorm:"index;size:100" json:"segment_id"`
	LineID    string `gorm:"size:100" json:"line_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	Value     string `json:"value"`

	Synced    bool   `gorm:"index" json:"synced"`
	SyncError string `gorm:"size:1000" json:"sync_error,omitempty"`
}
