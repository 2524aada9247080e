package models

import (
	"time"

	"gorm.io/datatypes"
)

// SegmentSnapshot stores the membership computed by one successful recomputation of a segment.
// Rows are immutable; the latest row per segment is the committed snapshot and
// is correlated by correlation_id to the run that produced it.
type SegmentSnapshot struct {
	ID            uint                       `gorm:"primaryKey" json:"id"`
	SegmentID     uint                       `gorm:"not null;index:idx_segment_snapshots_segment_created" json:"segment_id"`
	CorrelationID string                     `gorm:"type:varchar(64);not null;uniqueIndex:uk_segment_snapshots_correlation_id" json:"correlation_id"`
	DocumentIDs   datatypes.JSONSlice[int64] `gorm:"not null" json:"document_ids"`
	ContragentIDs datatypes.JSONSlice[int64] `gorm:"not null" json:"contragent_ids"`
	CreatedAt     time.Time                  `gorm:"index:idx_segment_snapshots_segment_created" json:"created_at"`
}

func (SegmentSnapshot) TableName() string { return "segment_snapshots" }
