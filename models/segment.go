package models

import (
	"time"

	"gorm.io/datatypes"
)

type SegmentStatus string

const (
	SegmentStatusInProcess SegmentStatus = "in_process"
	SegmentStatusReady     SegmentStatus = "ready"
	SegmentStatusError     SegmentStatus = "error"
)

func (s SegmentStatus) Valid() bool {
	switch s {
	case SegmentStatusInProcess, SegmentStatusReady, SegmentStatusError:
		return true
	}
	return false
}

type SegmentUpdateType string

const (
	SegmentUpdateManual   SegmentUpdateType = "manual"
	SegmentUpdatePeriodic SegmentUpdateType = "periodic"
)

// Segment is a tenant-scoped audience definition together with the counters of its last recomputation.
// Table: segments
// Criteria and actions are stored verbatim as submitted and compiled on every recomputation.
type Segment struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	CashboxID      int64             `gorm:"not null;index:idx_segments_cashbox" json:"cashbox_id"`
	Name           string            `gorm:"size:255;not null" json:"name"`
	Criteria       datatypes.JSON    `gorm:"not null" json:"criteria"`
	Actions        datatypes.JSON    `json:"actions"`
	Status         SegmentStatus     `gorm:"size:32;not null;default:'in_process';index:idx_segments_status" json:"status"`
	TypeOfUpdate   SegmentUpdateType `gorm:"size:32;not null;default:'periodic'" json:"type_of_update"`
	UpdateSettings datatypes.JSON    `json:"update_settings"`
	IsArchived     bool              `gorm:"not null;default:false" json:"is_archived"`
	IsDeleted      bool              `gorm:"not null;default:false" json:"is_deleted"`

	ContragentsCount        int `gorm:"not null;default:0" json:"contragents_count"`
	AddedContragentsCount   int `gorm:"not null;default:0" json:"added_contragents_count"`
	DeletedContragentsCount int `gorm:"not null;default:0" json:"deleted_contragents_count"`
	EnteredContragentsCount int `gorm:"not null;default:0" json:"entered_contragents_count"`
	ExitedContragentsCount  int `gorm:"not null;default:0" json:"exited_contragents_count"`
	DocsCount               int `gorm:"not null;default:0" json:"docs_count"`
	AddedDocsCount          int `gorm:"not null;default:0" json:"added_docs_count"`
	DeletedDocsCount        int `gorm:"not null;default:0" json:"deleted_docs_count"`

	RecalculatedAt *time.Time `json:"recalculated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Segment) TableName() string { return "segments" }

// SegmentUpdateSettings is the decoded form of Segment.UpdateSettings
type SegmentUpdateSettings struct {
	IntervalMinutes int `json:"interval_minutes"`
}

// SegmentFilter represents filter criteria for segment queries
type SegmentFilter struct {
	ID           *uint
	CashboxID    *int64
	Name         *string
	Status       *SegmentStatus
	TypeOfUpdate *SegmentUpdateType
	IsArchived   *bool
	IsDeleted    *bool
}

// SegmentCounters carries the membership counters written when a recomputation commits
type SegmentCounters struct {
	ContragentsCount        int
	AddedContragentsCount   int
	DeletedContragentsCount int
	EnteredContragentsCount int
	ExitedContragentsCount  int
	DocsCount               int
	AddedDocsCount          int
	DeletedDocsCount        int
}
