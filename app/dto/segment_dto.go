package dto

import "encoding/json"

// SegmentUpdateSettings configures periodic recomputation.
// Zero means the service default interval.
type SegmentUpdateSettings struct {
	IntervalMinutes int `json:"interval_minutes" validate:"gte=0,lte=43200"`
}

// CreateSegmentRequest carries a new segment definition.
// Criteria and actions are validated by compiling them, not by tags.
type CreateSegmentRequest struct {
	CashboxID      int64                  `json:"-"`
	Name           string                 `json:"name" validate:"required,max=255"`
	Criteria       json.RawMessage        `json:"criteria"`
	Actions        json.RawMessage        `json:"actions,omitempty"`
	TypeOfUpdate   string                 `json:"type_of_update,omitempty" validate:"omitempty,oneof=manual periodic"`
	UpdateSettings *SegmentUpdateSettings `json:"update_settings,omitempty" validate:"omitempty"`
}

// UpdateSegmentRequest is a partial update; absent fields are left unchanged.
// A JSON null for actions clears them.
type UpdateSegmentRequest struct {
	CashboxID      int64                  `json:"-"`
	SegmentID      uint                   `json:"-"`
	Name           *string                `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Criteria       json.RawMessage        `json:"criteria,omitempty"`
	Actions        json.RawMessage        `json:"actions,omitempty"`
	TypeOfUpdate   *string                `json:"type_of_update,omitempty" validate:"omitempty,oneof=manual periodic"`
	UpdateSettings *SegmentUpdateSettings `json:"update_settings,omitempty" validate:"omitempty"`
}

// ListSegmentsRequest filters the tenant's segments
type ListSegmentsRequest struct {
	CashboxID  int64   `json:"-"`
	Name       *string `json:"name,omitempty"`
	Status     *string `json:"status,omitempty" validate:"omitempty,oneof=in_process ready error"`
	IsArchived *bool   `json:"is_archived,omitempty"`
	Page       int     `json:"page" validate:"gte=0"`
	Limit      int     `json:"limit" validate:"gte=0,lte=100"`
}

// SegmentItem is the API view of a segment with the counters of its last recomputation
type SegmentItem struct {
	ID                      uint            `json:"id"`
	Name                    string          `json:"name"`
	Criteria                json.RawMessage `json:"criteria"`
	Actions                 json.RawMessage `json:"actions,omitempty"`
	Status                  string          `json:"status"`
	TypeOfUpdate            string          `json:"type_of_update"`
	UpdateSettings          json.RawMessage `json:"update_settings,omitempty"`
	IsArchived              bool            `json:"is_archived"`
	ContragentsCount        int             `json:"contragents_count"`
	AddedContragentsCount   int             `json:"added_contragents_count"`
	DeletedContragentsCount int             `json:"deleted_contragents_count"`
	EnteredContragentsCount int             `json:"entered_contragents_count"`
	ExitedContragentsCount  int             `json:"exited_contragents_count"`
	DocsCount               int             `json:"docs_count"`
	AddedDocsCount          int             `json:"added_docs_count"`
	DeletedDocsCount        int             `json:"deleted_docs_count"`
	RecalculatedAt          *string         `json:"recalculated_at,omitempty"`
	CreatedAt               string          `json:"created_at"`
	UpdatedAt               string          `json:"updated_at"`
}

// SegmentResponse wraps a single segment
type SegmentResponse struct {
	Message string      `json:"message"`
	Segment SegmentItem `json:"segment"`
}

// ListSegmentsResponse represents a paginated list of segments
type ListSegmentsResponse struct {
	Message    string         `json:"message"`
	Items      []SegmentItem  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// SegmentMembersResponse returns the ids of the latest committed snapshot
type SegmentMembersResponse struct {
	Message       string  `json:"message"`
	SegmentID     uint    `json:"segment_id"`
	CorrelationID string  `json:"correlation_id"`
	ComputedAt    string  `json:"computed_at"`
	DocumentIDs   []int64 `json:"document_ids"`
	ContragentIDs []int64 `json:"contragent_ids"`
}
