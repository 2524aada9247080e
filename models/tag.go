package models

import "time"

// TagEntity names the table a tag row is attached to
type TagEntity string

const (
	TagEntityDocument   TagEntity = "docs_sales"
	TagEntityContragent TagEntity = "contragents"
)

// DocumentTag is a free-form label attached to a sales document.
// Table: docs_sales_tags
// Unique by (docs_sales_id, name) so repeated inserts are no-ops
type DocumentTag struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	CashboxID   int64     `gorm:"not null;index:idx_docs_sales_tags_cashbox" json:"cashbox_id"`
	DocsSalesID int64     `gorm:"not null;uniqueIndex:uk_docs_sales_tags_doc_name" json:"docs_sales_id"`
	Name        string    `gorm:"size:255;not null;uniqueIndex:uk_docs_sales_tags_doc_name" json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DocumentTag) TableName() string { return "docs_sales_tags" }

// ContragentTag is a free-form label attached to a contragent.
// Table: contragents_tags
// Unique by (contragent_id, name)
type ContragentTag struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	CashboxID    int64     `gorm:"not null;index:idx_contragents_tags_cashbox" json:"cashbox_id"`
	ContragentID int64     `gorm:"not null;uniqueIndex:uk_contragents_tags_contragent_name" json:"contragent_id"`
	Name         string    `gorm:"size:255;not null;uniqueIndex:uk_contragents_tags_contragent_name" json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ContragentTag) TableName() string { return "contragents_tags" }

// TagFilter represents filter criteria for tag queries on either tag table
type TagFilter struct {
	CashboxID     *int64
	EntityID      *int64
	Name          *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
