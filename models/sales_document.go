package models

import "time"

// SalesDocument is an order/invoice owned by a tenant and optionally linked to a contragent.
// Table: docs_sales
// Soft-deleted rows keep is_deleted = true and never take part in segmentation.
type SalesDocument struct {
	ID                 int64      `gorm:"primaryKey" json:"id"`
	CashboxID          int64      `gorm:"not null;index:idx_docs_sales_cashbox_deleted" json:"cashbox_id"`
	Number             string     `gorm:"size:64" json:"number"`
	ContragentID       *int64     `gorm:"index:idx_docs_sales_contragent" json:"contragent_id"`
	OrderStatus        string     `gorm:"size:32" json:"order_status"`
	Sum                float64    `gorm:"not null;default:0" json:"sum"`
	PaidRubles         float64    `gorm:"not null;default:0" json:"paid_rubles"`
	AssignedPicker     *int64     `json:"assigned_picker"`
	AssignedCourier    *int64     `json:"assigned_courier"`
	PickerStartedAt    *time.Time `json:"picker_started_at"`
	PickerFinishedAt   *time.Time `json:"picker_finished_at"`
	CourierPickedAt    *time.Time `json:"courier_picked_at"`
	CourierDeliveredAt *time.Time `json:"courier_delivered_at"`
	IsDeleted          bool       `gorm:"not null;default:false;index:idx_docs_sales_cashbox_deleted" json:"is_deleted"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (SalesDocument) TableName() string { return "docs_sales" }

// SalesDocumentFilter represents filter criteria for sales document queries
type SalesDocumentFilter struct {
	ID           *int64
	CashboxID    *int64
	ContragentID *int64
	OrderStatus  *string
	IsDeleted    *bool
}

// SalesDocumentGood is a line item of a sales document
type SalesDocumentGood struct {
	ID             int64   `gorm:"primaryKey" json:"id"`
	DocsSalesID    int64   `gorm:"not null;index:idx_docs_sales_goods_doc" json:"docs_sales_id"`
	NomenclatureID int64   `gorm:"not null;index" json:"nomenclature_id"`
	Quantity       float64 `gorm:"not null;default:0" json:"quantity"`
	Price          float64 `gorm:"not null;default:0" json:"price"`
}

func (SalesDocumentGood) TableName() string { return "docs_sales_goods" }

type Nomenclature struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	CashboxID  int64  `gorm:"not null;index" json:"cashbox_id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	CategoryID *int64 `gorm:"index" json:"category_id"`
}

func (Nomenclature) TableName() string { return "nomenclature" }

type Category struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	CashboxID int64  `gorm:"not null;index" json:"cashbox_id"`
	Name      string `gorm:"size:255;not null" json:"name"`
}

func (Category) TableName() string { return "categories" }

// DeliveryInfo holds delivery details of a sales document, at most one row per document.
// Recipient fields are flat columns so they can be matched by a closed set of names.
type DeliveryInfo struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	DocsSalesID      int64      `gorm:"not null;uniqueIndex:uk_delivery_info_doc" json:"docs_sales_id"`
	Address          string     `gorm:"size:512" json:"address"`
	DeliveryDate     *time.Time `json:"delivery_date"`
	Note             string     `gorm:"size:1024" json:"note"`
	RecipientName    string     `gorm:"size:255" json:"recipient_name"`
	RecipientSurname string     `gorm:"size:255" json:"recipient_surname"`
	RecipientPhone   string     `gorm:"size:32" json:"recipient_phone"`
}

func (DeliveryInfo) TableName() string { return "docs_sales_delivery_info" }
