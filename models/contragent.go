package models

import "time"

// Contragent is a counterparty (customer) of a tenant
type Contragent struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	CashboxID int64     `gorm:"not null;index" json:"cashbox_id"`
	Name      string    `gorm:"size:255" json:"name"`
	Phone     string    `gorm:"size:32;index" json:"phone"`
	IsDeleted bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

func (Contragent) TableName() string { return "contragents" }

// ContragentFilter represents filter criteria for contragent queries
type ContragentFilter struct {
	ID        *int64
	CashboxID *int64
	Phone     *string
	IsDeleted *bool
}
