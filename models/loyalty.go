package models

import "time"

// LoyaltyDirection is the sign of a ledger entry
type LoyaltyDirection string

const (
	LoyaltyAccrual  LoyaltyDirection = "accrual"
	LoyaltyWithdraw LoyaltyDirection = "withdraw"
)

func (d LoyaltyDirection) Valid() bool {
	return d == LoyaltyAccrual || d == LoyaltyWithdraw
}

// LoyaltyCard is a per-contragent balance record.
// Balance and LastOperationAt are derived from the ledger and rewritten on every append.
// Lifetime is in seconds; zero means the card never expires.
type LoyaltyCard struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	CashboxID       int64      `gorm:"not null;index" json:"cashbox_id"`
	ContragentID    int64      `gorm:"not null;index:idx_loyality_cards_contragent" json:"contragent_id"`
	CardNumber      string     `gorm:"size:64" json:"card_number"`
	Balance         float64    `gorm:"not null;default:0" json:"balance"`
	Lifetime        int64      `gorm:"not null;default:0" json:"lifetime"`
	LastOperationAt *time.Time `json:"last_operation_at"`
	IsDeleted       bool       `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (LoyaltyCard) TableName() string { return "loyality_cards" }

// ExpiresAt returns when the card expires, or nil for cards without a lifetime
func (c *LoyaltyCard) ExpiresAt() *time.Time {
	if c.Lifetime <= 0 {
		return nil
	}
	base := c.CreatedAt
	if c.LastOperationAt != nil {
		base = *c.LastOperationAt
	}
	t := base.Add(time.Duration(c.Lifetime) * time.Second)
	return &t
}

// LoyaltyTransaction is an append-only ledger entry of a loyalty card.
// Amount is always positive; Type carries the sign.
type LoyaltyTransaction struct {
	ID            int64            `gorm:"primaryKey" json:"id"`
	LoyaltyCardID int64            `gorm:"column:loyality_card_id;not null;index:idx_loyality_transactions_card" json:"loyality_card_id"`
	Type          LoyaltyDirection `gorm:"size:16;not null" json:"type"`
	Amount        float64          `gorm:"not null" json:"amount"`
	Description   string           `gorm:"size:512" json:"description"`
	SegmentID     *uint            `gorm:"index" json:"segment_id"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (LoyaltyTransaction) TableName() string { return "loyality_transactions" }

// LoyaltyCardFilter represents filter criteria for loyalty card queries
type LoyaltyCardFilter struct {
	CashboxID     *int64
	ContragentIDs []int64
	IsDeleted     *bool
}
