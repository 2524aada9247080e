package models

import (
	"slices"

	"gorm.io/datatypes"
)

// CashboxUser links a messenger account to a tenant. Notifications are delivered to ChatID.
// Table: relation_tg_cashboxes
type CashboxUser struct {
	ID        int64                       `gorm:"primaryKey" json:"id"`
	CashboxID int64                       `gorm:"not null;index" json:"cashbox_id"`
	Name      string                      `gorm:"size:255" json:"name"`
	ChatID    string                      `gorm:"size:64" json:"chat_id"`
	Roles     datatypes.JSONSlice[string] `json:"roles"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	OnShift   bool                        `gorm:"not null;default:false" json:"on_shift"`
	IsActive  bool                        `gorm:"not null" json:"is_active"`
}

func (CashboxUser) TableName() string { return "relation_tg_cashboxes" }

func (u *CashboxUser) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if slices.Contains(u.Roles, r) {
			return true
		}
	}
	return false
}

func (u *CashboxUser) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(u.Tags, t) {
			return true
		}
	}
	return false
}
