// Package models defines the persisted entities of the segmentation service
package models

// All returns every model managed by the service, in migration order
func All() []any {
	return []any{
		&Category{},
		&Nomenclature{},
		&Contragent{},
		&SalesDocument{},
		&SalesDocumentGood{},
		&DeliveryInfo{},
		&DocumentTag{},
		&ContragentTag{},
		&LoyaltyCard{},
		&LoyaltyTransaction{},
		&CashboxUser{},
		&Segment{},
		&SegmentSnapshot{},
	}
}
