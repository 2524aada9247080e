package segmentation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Category is the JSON key of a criteria category
type Category string

const (
	CategoryOrders           Category = "orders"
	CategoryPicker           Category = "picker"
	CategoryCourier          Category = "courier"
	CategoryCreatedAt        Category = "created_at"
	CategoryPurchases        Category = "purchases"
	CategoryDeliveryRequired Category = "delivery_required"
	CategoryDeliveryInfo     Category = "delivery_info"
	CategoryDocumentTags     Category = "docs_sales_tags"
	CategoryContragentTags   Category = "tags"
	CategoryLoyalty          Category = "loyality"
)

// Criterion is one compiled predicate. Implementations are the closed set of variants below.
type Criterion interface {
	Category() Category
	accept(v visitor) error
	describe() string
}

type visitor interface {
	visitOrders(c *OrdersCriterion) error
	visitStaff(c *StaffCriterion) error
	visitCreatedAt(c *CreatedAtCriterion) error
	visitPurchases(c *PurchasesCriterion) error
	visitDeliveryRequired(c *DeliveryRequiredCriterion) error
	visitDeliveryInfo(c *DeliveryInfoCriterion) error
	visitDocumentTags(c *DocumentTagsCriterion) error
	visitContragentTags(c *ContragentTagsCriterion) error
	visitLoyalty(c *LoyaltyCriterion) error
}

// OrdersCriterion filters documents by their own status and update time
type OrdersCriterion struct {
	Statuses  []string   `json:"status"`
	UpdatedAt *DateRange `json:"updated_at"`
}

func (c *OrdersCriterion) Category() Category     { return CategoryOrders }
func (c *OrdersCriterion) accept(v visitor) error { return v.visitOrders(c) }
func (c *OrdersCriterion) describe() string {
	var parts []string
	if len(c.Statuses) > 0 {
		parts = append(parts, "status="+listString(c.Statuses))
	}
	if c.UpdatedAt != nil {
		parts = append(parts, "updated_at="+c.UpdatedAt.String())
	}
	return strings.Join(parts, " ")
}

// StaffRole selects which assignment columns a StaffCriterion reads
type StaffRole string

const (
	StaffPicker  StaffRole = "picker"
	StaffCourier StaffRole = "courier"
)

// StaffCriterion filters documents by picker or courier assignment and timing
type StaffCriterion struct {
	Role     StaffRole  `json:"-"`
	Assigned *bool      `json:"assigned"`
	UserIDs  []int64    `json:"user_ids"`
	Start    *DateRange `json:"start"`
	Finish   *DateRange `json:"finish"`
}

func (c *StaffCriterion) Category() Category {
	if c.Role == StaffCourier {
		return CategoryCourier
	}
	return CategoryPicker
}
func (c *StaffCriterion) accept(v visitor) error { return v.visitStaff(c) }
func (c *StaffCriterion) describe() string {
	var parts []string
	if c.Assigned != nil {
		parts = append(parts, fmt.Sprintf("assigned=%t", *c.Assigned))
	}
	if len(c.UserIDs) > 0 {
		parts = append(parts, "user_ids="+idsString(c.UserIDs))
	}
	if c.Start != nil {
		parts = append(parts, "start="+c.Start.String())
	}
	if c.Finish != nil {
		parts = append(parts, "finish="+c.Finish.String())
	}
	return strings.Join(parts, " ")
}

type CreatedAtCriterion struct {
	Range DateRange
}

func (c *CreatedAtCriterion) Category() Category     { return CategoryCreatedAt }
func (c *CreatedAtCriterion) accept(v visitor) error { return v.visitCreatedAt(c) }
func (c *CreatedAtCriterion) describe() string       { return c.Range.String() }

// PurchasesCriterion holds per-document and per-contragent purchase predicates.
// Count, TotalAmount and LastPurchaseDaysAgo aggregate over all of the contragent's documents.
type PurchasesCriterion struct {
	DateRange           *DateRange   `json:"date_range"`
	AmountPerCheck      *NumberRange `json:"amount_per_check"`
	Categories          []string     `json:"categories"`
	Nomenclatures       []string     `json:"nomenclatures"`
	CountOfGoods        *NumberRange `json:"count_of_goods"`
	IsFullyPaid         *bool        `json:"is_fully_paid"`
	Count               *NumberRange `json:"count"`
	TotalAmount         *NumberRange `json:"total_amount"`
	LastPurchaseDaysAgo *NumberRange `json:"last_purchase_days_ago"`
}

func (c *PurchasesCriterion) Category() Category     { return CategoryPurchases }
func (c *PurchasesCriterion) accept(v visitor) error { return v.visitPurchases(c) }

func (c *PurchasesCriterion) hasAggregate() bool {
	return c.Count != nil || c.TotalAmount != nil || c.LastPurchaseDaysAgo != nil
}

func (c *PurchasesCriterion) describe() string {
	var parts []string
	if c.DateRange != nil {
		parts = append(parts, "date_range="+c.DateRange.String())
	}
	if c.AmountPerCheck != nil {
		parts = append(parts, "amount_per_check="+c.AmountPerCheck.String())
	}
	if len(c.Categories) > 0 {
		parts = append(parts, "categories="+listString(c.Categories))
	}
	if len(c.Nomenclatures) > 0 {
		parts = append(parts, "nomenclatures="+listString(c.Nomenclatures))
	}
	if c.CountOfGoods != nil {
		parts = append(parts, "count_of_goods="+c.CountOfGoods.String())
	}
	if c.IsFullyPaid != nil {
		parts = append(parts, fmt.Sprintf("is_fully_paid=%t", *c.IsFullyPaid))
	}
	if c.Count != nil {
		parts = append(parts, "count="+c.Count.String())
	}
	if c.TotalAmount != nil {
		parts = append(parts, "total_amount="+c.TotalAmount.String())
	}
	if c.LastPurchaseDaysAgo != nil {
		parts = append(parts, "last_purchase_days_ago="+c.LastPurchaseDaysAgo.String())
	}
	return strings.Join(parts, " ")
}

type DeliveryRequiredCriterion struct {
	Required bool
}

func (c *DeliveryRequiredCriterion) Category() Category     { return CategoryDeliveryRequired }
func (c *DeliveryRequiredCriterion) accept(v visitor) error { return v.visitDeliveryRequired(c) }
func (c *DeliveryRequiredCriterion) describe() string       { return fmt.Sprintf("%t", c.Required) }

// RecipientField is the closed set of recipient attributes a delivery criterion may match
type RecipientField string

const (
	RecipientName    RecipientField = "name"
	RecipientSurname RecipientField = "surname"
	RecipientPhone   RecipientField = "phone"
)

var recipientColumns = map[RecipientField]string{
	RecipientName:    "docs_sales_delivery_info.recipient_name",
	RecipientSurname: "docs_sales_delivery_info.recipient_surname",
	RecipientPhone:   "docs_sales_delivery_info.recipient_phone",
}

func (f RecipientField) column() (string, bool) {
	col, ok := recipientColumns[f]
	return col, ok
}

type RecipientMatch struct {
	Field RecipientField
	Value string
}

type DeliveryInfoCriterion struct {
	DeliveryDate *DateRange
	Address      string
	Note         string
	Recipient    []RecipientMatch // sorted by field
}

func (c *DeliveryInfoCriterion) Category() Category     { return CategoryDeliveryInfo }
func (c *DeliveryInfoCriterion) accept(v visitor) error { return v.visitDeliveryInfo(c) }
func (c *DeliveryInfoCriterion) describe() string {
	var parts []string
	if c.DeliveryDate != nil {
		parts = append(parts, "delivery_date="+c.DeliveryDate.String())
	}
	if c.Address != "" {
		parts = append(parts, fmt.Sprintf("address=%q", c.Address))
	}
	if c.Note != "" {
		parts = append(parts, fmt.Sprintf("note=%q", c.Note))
	}
	for _, m := range c.Recipient {
		parts = append(parts, fmt.Sprintf("recipient.%s=%q", m.Field, m.Value))
	}
	return strings.Join(parts, " ")
}

func (c *DeliveryInfoCriterion) UnmarshalJSON(b []byte) error {
	var raw struct {
		DeliveryDate *DateRange        `json:"delivery_date"`
		Address      string            `json:"address"`
		Note         string            `json:"note"`
		Recipient    map[string]string `json:"recipient"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.DeliveryDate = raw.DeliveryDate
	c.Address = strings.TrimSpace(raw.Address)
	c.Note = strings.TrimSpace(raw.Note)
	c.Recipient = nil
	for field, value := range raw.Recipient {
		f := RecipientField(field)
		if _, ok := f.column(); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRecipientField, field)
		}
		if value = strings.TrimSpace(value); value != "" {
			c.Recipient = append(c.Recipient, RecipientMatch{Field: f, Value: value})
		}
	}
	sort.Slice(c.Recipient, func(i, j int) bool { return c.Recipient[i].Field < c.Recipient[j].Field })
	return nil
}

type DocumentTagsCriterion struct {
	Names []string
}

func (c *DocumentTagsCriterion) Category() Category     { return CategoryDocumentTags }
func (c *DocumentTagsCriterion) accept(v visitor) error { return v.visitDocumentTags(c) }
func (c *DocumentTagsCriterion) describe() string       { return listString(c.Names) }

type ContragentTagsCriterion struct {
	Names []string
}

func (c *ContragentTagsCriterion) Category() Category     { return CategoryContragentTags }
func (c *ContragentTagsCriterion) accept(v visitor) error { return v.visitContragentTags(c) }
func (c *ContragentTagsCriterion) describe() string       { return listString(c.Names) }

// LoyaltyCriterion matches contragents having at least one card satisfying every set range
type LoyaltyCriterion struct {
	Balance       *NumberRange `json:"balance"`
	ExpiresInDays *NumberRange `json:"expires_in_days"`
}

func (c *LoyaltyCriterion) Category() Category     { return CategoryLoyalty }
func (c *LoyaltyCriterion) accept(v visitor) error { return v.visitLoyalty(c) }
func (c *LoyaltyCriterion) describe() string {
	var parts []string
	if c.Balance != nil {
		parts = append(parts, "balance="+c.Balance.String())
	}
	if c.ExpiresInDays != nil {
		parts = append(parts, "expires_in_days="+c.ExpiresInDays.String())
	}
	return strings.Join(parts, " ")
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// normalizeNames trims, drops empties and deduplicates while keeping first-seen order
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func listString(values []string) string {
	return "[" + strings.Join(values, ",") + "]"
}

func idsString(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
