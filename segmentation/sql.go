package segmentation

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var errSeparateEvaluation = errors.New("criterion is not evaluated in SQL")

const likeEscape = `\`

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeAny renders a case-insensitive "contains any of" predicate on column
func likeAny(column string, values []string) (string, []any) {
	parts := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, v := range values {
		parts = append(parts, "LOWER("+column+") LIKE ? ESCAPE '"+likeEscape+"'")
		args = append(args, "%"+likeReplacer.Replace(strings.ToLower(v))+"%")
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// applyJoin attaches the group's join to a docs_sales query
func applyJoin(q *gorm.DB, join JoinKind) *gorm.DB {
	switch join {
	case JoinOuterDeliveryInfo:
		return q.Joins("LEFT JOIN docs_sales_delivery_info ON docs_sales_delivery_info.docs_sales_id = docs_sales.id")
	case JoinInnerDocumentTags:
		return q.Joins("JOIN docs_sales_tags ON docs_sales_tags.docs_sales_id = docs_sales.id")
	case JoinInnerContragentTags:
		return q.Joins("JOIN contragents_tags ON contragents_tags.contragent_id = docs_sales.contragent_id")
	}
	return q
}

// sqlVisitor narrows a docs_sales query with one criterion at a time
type sqlVisitor struct {
	q         *gorm.DB
	cashboxID int64
	now       time.Time
}

func (v *sqlVisitor) where(cond string, args ...any) {
	v.q = v.q.Where(cond, args...)
}

func (v *sqlVisitor) visitOrders(c *OrdersCriterion) error {
	if len(c.Statuses) > 0 {
		v.where("docs_sales.order_status IN ?", c.Statuses)
	}
	if c.UpdatedAt != nil {
		v.q = c.UpdatedAt.Apply(v.q, "docs_sales.updated_at")
	}
	return nil
}

func (v *sqlVisitor) visitStaff(c *StaffCriterion) error {
	assigned, start, finish := "docs_sales.assigned_picker", "docs_sales.picker_started_at", "docs_sales.picker_finished_at"
	if c.Role == StaffCourier {
		assigned, start, finish = "docs_sales.assigned_courier", "docs_sales.courier_picked_at", "docs_sales.courier_delivered_at"
	}
	if c.Assigned != nil {
		v.q = NullCheck(v.q, assigned, *c.Assigned)
	}
	if len(c.UserIDs) > 0 {
		v.where(assigned+" IN ?", c.UserIDs)
	}
	if c.Start != nil {
		v.q = c.Start.Apply(v.q, start)
	}
	if c.Finish != nil {
		v.q = c.Finish.Apply(v.q, finish)
	}
	return nil
}

func (v *sqlVisitor) visitCreatedAt(c *CreatedAtCriterion) error {
	v.q = c.Range.Apply(v.q, "docs_sales.created_at")
	return nil
}

func (v *sqlVisitor) visitPurchases(c *PurchasesCriterion) error {
	if c.DateRange != nil {
		v.q = c.DateRange.Apply(v.q, "docs_sales.created_at")
	}
	if c.AmountPerCheck != nil {
		v.q = c.AmountPerCheck.Apply(v.q, "docs_sales.sum")
	}
	if len(c.Categories) > 0 {
		cond, args := likeAny("categories.name", c.Categories)
		v.where("EXISTS (SELECT 1 FROM docs_sales_goods"+
			" JOIN nomenclature ON nomenclature.id = docs_sales_goods.nomenclature_id"+
			" JOIN categories ON categories.id = nomenclature.category_id"+
			" WHERE docs_sales_goods.docs_sales_id = docs_sales.id AND "+cond+")", args...)
	}
	if len(c.Nomenclatures) > 0 {
		cond, args := likeAny("nomenclature.name", c.Nomenclatures)
		v.where("EXISTS (SELECT 1 FROM docs_sales_goods"+
			" JOIN nomenclature ON nomenclature.id = docs_sales_goods.nomenclature_id"+
			" WHERE docs_sales_goods.docs_sales_id = docs_sales.id AND "+cond+")", args...)
	}
	if c.CountOfGoods != nil {
		cond, args := c.CountOfGoods.Condition("(SELECT COALESCE(SUM(docs_sales_goods.quantity), 0) FROM docs_sales_goods" +
			" WHERE docs_sales_goods.docs_sales_id = docs_sales.id)")
		v.where(cond, args...)
	}
	if c.IsFullyPaid != nil {
		if *c.IsFullyPaid {
			v.where("docs_sales.paid_rubles >= docs_sales.sum")
		} else {
			v.where("docs_sales.paid_rubles < docs_sales.sum")
		}
	}
	if c.hasAggregate() {
		v.where("docs_sales.contragent_id IN (?)", v.customerAggregate(c))
	}
	return nil
}

// customerAggregate selects the contragents whose documents satisfy the aggregate ranges
func (v *sqlVisitor) customerAggregate(c *PurchasesCriterion) *gorm.DB {
	sub := v.q.Session(&gorm.Session{NewDB: true}).
		Table("docs_sales AS agg").
		Select("agg.contragent_id").
		Where("agg.cashbox_id = ? AND agg.is_deleted = ? AND agg.contragent_id IS NOT NULL", v.cashboxID, false)
	if c.DateRange != nil {
		sub = c.DateRange.Apply(sub, "agg.created_at")
	}

	var having []string
	var args []any
	add := func(cond string, a []any) {
		having = append(having, cond)
		args = append(args, a...)
	}
	if c.Count != nil {
		add(c.Count.Condition("COUNT(*)"))
	}
	if c.TotalAmount != nil {
		add(c.TotalAmount.Condition("SUM(agg.sum)"))
	}
	if c.LastPurchaseDaysAgo != nil {
		after, notAfter := c.LastPurchaseDaysAgo.DayBounds(v.now)
		if after != nil {
			add("MAX(agg.created_at) > ?", []any{after.UTC()})
		}
		if notAfter != nil {
			add("MAX(agg.created_at) <= ?", []any{notAfter.UTC()})
		}
	}
	return sub.Group("agg.contragent_id").Having(strings.Join(having, " AND "), args...)
}

func (v *sqlVisitor) visitDeliveryRequired(c *DeliveryRequiredCriterion) error {
	v.q = NullCheck(v.q, "docs_sales_delivery_info.id", c.Required)
	return nil
}

func (v *sqlVisitor) visitDeliveryInfo(c *DeliveryInfoCriterion) error {
	if c.DeliveryDate != nil {
		v.q = c.DeliveryDate.Apply(v.q, "docs_sales_delivery_info.delivery_date")
	}
	if c.Address != "" {
		cond, args := likeAny("docs_sales_delivery_info.address", []string{c.Address})
		v.where(cond, args...)
	}
	if c.Note != "" {
		cond, args := likeAny("docs_sales_delivery_info.note", []string{c.Note})
		v.where(cond, args...)
	}
	for _, m := range c.Recipient {
		column, ok := m.Field.column()
		if !ok {
			return ErrUnknownRecipientField
		}
		cond, args := likeAny(column, []string{m.Value})
		v.where(cond, args...)
	}
	return nil
}

func (v *sqlVisitor) visitDocumentTags(c *DocumentTagsCriterion) error {
	cond, args := likeAny("docs_sales_tags.name", c.Names)
	v.where(cond, args...)
	return nil
}

func (v *sqlVisitor) visitContragentTags(c *ContragentTagsCriterion) error {
	cond, args := likeAny("contragents_tags.name", c.Names)
	v.where(cond, args...)
	return nil
}

func (v *sqlVisitor) visitLoyalty(*LoyaltyCriterion) error {
	return errSeparateEvaluation
}
