package segmentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Priority orders filter groups; lower runs first
type Priority int

const (
	PrioritySelf Priority = iota + 1
	PriorityPurchases
	PriorityDelivery
	PriorityDocumentTags
	PriorityContragentTags
	PriorityLoyalty
)

func (p Priority) String() string {
	switch p {
	case PrioritySelf:
		return "self"
	case PriorityPurchases:
		return "purchases"
	case PriorityDelivery:
		return "delivery"
	case PriorityDocumentTags:
		return "document_tags"
	case PriorityContragentTags:
		return "contragent_tags"
	case PriorityLoyalty:
		return "loyalty"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// JoinKind is the table a filter group joins onto docs_sales
type JoinKind int

const (
	JoinNone JoinKind = iota
	JoinOuterDeliveryInfo
	JoinInnerDocumentTags
	JoinInnerContragentTags
	JoinSeparate
)

func (j JoinKind) String() string {
	switch j {
	case JoinOuterDeliveryInfo:
		return "left docs_sales_delivery_info"
	case JoinInnerDocumentTags:
		return "inner docs_sales_tags"
	case JoinInnerContragentTags:
		return "inner contragents_tags"
	case JoinSeparate:
		return "separate"
	}
	return "none"
}

// builder decodes one category value; a nil criterion means the value constrains nothing
type builder func(raw json.RawMessage) (Criterion, error)

type descriptor struct {
	category Category
	priority Priority
	join     JoinKind
	build    builder
}

// descriptors is in canonical order; index is the tie-breaker inside a group
var descriptors = []descriptor{
	{CategoryOrders, PrioritySelf, JoinNone, buildOrders},
	{CategoryPicker, PrioritySelf, JoinNone, buildStaff(StaffPicker)},
	{CategoryCourier, PrioritySelf, JoinNone, buildStaff(StaffCourier)},
	{CategoryCreatedAt, PrioritySelf, JoinNone, buildCreatedAt},
	{CategoryPurchases, PriorityPurchases, JoinNone, buildPurchases},
	{CategoryDeliveryRequired, PriorityDelivery, JoinOuterDeliveryInfo, buildDeliveryRequired},
	{CategoryDeliveryInfo, PriorityDelivery, JoinOuterDeliveryInfo, buildDeliveryInfo},
	{CategoryDocumentTags, PriorityDocumentTags, JoinInnerDocumentTags, buildDocumentTags},
	{CategoryContragentTags, PriorityContragentTags, JoinInnerContragentTags, buildContragentTags},
	{CategoryLoyalty, PriorityLoyalty, JoinSeparate, buildLoyalty},
}

// FilterGroup is a set of criteria evaluated by one query per batch
type FilterGroup struct {
	Priority Priority
	Join     JoinKind
	Criteria []Criterion
}

// Plan is the compiled form of a segment's criteria
type Plan struct {
	Groups  []FilterGroup
	Skipped []string
}

// IsEmpty reports whether the plan selects every candidate
func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Groups) == 0
}

func (p *Plan) String() string {
	if p.IsEmpty() && len(p.Skipped) == 0 {
		return "plan: all documents\n"
	}
	var b strings.Builder
	for _, g := range p.Groups {
		fmt.Fprintf(&b, "group %d %s join=%s\n", g.Priority, g.Priority, g.Join)
		for _, c := range g.Criteria {
			fmt.Fprintf(&b, "  %s %s\n", c.Category(), c.describe())
		}
	}
	if len(p.Skipped) > 0 {
		fmt.Fprintf(&b, "skipped %s\n", strings.Join(p.Skipped, ","))
	}
	return b.String()
}

// Compile turns a criteria document into an ordered plan.
// Null or empty categories are dropped; unknown keys are recorded in Plan.Skipped.
func Compile(raw json.RawMessage) (*Plan, error) {
	plan := &Plan{}
	if isNull(raw) {
		return plan, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCriteria, err)
	}

	known := make(map[Category]bool, len(descriptors))
	type entry struct {
		order int
		desc  descriptor
		crit  Criterion
	}
	var entries []entry
	for i, d := range descriptors {
		known[d.category] = true
		value, ok := fields[string(d.category)]
		if !ok || isNull(value) {
			continue
		}
		crit, err := d.build(value)
		if err != nil {
			return nil, &CompilationError{Category: d.category, Err: err}
		}
		if crit == nil {
			continue
		}
		entries = append(entries, entry{order: i, desc: d, crit: crit})
	}
	for key := range fields {
		if !known[Category(key)] {
			plan.Skipped = append(plan.Skipped, key)
		}
	}
	sort.Strings(plan.Skipped)

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].desc.priority != entries[j].desc.priority {
			return entries[i].desc.priority < entries[j].desc.priority
		}
		return entries[i].order < entries[j].order
	})
	for _, e := range entries {
		n := len(plan.Groups)
		if n == 0 || plan.Groups[n-1].Priority != e.desc.priority {
			plan.Groups = append(plan.Groups, FilterGroup{Priority: e.desc.priority, Join: e.desc.join})
			n++
		}
		plan.Groups[n-1].Criteria = append(plan.Groups[n-1].Criteria, e.crit)
	}
	return plan, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q expects %s", ErrMalformedCriteria, typeErr.Field, typeErr.Type)
		}
		return err
	}
	return nil
}

func buildOrders(raw json.RawMessage) (Criterion, error) {
	var c OrdersCriterion
	if err := decodeStrict(raw, &c); err != nil {
		return nil, err
	}
	c.Statuses = normalizeNames(c.Statuses)
	if len(c.Statuses) == 0 && c.UpdatedAt == nil {
		return nil, nil
	}
	return &c, nil
}

func buildStaff(role StaffRole) builder {
	return func(raw json.RawMessage) (Criterion, error) {
		c := StaffCriterion{Role: role}
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		if c.Assigned == nil && len(c.UserIDs) == 0 && c.Start == nil && c.Finish == nil {
			return nil, nil
		}
		sort.Slice(c.UserIDs, func(i, j int) bool { return c.UserIDs[i] < c.UserIDs[j] })
		return &c, nil
	}
}

func buildCreatedAt(raw json.RawMessage) (Criterion, error) {
	c := CreatedAtCriterion{}
	if err := json.Unmarshal(raw, &c.Range); err != nil {
		return nil, err
	}
	return &c, nil
}

func buildPurchases(raw json.RawMessage) (Criterion, error) {
	var c PurchasesCriterion
	if err := decodeStrict(raw, &c); err != nil {
		return nil, err
	}
	c.Categories = normalizeNames(c.Categories)
	c.Nomenclatures = normalizeNames(c.Nomenclatures)
	if c.describe() == "" {
		return nil, nil
	}
	return &c, nil
}

func buildDeliveryRequired(raw json.RawMessage) (Criterion, error) {
	var required bool
	if err := decodeStrict(raw, &required); err != nil {
		return nil, err
	}
	return &DeliveryRequiredCriterion{Required: required}, nil
}

func buildDeliveryInfo(raw json.RawMessage) (Criterion, error) {
	var c DeliveryInfoCriterion
	if err := decodeStrict(raw, &c); err != nil {
		return nil, err
	}
	if c.describe() == "" {
		return nil, nil
	}
	return &c, nil
}

func decodeNames(raw json.RawMessage) ([]string, error) {
	var names []string
	if err := decodeStrict(raw, &names); err != nil {
		return nil, err
	}
	return normalizeNames(names), nil
}

func buildDocumentTags(raw json.RawMessage) (Criterion, error) {
	names, err := decodeNames(raw)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	return &DocumentTagsCriterion{Names: names}, nil
}

func buildContragentTags(raw json.RawMessage) (Criterion, error) {
	names, err := decodeNames(raw)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	return &ContragentTagsCriterion{Names: names}, nil
}

func buildLoyalty(raw json.RawMessage) (Criterion, error) {
	var c LoyaltyCriterion
	if err := decodeStrict(raw, &c); err != nil {
		return nil, err
	}
	if c.Balance == nil && c.ExpiresInDays == nil {
		return nil, nil
	}
	return &c, nil
}
