package segmentation

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/gorm"
)

// Evaluator runs a compiled plan over candidate document ids in fixed-size batches
type Evaluator struct {
	db        *gorm.DB
	docs      repository.SalesDocumentRepository
	loyalty   repository.LoyaltyRepository
	batchSize int
}

func NewEvaluator(db *gorm.DB, docs repository.SalesDocumentRepository, loyalty repository.LoyaltyRepository, batchSize int) *Evaluator {
	if batchSize <= 0 {
		batchSize = utils.DefaultSegmentBatchSize
	}
	return &Evaluator{db: db, docs: docs, loyalty: loyalty, batchSize: batchSize}
}

// Evaluate returns the sorted candidates that satisfy every group of the plan.
// Groups run in priority order; each group only sees the previous group's survivors.
func (e *Evaluator) Evaluate(ctx context.Context, cashboxID int64, plan *Plan, candidates []int64, memo *Memo) ([]int64, error) {
	current := slices.Clone(candidates)
	slices.Sort(current)
	current = slices.Compact(current)
	if memo == nil {
		memo = NewMemo(utils.UTCNow())
	}
	if plan == nil {
		return current, nil
	}

	for _, group := range plan.Groups {
		if len(current) == 0 {
			return []int64{}, nil
		}
		var survivors []int64
		for i, batch := range utils.Chunk(current, e.batchSize) {
			if err := ctx.Err(); err != nil {
				return nil, &EvaluationError{Priority: group.Priority, Batch: i, Err: err}
			}
			var ids []int64
			var err error
			if group.Join == JoinSeparate {
				ids, err = e.evaluateLoyalty(ctx, cashboxID, group, batch, memo)
			} else {
				ids, err = e.evaluateSQL(ctx, cashboxID, group, batch, memo)
			}
			if err != nil {
				return nil, &EvaluationError{Priority: group.Priority, Batch: i, Err: err}
			}
			evaluatorBatchesTotal.WithLabelValues(group.Priority.String()).Inc()
			survivors = append(survivors, ids...)
		}
		slices.Sort(survivors)
		current = slices.Compact(survivors)
	}
	if current == nil {
		current = []int64{}
	}
	return current, nil
}

func (e *Evaluator) evaluateSQL(ctx context.Context, cashboxID int64, group FilterGroup, batch []int64, memo *Memo) ([]int64, error) {
	q := e.db.WithContext(ctx).
		Table("docs_sales").
		Where("docs_sales.cashbox_id = ? AND docs_sales.id IN ?", cashboxID, batch)
	q = applyJoin(q, group.Join)

	v := &sqlVisitor{q: q, cashboxID: cashboxID, now: memo.Now}
	for _, c := range group.Criteria {
		if err := c.accept(v); err != nil {
			return nil, err
		}
	}
	var ids []int64
	if err := v.q.Distinct().Pluck("docs_sales.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Evaluator) evaluateLoyalty(ctx context.Context, cashboxID int64, group FilterGroup, batch []int64, memo *Memo) ([]int64, error) {
	owners, err := memo.Contragents(ctx, e.docs, batch)
	if err != nil {
		return nil, err
	}
	contragents := make([]int64, 0, len(owners))
	for _, cid := range owners {
		if cid != nil {
			contragents = append(contragents, *cid)
		}
	}
	slices.Sort(contragents)
	contragents = slices.Compact(contragents)

	cards, err := memo.Cards(ctx, e.loyalty, cashboxID, contragents)
	if err != nil {
		return nil, err
	}

	matched := make(map[int64]bool, len(contragents))
	for _, cid := range contragents {
		matched[cid] = contragentMatches(cards[cid], group.Criteria, memo.Now)
	}
	var out []int64
	for _, id := range batch {
		if cid := owners[id]; cid != nil && matched[*cid] {
			out = append(out, id)
		}
	}
	return out, nil
}

// contragentMatches reports whether any card satisfies every loyalty criterion
func contragentMatches(cards []*models.LoyaltyCard, criteria []Criterion, now time.Time) bool {
	for _, card := range cards {
		ok := true
		for _, c := range criteria {
			lc, isLoyalty := c.(*LoyaltyCriterion)
			if !isLoyalty || !cardMatches(card, lc, now) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func cardMatches(card *models.LoyaltyCard, c *LoyaltyCriterion, now time.Time) bool {
	if card.IsDeleted {
		return false
	}
	if c.Balance != nil && !c.Balance.Contains(card.Balance) {
		return false
	}
	if c.ExpiresInDays != nil {
		expires := card.ExpiresAt()
		if expires == nil {
			return false
		}
		days := math.Floor(float64(expires.Sub(now)) / float64(day))
		if !c.ExpiresInDays.Contains(days) {
			return false
		}
	}
	return true
}
