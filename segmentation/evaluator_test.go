package segmentation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/amirphl/segment-engine/models"
	testingutil "github.com/amirphl/segment-engine/testing"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evalFixture struct {
	env        *testEnv
	candidates []int64
	docs       map[string]int64
}

func day0(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// seedEvaluation creates three customers, five documents and the related rows
func seedEvaluation(t *testing.T) *evalFixture {
	t.Helper()
	env := newTestEnv(t)
	fx := env.fx

	c1, err := fx.CreateContragent(testCashbox, "Anna")
	require.NoError(t, err)
	c2, err := fx.CreateContragent(testCashbox, "Boris")
	require.NoError(t, err)
	c3, err := fx.CreateContragent(testCashbox, "Clara")
	require.NoError(t, err)

	d1, err := fx.CreateDocument(testCashbox, c1.ID, testingutil.WithStatus("new"), testingutil.WithSum(100, 100), testingutil.WithCreatedAt(day0(2024, 1, 10)))
	require.NoError(t, err)
	d2, err := fx.CreateDocument(testCashbox, c1.ID, testingutil.WithStatus("paid"), testingutil.WithSum(50, 20), testingutil.WithCreatedAt(day0(2024, 2, 10)))
	require.NoError(t, err)
	d3, err := fx.CreateDocument(testCashbox, c2.ID, testingutil.WithStatus("new"), testingutil.WithSum(500, 500), testingutil.WithCreatedAt(day0(2024, 1, 15)))
	require.NoError(t, err)
	d4, err := fx.CreateDocument(testCashbox, c3.ID, testingutil.WithStatus("cancelled"), testingutil.WithSum(10, 10), testingutil.WithCreatedAt(day0(2024, 2, 18)), testingutil.WithPicker(7, nil))
	require.NoError(t, err)
	d5, err := fx.CreateDocument(testCashbox, 0, testingutil.WithStatus("new"), testingutil.WithCreatedAt(day0(2024, 2, 19)))
	require.NoError(t, err)

	_, err = fx.CreateGood(testCashbox, d1.ID, "Latte", "Coffee", 2, 50)
	require.NoError(t, err)
	_, err = fx.CreateGood(testCashbox, d2.ID, "Croissant", "Bakery", 1, 50)
	require.NoError(t, err)

	require.NoError(t, fx.CreateDeliveryInfo(&models.DeliveryInfo{
		DocsSalesID:   d3.ID,
		Address:       "ul. Lenina 5",
		RecipientName: "Ivan",
		DeliveryDate:  utils.ToPtr(day0(2024, 1, 20)),
	}))
	require.NoError(t, fx.CreateDocumentTag(testCashbox, d1.ID, "Gift_wrap"))
	require.NoError(t, fx.CreateContragentTag(testCashbox, c2.ID, "VIP-gold"))

	now := utils.UTCNow()
	_, err = fx.CreateLoyaltyCard(testCashbox, c1.ID, 300, int64((10 * day).Seconds()), &now)
	require.NoError(t, err)
	_, err = fx.CreateLoyaltyCard(testCashbox, c2.ID, 10, 0, &now)
	require.NoError(t, err)

	// another tenant's document never leaks into cashbox 1
	_, err = fx.CreateDocument(2, 0, testingutil.WithStatus("new"))
	require.NoError(t, err)

	candidates, err := env.docs.ListActiveIDs(context.Background(), testCashbox)
	require.NoError(t, err)
	require.Len(t, candidates, 5)

	return &evalFixture{
		env:        env,
		candidates: candidates,
		docs:       map[string]int64{"d1": d1.ID, "d2": d2.ID, "d3": d3.ID, "d4": d4.ID, "d5": d5.ID},
	}
}

func (f *evalFixture) ids(names ...string) IDSet {
	out := make([]int64, 0, len(names))
	for _, n := range names {
		out = append(out, f.docs[n])
	}
	return NewIDSet(out)
}

func (f *evalFixture) run(t *testing.T, criteria string, batchSize int, now time.Time) []int64 {
	t.Helper()
	plan, err := Compile(json.RawMessage(criteria))
	require.NoError(t, err)
	got, err := f.env.evaluator(batchSize).Evaluate(context.Background(), testCashbox, plan, f.candidates, NewMemo(now))
	require.NoError(t, err)
	return got
}

func TestEvaluatorCriteria(t *testing.T) {
	f := seedEvaluation(t)
	lastPurchaseNow := day0(2024, 2, 20)

	cases := []struct {
		name     string
		criteria string
		now      time.Time
		want     []string
	}{
		{"no criteria", `{}`, time.Time{}, []string{"d1", "d2", "d3", "d4", "d5"}},
		{"order status", `{"orders": {"status": ["new"]}}`, time.Time{}, []string{"d1", "d3", "d5"}},
		{"picker assigned", `{"picker": {"assigned": true}}`, time.Time{}, []string{"d4"}},
		{"picker user", `{"picker": {"user_ids": [7]}}`, time.Time{}, []string{"d4"}},
		{"courier unassigned", `{"courier": {"assigned": false}}`, time.Time{}, []string{"d1", "d2", "d3", "d4", "d5"}},
		{"created in january", `{"created_at": {"gte": "2024-01-01", "lte": "2024-01-31"}}`, time.Time{}, []string{"d1", "d3"}},
		{"created on a day", `{"created_at": {"eq": "2024-02-10"}}`, time.Time{}, []string{"d2"}},
		{"amount per check", `{"purchases": {"amount_per_check": {"gte": 100}}}`, time.Time{}, []string{"d1", "d3"}},
		{"category substring", `{"purchases": {"categories": ["COFF"]}}`, time.Time{}, []string{"d1"}},
		{"nomenclature substring", `{"purchases": {"nomenclatures": ["croiss", "nothing"]}}`, time.Time{}, []string{"d2"}},
		{"count of goods", `{"purchases": {"count_of_goods": {"gte": 2}}}`, time.Time{}, []string{"d1"}},
		{"not fully paid", `{"purchases": {"is_fully_paid": false}}`, time.Time{}, []string{"d2"}},
		{"customer purchase count", `{"purchases": {"count": {"gte": 2}}}`, time.Time{}, []string{"d1", "d2"}},
		{"customer total amount", `{"purchases": {"total_amount": {"gte": 500}}}`, time.Time{}, []string{"d3"}},
		{"aggregates scoped by date range", `{"purchases": {"date_range": {"gte": "2024-02-01"}, "count": {"gte": 2}}}`, time.Time{}, []string{}},
		{"last purchase days ago", `{"purchases": {"last_purchase_days_ago": {"gte": 5, "lte": 15}}}`, lastPurchaseNow, []string{"d1", "d2"}},
		{"delivery required", `{"delivery_required": true}`, time.Time{}, []string{"d3"}},
		{"delivery not required", `{"delivery_required": false}`, time.Time{}, []string{"d1", "d2", "d4", "d5"}},
		{"recipient name", `{"delivery_info": {"recipient": {"name": "iv"}}}`, time.Time{}, []string{"d3"}},
		{"delivery address and date", `{"delivery_info": {"address": "LENINA", "delivery_date": {"eq": "2024-01-20"}}}`, time.Time{}, []string{"d3"}},
		{"document tag with literal underscore", `{"docs_sales_tags": ["gift_"]}`, time.Time{}, []string{"d1"}},
		{"document tag wildcard is literal", `{"docs_sales_tags": ["gift%"]}`, time.Time{}, []string{}},
		{"customer tag", `{"tags": ["vip"]}`, time.Time{}, []string{"d3"}},
		{"loyalty balance", `{"loyality": {"balance": {"gte": 100}}}`, time.Time{}, []string{"d1", "d2"}},
		{"loyalty expiry", `{"loyality": {"expires_in_days": {"lte": 30}}}`, time.Time{}, []string{"d1", "d2"}},
		{"groups intersect", `{"orders": {"status": ["new"]}, "tags": ["vip"]}`, time.Time{}, []string{"d3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.run(t, tc.criteria, 2, tc.now)
			assert.Equal(t, f.ids(tc.want...), NewIDSet(got))
		})
	}
}

func TestEvaluatorChunkingDoesNotChangeResult(t *testing.T) {
	f := seedEvaluation(t)
	criteria := []string{
		`{}`,
		`{"orders": {"status": ["new", "paid"]}}`,
		`{"purchases": {"count": {"gte": 2}}}`,
		`{"delivery_required": false, "purchases": {"amount_per_check": {"lte": 100}}}`,
		`{"loyality": {"balance": {"gte": 1}}}`,
		`{"orders": {"status": ["new"]}, "tags": ["vip"], "loyality": {"balance": {"lte": 50}}}`,
	}
	for _, c := range criteria {
		whole := f.run(t, c, 1000, time.Time{})
		for _, size := range []int{1, 2, 3, 4} {
			assert.Equal(t, whole, f.run(t, c, size, time.Time{}), "criteria %s batch %d", c, size)
		}
	}
}

func TestEvaluatorTenantScope(t *testing.T) {
	f := seedEvaluation(t)
	foreign, err := f.env.fx.CreateDocument(2, 0, testingutil.WithStatus("new"))
	require.NoError(t, err)

	plan, err := Compile(json.RawMessage(`{"orders": {"status": ["new"]}}`))
	require.NoError(t, err)
	got, err := f.env.evaluator(10).Evaluate(context.Background(), testCashbox, plan, append(f.candidates, foreign.ID), nil)
	require.NoError(t, err)
	assert.NotContains(t, got, foreign.ID)
}

func TestEvaluatorShortCircuitAndFailure(t *testing.T) {
	f := seedEvaluation(t)
	require.NoError(t, f.env.db.DB.Migrator().DropTable(&models.ContragentTag{}))

	t.Run("empty survivors skip later groups", func(t *testing.T) {
		got := f.run(t, `{"orders": {"status": ["missing"]}, "tags": ["vip"]}`, 2, time.Time{})
		assert.Empty(t, got)
	})

	t.Run("empty candidates", func(t *testing.T) {
		plan, err := Compile(json.RawMessage(`{"tags": ["vip"]}`))
		require.NoError(t, err)
		got, err := f.env.evaluator(2).Evaluate(context.Background(), testCashbox, plan, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("query failure aborts evaluation", func(t *testing.T) {
		plan, err := Compile(json.RawMessage(`{"orders": {"status": ["new"]}, "tags": ["vip"]}`))
		require.NoError(t, err)
		_, err = f.env.evaluator(2).Evaluate(context.Background(), testCashbox, plan, f.candidates, nil)
		require.Error(t, err)
		assert.True(t, IsEvaluationError(err))
		var ee *EvaluationError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, PriorityContragentTags, ee.Priority)
		assert.Equal(t, 0, ee.Batch)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		plan, err := Compile(json.RawMessage(`{"orders": {"status": ["new"]}}`))
		require.NoError(t, err)
		_, err = f.env.evaluator(2).Evaluate(ctx, testCashbox, plan, f.candidates, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
