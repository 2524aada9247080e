package segmentation

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const richCriteria = `{
	"tags": ["VIP"],
	"loyality": {"balance": {"gte": 100}},
	"purchases": {"count": {"gte": 3}, "categories": ["Coffee", " ", "Coffee"], "unknown_sub": 1},
	"delivery_info": {"address": " Lenina ", "recipient": {"phone": "+7999", "name": "Ivan"}},
	"orders": {"status": ["new", "paid"]},
	"created_at": {"gte": "2024-01-01", "lte": "2024-01-31"},
	"picker": {"assigned": true},
	"docs_sales_tags": [],
	"mystery": {"x": 1}
}`

func TestCompileGoldenPlan(t *testing.T) {
	plan, err := Compile(json.RawMessage(richCriteria))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "compiled_plan", []byte(plan.String()))
}

func TestCompileGroupOrder(t *testing.T) {
	plan, err := Compile(json.RawMessage(richCriteria))
	require.NoError(t, err)

	var priorities []Priority
	for _, g := range plan.Groups {
		priorities = append(priorities, g.Priority)
	}
	assert.Equal(t, []Priority{PrioritySelf, PriorityPurchases, PriorityDelivery, PriorityContragentTags, PriorityLoyalty}, priorities)
	assert.Equal(t, []string{"mystery"}, plan.Skipped)

	self := plan.Groups[0]
	require.Len(t, self.Criteria, 3)
	assert.Equal(t, CategoryOrders, self.Criteria[0].Category())
	assert.Equal(t, CategoryPicker, self.Criteria[1].Category())
	assert.Equal(t, CategoryCreatedAt, self.Criteria[2].Category())
	assert.Equal(t, JoinOuterDeliveryInfo, plan.Groups[2].Join)
	assert.Equal(t, JoinSeparate, plan.Groups[4].Join)
}

func TestCompileIgnoresKeyOrder(t *testing.T) {
	a := `{"courier": {"assigned": false}, "tags": ["a"], "orders": {"status": ["x"]}, "picker": {"user_ids": [3, 1]}}`
	b := `{"picker": {"user_ids": [1, 3]}, "orders": {"status": ["x"]}, "tags": ["a"], "courier": {"assigned": false}}`

	planA, err := Compile(json.RawMessage(a))
	require.NoError(t, err)
	planB, err := Compile(json.RawMessage(b))
	require.NoError(t, err)
	assert.Equal(t, planA.String(), planB.String())
	assert.Contains(t, planA.String(), "picker user_ids=[1,3]")
}

func TestCompileEmptyInputs(t *testing.T) {
	for _, input := range []string{``, `null`, `{}`, `{"orders": null, "tags": [], "purchases": {}}`} {
		plan, err := Compile(json.RawMessage(input))
		require.NoError(t, err, input)
		assert.True(t, plan.IsEmpty(), input)
		assert.Empty(t, plan.Skipped, input)
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		category Category
		sentinel error
	}{
		{"malformed range", `{"purchases": {"count": {"gte": 5, "lte": 1}}}`, CategoryPurchases, ErrMalformedRange},
		{"wrong type", `{"orders": {"status": "new"}}`, CategoryOrders, ErrMalformedCriteria},
		{"unknown recipient field", `{"delivery_info": {"recipient": {"patronymic": "x"}}}`, CategoryDeliveryInfo, ErrUnknownRecipientField},
		{"tag list of numbers", `{"tags": [1, 2]}`, CategoryContragentTags, ErrMalformedCriteria},
		{"delivery flag as string", `{"delivery_required": "yes"}`, CategoryDeliveryRequired, ErrMalformedCriteria},
		{"empty created_at", `{"created_at": {}}`, CategoryCreatedAt, ErrMalformedRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(json.RawMessage(tc.input))
			require.Error(t, err)
			assert.True(t, IsCompilationError(err))
			var ce *CompilationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.category, ce.Category)
			assert.ErrorIs(t, err, tc.sentinel)
		})
	}

	t.Run("criteria must be an object", func(t *testing.T) {
		_, err := Compile(json.RawMessage(`[1]`))
		assert.ErrorIs(t, err, ErrMalformedCriteria)
	})
}
