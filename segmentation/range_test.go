package segmentation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberRangeDecode(t *testing.T) {
	t.Run("numbers and numeric strings", func(t *testing.T) {
		var r NumberRange
		require.NoError(t, json.Unmarshal([]byte(`{"gte": 3, "lte": "7.5"}`), &r))
		require.NotNil(t, r.Gte)
		require.NotNil(t, r.Lte)
		assert.Equal(t, 3.0, *r.Gte)
		assert.Equal(t, 7.5, *r.Lte)
		assert.Nil(t, r.Eq)
		assert.Equal(t, "[gte=3 lte=7.5]", r.String())
	})

	t.Run("unknown keys and null bounds are ignored", func(t *testing.T) {
		var r NumberRange
		require.NoError(t, json.Unmarshal([]byte(`{"eq": 2, "lte": null, "foo": 1}`), &r))
		assert.Nil(t, r.Lte)
		assert.Equal(t, "[eq=2]", r.String())
	})

	for name, input := range map[string]string{
		"empty":         `{}`,
		"inverted":      `{"gte": 10, "lte": 1}`,
		"eq outside":    `{"gte": 1, "lte": 5, "eq": 9}`,
		"not a number":  `{"gte": "abc"}`,
		"not an object": `[1, 2]`,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			var r NumberRange
			err := json.Unmarshal([]byte(input), &r)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRange)
		})
	}
}

func TestNumberRangeContains(t *testing.T) {
	gte, lte, eq := 3.0, 5.0, 4.0
	r := NumberRange{Gte: &gte, Lte: &lte}
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(2.99))
	assert.False(t, r.Contains(5.01))

	r.Eq = &eq
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(3))
}

func TestNumberRangeCondition(t *testing.T) {
	gte, eq := 1.0, 2.0
	cond, args := NumberRange{Gte: &gte, Eq: &eq}.Condition("COUNT(*)")
	assert.Equal(t, "(COUNT(*) >= ? AND COUNT(*) = ?)", cond)
	assert.Equal(t, []any{1.0, 2.0}, args)
}

func TestNumberRangeDayBounds(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	t.Run("gte only bounds the latest purchase from above", func(t *testing.T) {
		gte := 3.0
		after, notAfter := NumberRange{Gte: &gte}.DayBounds(now)
		assert.Nil(t, after)
		require.NotNil(t, notAfter)
		assert.Equal(t, now.Add(-3*day), *notAfter)
	})

	t.Run("eq selects one whole day", func(t *testing.T) {
		eq := 2.0
		after, notAfter := NumberRange{Eq: &eq}.DayBounds(now)
		require.NotNil(t, after)
		require.NotNil(t, notAfter)
		assert.Equal(t, now.Add(-3*day), *after)
		assert.Equal(t, now.Add(-2*day), *notAfter)

		inside := now.Add(-2*day - time.Hour)
		assert.True(t, inside.After(*after) && !inside.After(*notAfter))
	})
}

func TestDateRangeDecode(t *testing.T) {
	t.Run("date only lte covers the whole day", func(t *testing.T) {
		var r DateRange
		require.NoError(t, json.Unmarshal([]byte(`{"gte": "2024-01-01", "lte": "2024-01-31"}`), &r))
		assert.True(t, r.Contains(time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)))
	})

	t.Run("eq matches the calendar day", func(t *testing.T) {
		var r DateRange
		require.NoError(t, json.Unmarshal([]byte(`{"eq": "2024-03-15T18:30:00Z"}`), &r))
		assert.Equal(t, "[eq=2024-03-15]", r.String())
		assert.True(t, r.Contains(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
		assert.True(t, r.Contains(time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)))
		assert.False(t, r.Contains(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)))

		cond, args := r.Condition("created_at")
		assert.Equal(t, "(created_at >= ? AND created_at < ?)", cond)
		assert.Len(t, args, 2)
	})

	t.Run("unix seconds and datetime layouts", func(t *testing.T) {
		var r DateRange
		require.NoError(t, json.Unmarshal([]byte(`{"gte": 1704067200, "lte": "2024-01-02 10:00:00"}`), &r))
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *r.Gte)
		assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), *r.Lte)
	})

	t.Run("rejects inverted bounds", func(t *testing.T) {
		var r DateRange
		err := json.Unmarshal([]byte(`{"gte": "2024-02-01", "lte": "2024-01-01"}`), &r)
		assert.ErrorIs(t, err, ErrMalformedRange)
	})

	t.Run("rejects eq outside bounds", func(t *testing.T) {
		for _, body := range []string{
			`{"gte": "2024-02-01", "eq": "2024-01-05"}`,
			`{"lte": "2024-01-04", "eq": "2024-01-05"}`,
		} {
			var r DateRange
			err := json.Unmarshal([]byte(body), &r)
			assert.ErrorIs(t, err, ErrMalformedRange, body)
		}

		var r DateRange
		require.NoError(t, json.Unmarshal([]byte(`{"gte": "2024-01-05T12:00:00Z", "eq": "2024-01-05"}`), &r))
		assert.True(t, r.Contains(time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects unknown formats", func(t *testing.T) {
		var r DateRange
		err := json.Unmarshal([]byte(`{"gte": "yesterday"}`), &r)
		assert.ErrorIs(t, err, ErrMalformedRange)
	})
}
