package segmentation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const day = 24 * time.Hour

// NumberRange is a numeric predicate; any subset of the bounds may be set.
type NumberRange struct {
	Gte *float64
	Lte *float64
	Eq  *float64
}

func (r *NumberRange) UnmarshalJSON(b []byte) error {
	fields, err := decodeBounds(b)
	if err != nil {
		return err
	}
	for key, raw := range fields {
		v, err := parseNumber(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedRange, key, err)
		}
		switch key {
		case "gte":
			r.Gte = &v
		case "lte":
			r.Lte = &v
		case "eq":
			r.Eq = &v
		}
	}
	return r.Validate()
}

func (r NumberRange) IsEmpty() bool {
	return r.Gte == nil && r.Lte == nil && r.Eq == nil
}

func (r NumberRange) Validate() error {
	if r.IsEmpty() {
		return fmt.Errorf("%w: no bounds", ErrMalformedRange)
	}
	if r.Gte != nil && r.Lte != nil && *r.Gte > *r.Lte {
		return fmt.Errorf("%w: gte %v is greater than lte %v", ErrMalformedRange, *r.Gte, *r.Lte)
	}
	if r.Eq != nil && !r.boundsContain(*r.Eq) {
		return fmt.Errorf("%w: eq %v is outside gte/lte", ErrMalformedRange, *r.Eq)
	}
	return nil
}

func (r NumberRange) boundsContain(v float64) bool {
	if r.Gte != nil && v < *r.Gte {
		return false
	}
	if r.Lte != nil && v > *r.Lte {
		return false
	}
	return true
}

// Contains evaluates the range in memory
func (r NumberRange) Contains(v float64) bool {
	if r.Eq != nil && v != *r.Eq {
		return false
	}
	return r.boundsContain(v)
}

// Condition renders the range over an SQL expression, e.g. "(expr >= ? AND expr <= ?)"
func (r NumberRange) Condition(expr string) (string, []any) {
	parts := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if r.Gte != nil {
		parts = append(parts, expr+" >= ?")
		args = append(args, *r.Gte)
	}
	if r.Lte != nil {
		parts = append(parts, expr+" <= ?")
		args = append(args, *r.Lte)
	}
	if r.Eq != nil {
		parts = append(parts, expr+" = ?")
		args = append(args, *r.Eq)
	}
	return "(" + strings.Join(parts, " AND ") + ")", args
}

// Apply adds the range as a WHERE condition on column
func (r NumberRange) Apply(q *gorm.DB, column string) *gorm.DB {
	cond, args := r.Condition(column)
	return q.Where(cond, args...)
}

// DayBounds translates a range over "whole days since t" into bounds on t, relative to now.
// A nil bound is open. The returned interval is [after, notAfter] with after exclusive.
func (r NumberRange) DayBounds(now time.Time) (after, notAfter *time.Time) {
	lo, hi := r.Gte, r.Lte
	if r.Eq != nil {
		lo, hi = r.Eq, r.Eq
	}
	if lo != nil {
		t := now.Add(-time.Duration(math.Ceil(*lo)) * day)
		notAfter = &t
	}
	if hi != nil {
		t := now.Add(-time.Duration(math.Floor(*hi)+1) * day)
		after = &t
	}
	return after, notAfter
}

func (r NumberRange) String() string {
	var parts []string
	if r.Gte != nil {
		parts = append(parts, "gte="+formatFloat(*r.Gte))
	}
	if r.Lte != nil {
		parts = append(parts, "lte="+formatFloat(*r.Lte))
	}
	if r.Eq != nil {
		parts = append(parts, "eq="+formatFloat(*r.Eq))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// DateRange is a time predicate. Eq matches the whole UTC calendar day.
// A date-only Lte includes the whole day.
type DateRange struct {
	Gte *time.Time
	Lte *time.Time
	Eq  *time.Time
}

func (r *DateRange) UnmarshalJSON(b []byte) error {
	fields, err := decodeBounds(b)
	if err != nil {
		return err
	}
	for key, raw := range fields {
		t, dateOnly, err := parseTime(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedRange, key, err)
		}
		switch key {
		case "gte":
			r.Gte = &t
		case "lte":
			if dateOnly {
				t = t.Add(day - time.Nanosecond)
			}
			r.Lte = &t
		case "eq":
			d := t.Truncate(day)
			r.Eq = &d
		}
	}
	return r.Validate()
}

func (r DateRange) IsEmpty() bool {
	return r.Gte == nil && r.Lte == nil && r.Eq == nil
}

func (r DateRange) Validate() error {
	if r.IsEmpty() {
		return fmt.Errorf("%w: no bounds", ErrMalformedRange)
	}
	if r.Gte != nil && r.Lte != nil && r.Gte.After(*r.Lte) {
		return fmt.Errorf("%w: gte is after lte", ErrMalformedRange)
	}
	if r.Eq != nil {
		// eq covers the whole day [eq, eq+1d)
		if r.Gte != nil && !r.Eq.Add(day).After(*r.Gte) {
			return fmt.Errorf("%w: eq %s is before gte", ErrMalformedRange, r.Eq.Format(time.DateOnly))
		}
		if r.Lte != nil && r.Eq.After(*r.Lte) {
			return fmt.Errorf("%w: eq %s is after lte", ErrMalformedRange, r.Eq.Format(time.DateOnly))
		}
	}
	return nil
}

// Contains evaluates the range in memory
func (r DateRange) Contains(t time.Time) bool {
	if r.Gte != nil && t.Before(*r.Gte) {
		return false
	}
	if r.Lte != nil && t.After(*r.Lte) {
		return false
	}
	if r.Eq != nil && (t.Before(*r.Eq) || !t.Before(r.Eq.Add(day))) {
		return false
	}
	return true
}

func (r DateRange) Condition(expr string) (string, []any) {
	parts := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if r.Gte != nil {
		parts = append(parts, expr+" >= ?")
		args = append(args, r.Gte.UTC())
	}
	if r.Lte != nil {
		parts = append(parts, expr+" <= ?")
		args = append(args, r.Lte.UTC())
	}
	if r.Eq != nil {
		parts = append(parts, expr+" >= ?", expr+" < ?")
		args = append(args, r.Eq.UTC(), r.Eq.Add(day).UTC())
	}
	return "(" + strings.Join(parts, " AND ") + ")", args
}

func (r DateRange) Apply(q *gorm.DB, column string) *gorm.DB {
	cond, args := r.Condition(column)
	return q.Where(cond, args...)
}

func (r DateRange) String() string {
	var parts []string
	if r.Gte != nil {
		parts = append(parts, "gte="+r.Gte.UTC().Format(time.RFC3339))
	}
	if r.Lte != nil {
		parts = append(parts, "lte="+r.Lte.UTC().Format(time.RFC3339))
	}
	if r.Eq != nil {
		parts = append(parts, "eq="+r.Eq.UTC().Format(time.DateOnly))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// NullCheck renders an "assigned / not assigned" predicate on a nullable column
func NullCheck(q *gorm.DB, column string, present bool) *gorm.DB {
	if present {
		return q.Where(column + " IS NOT NULL")
	}
	return q.Where(column + " IS NULL")
}

func decodeBounds(b []byte) (map[string]json.RawMessage, error) {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil, fmt.Errorf("%w: null", ErrMalformedRange)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRange, err)
	}
	out := make(map[string]json.RawMessage, len(raw))
	for key, v := range raw {
		switch key {
		case "gte", "lte", "eq":
			if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				out[key] = v
			}
		}
	}
	return out, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Float64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// parseTime accepts RFC3339, "2006-01-02 15:04:05", a bare date, or unix seconds
func parseTime(raw json.RawMessage) (t time.Time, dateOnly bool, err error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		secs, err := n.Float64()
		if err != nil {
			return time.Time{}, false, err
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false, fmt.Errorf("not a date: %s", raw)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unsupported date format %q", s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
