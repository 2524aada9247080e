package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
)

// Notifier delivers one text to each recipient chat
type Notifier interface {
	Notify(ctx context.Context, recipientIDs []string, text string) error
}

type ShiftFilter string

const (
	ShiftAny ShiftFilter = "any"
	ShiftOn  ShiftFilter = "on_shift"
	ShiftOff ShiftFilter = "off_shift"
)

// TimeWindow gates a notification by calendar and time of day in a timezone.
// Weekdays are ISO numbered, Monday is 1. A window whose end precedes its start wraps past midnight.
type TimeWindow struct {
	Weekdays    []int  `json:"weekdays"`
	DaysOfMonth []int  `json:"days_of_month"`
	TimeFrom    string `json:"time_from"`
	TimeTo      string `json:"time_to"`
	Timezone    string `json:"timezone"`
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w *TimeWindow) validate() error {
	for _, d := range w.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("weekday %d out of range 1..7", d)
		}
	}
	for _, d := range w.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("day of month %d out of range 1..31", d)
		}
	}
	if (w.TimeFrom == "") != (w.TimeTo == "") {
		return fmt.Errorf("time_from and time_to must be set together")
	}
	if w.TimeFrom != "" {
		if _, err := parseClock(w.TimeFrom); err != nil {
			return err
		}
		if _, err := parseClock(w.TimeTo); err != nil {
			return err
		}
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", w.Timezone)
		}
	}
	return nil
}

// Allows reports whether now falls inside the window
func (w *TimeWindow) Allows(now time.Time) (bool, error) {
	if w == nil {
		return true, nil
	}
	loc := time.UTC
	if w.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(w.Timezone); err != nil {
			return false, err
		}
	}
	local := now.In(loc)
	if len(w.Weekdays) > 0 {
		wd := int(local.Weekday())
		if wd == 0 {
			wd = 7
		}
		if !slices.Contains(w.Weekdays, wd) {
			return false, nil
		}
	}
	if len(w.DaysOfMonth) > 0 && !slices.Contains(w.DaysOfMonth, local.Day()) {
		return false, nil
	}
	if w.TimeFrom != "" {
		from, err := parseClock(w.TimeFrom)
		if err != nil {
			return false, err
		}
		to, err := parseClock(w.TimeTo)
		if err != nil {
			return false, err
		}
		minute := local.Hour()*60 + local.Minute()
		if from <= to {
			return minute >= from && minute <= to, nil
		}
		return minute >= from || minute <= to, nil
	}
	return true, nil
}

type notificationParams struct {
	Text       string      `json:"text"`
	Roles      []string    `json:"roles"`
	Shift      ShiftFilter `json:"shift"`
	Tags       []string    `json:"tags"`
	UserIDs    []int64     `json:"user_ids"`
	TimeWindow *TimeWindow `json:"time_window"`
}

func decodeNotificationParams(raw json.RawMessage) (*notificationParams, error) {
	var p notificationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	switch p.Shift {
	case "":
		p.Shift = ShiftAny
	case ShiftAny, ShiftOn, ShiftOff:
	default:
		return nil, fmt.Errorf("unknown shift %q", p.Shift)
	}
	if p.TimeWindow != nil {
		if err := p.TimeWindow.validate(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (p *notificationParams) selects(u *models.CashboxUser) bool {
	if !u.IsActive || u.ChatID == "" {
		return false
	}
	if len(p.Roles) > 0 && !u.HasAnyRole(p.Roles) {
		return false
	}
	if len(p.Tags) > 0 && !u.HasAnyTag(p.Tags) {
		return false
	}
	if len(p.UserIDs) > 0 && !slices.Contains(p.UserIDs, u.ID) {
		return false
	}
	switch p.Shift {
	case ShiftOn:
		return u.OnShift
	case ShiftOff:
		return !u.OnShift
	}
	return true
}

// RenderText substitutes {segment_name}, {count} and {ids}
func RenderText(template string, segment *models.Segment, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.NewReplacer(
		"{segment_name}", segment.Name,
		"{count}", strconv.Itoa(len(ids)),
		"{ids}", strings.Join(parts, ", "),
	).Replace(template)
}

// NotificationAction messages the tenant's staff about the target ids
type NotificationAction struct {
	users    repository.CashboxUserRepository
	notifier Notifier
}

func NewNotificationAction(users repository.CashboxUserRepository, notifier Notifier) *NotificationAction {
	return &NotificationAction{users: users, notifier: notifier}
}

func (a *NotificationAction) Type() string { return "send_notification" }
func (a *NotificationAction) Entities() []Entity {
	return []Entity{EntityContragents, EntityDocuments}
}

func (a *NotificationAction) Validate(params json.RawMessage) error {
	_, err := decodeNotificationParams(params)
	return err
}

func (a *NotificationAction) Execute(ctx context.Context, req ActionRequest) error {
	p, err := decodeNotificationParams(req.Params)
	if err != nil {
		return err
	}
	now := time.Now()
	if req.Memo != nil {
		now = req.Memo.Now
	}
	allowed, err := p.TimeWindow.Allows(now)
	if err != nil || !allowed {
		return err
	}

	var users []*models.CashboxUser
	if req.Memo != nil {
		users, err = req.Memo.Recipients(ctx, a.users, req.Segment.CashboxID)
	} else {
		users, err = a.users.ListActive(ctx, req.Segment.CashboxID)
	}
	if err != nil {
		return err
	}
	var recipients []string
	for _, u := range users {
		if p.selects(u) && !slices.Contains(recipients, u.ChatID) {
			recipients = append(recipients, u.ChatID)
		}
	}
	if len(recipients) == 0 {
		return nil
	}
	return a.notifier.Notify(ctx, recipients, RenderText(p.Text, req.Segment, req.IDs))
}
