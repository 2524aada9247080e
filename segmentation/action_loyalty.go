package segmentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
)

type loyaltyParams struct {
	Amount      float64                 `json:"amount"`
	Direction   models.LoyaltyDirection `json:"direction"`
	Description string                  `json:"description"`
}

// entry resolves the signed amount into a positive amount and a direction
func (p loyaltyParams) entry() (float64, models.LoyaltyDirection, error) {
	if p.Amount == 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return 0, "", fmt.Errorf("amount must be a non-zero number")
	}
	if p.Direction == "" {
		if p.Amount < 0 {
			return -p.Amount, models.LoyaltyWithdraw, nil
		}
		return p.Amount, models.LoyaltyAccrual, nil
	}
	if !p.Direction.Valid() {
		return 0, "", fmt.Errorf("unknown direction %q", p.Direction)
	}
	if p.Amount < 0 {
		return 0, "", fmt.Errorf("amount must be positive when direction is set")
	}
	return p.Amount, p.Direction, nil
}

func decodeLoyaltyParams(raw json.RawMessage) (loyaltyParams, error) {
	var p loyaltyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	_, _, err := p.entry()
	return p, err
}

// LoyaltyAction appends one ledger entry to every card of each target contragent
type LoyaltyAction struct {
	loyalty repository.LoyaltyRepository
}

func NewLoyaltyAction(loyalty repository.LoyaltyRepository) *LoyaltyAction {
	return &LoyaltyAction{loyalty: loyalty}
}

func (a *LoyaltyAction) Type() string       { return "loyality_transaction" }
func (a *LoyaltyAction) Entities() []Entity { return []Entity{EntityContragents} }

func (a *LoyaltyAction) Validate(params json.RawMessage) error {
	_, err := decodeLoyaltyParams(params)
	return err
}

func (a *LoyaltyAction) Execute(ctx context.Context, req ActionRequest) error {
	p, err := decodeLoyaltyParams(req.Params)
	if err != nil {
		return err
	}
	amount, direction, _ := p.entry()

	memo := req.Memo
	if memo == nil {
		memo = NewMemo(time.Time{})
	}
	cards, err := memo.Cards(ctx, a.loyalty, req.Segment.CashboxID, req.IDs)
	if err != nil {
		return err
	}

	segmentID := req.Segment.ID
	var errs []error
	for _, contragentID := range req.IDs {
		for _, card := range cards[contragentID] {
			_, err := a.loyalty.AppendEntry(ctx, &models.LoyaltyTransaction{
				LoyaltyCardID: card.ID,
				Type:          direction,
				Amount:        amount,
				Description:   p.Description,
				SegmentID:     &segmentID,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("card %d: %w", card.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}
