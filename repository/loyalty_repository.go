package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrLoyaltyCardNotFound  = errors.New("loyalty card not found")
	ErrInvalidLedgerEntry   = errors.New("invalid ledger entry")
	ErrLoyaltyCardIsDeleted = errors.New("loyalty card is deleted")
)

// LoyaltyRepositoryImpl implements LoyaltyRepository interface
type LoyaltyRepositoryImpl struct {
	DB *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) LoyaltyRepository {
	return &LoyaltyRepositoryImpl{DB: db}
}

func (r *LoyaltyRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB.WithContext(ctx)
}

func (r *LoyaltyRepositoryImpl) CardByID(ctx context.Context, id int64) (*models.LoyaltyCard, error) {
	var card models.LoyaltyCard
	err := r.getDB(ctx).Where("id = ?", id).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// CardsByFilter returns cards ordered by id
func (r *LoyaltyRepositoryImpl) CardsByFilter(ctx context.Context, filter models.LoyaltyCardFilter) ([]*models.LoyaltyCard, error) {
	query := r.getDB(ctx).Model(&models.LoyaltyCard{})
	if filter.CashboxID != nil {
		query = query.Where("cashbox_id = ?", *filter.CashboxID)
	}
	if filter.IsDeleted != nil {
		query = query.Where("is_deleted = ?", *filter.IsDeleted)
	}
	if filter.ContragentIDs == nil {
		var rows []*models.LoyaltyCard
		if err := query.Order("id ASC").Find(&rows).Error; err != nil {
			return nil, err
		}
		return rows, nil
	}

	out := make([]*models.LoyaltyCard, 0, len(filter.ContragentIDs))
	for start := 0; start < len(filter.ContragentIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(filter.ContragentIDs))
		var rows []*models.LoyaltyCard
		err := query.Session(&gorm.Session{}).
			Where("contragent_id IN ?", filter.ContragentIDs[start:end]).
			Order("id ASC").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// AppendEntry writes a ledger entry and recomputes the card balance from the whole ledger.
// The card row is locked for the duration so concurrent appends serialize.
func (r *LoyaltyRepositoryImpl) AppendEntry(ctx context.Context, entry *models.LoyaltyTransaction) (*models.LoyaltyCard, error) {
	if entry == nil || entry.Amount <= 0 || !entry.Type.Valid() {
		return nil, ErrInvalidLedgerEntry
	}

	var updated models.LoyaltyCard
	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var card models.LoyaltyCard
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", entry.LoyaltyCardID).First(&card).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoyaltyCardNotFound
		}
		if err != nil {
			return err
		}
		if card.IsDeleted {
			return ErrLoyaltyCardIsDeleted
		}

		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = utils.UTCNow()
		}
		if err := db.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}

		var sums struct {
			Accrued   float64
			Withdrawn float64
		}
		err = db.Model(&models.LoyaltyTransaction{}).
			Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS accrued, COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS withdrawn",
				models.LoyaltyAccrual, models.LoyaltyWithdraw).
			Where("loyality_card_id = ?", card.ID).
			Scan(&sums).Error
		if err != nil {
			return fmt.Errorf("failed to recompute balance: %w", err)
		}

		card.Balance = sums.Accrued - sums.Withdrawn
		card.LastOperationAt = &entry.CreatedAt
		card.UpdatedAt = utils.UTCNow()
		err = db.Model(&models.LoyaltyCard{}).Where("id = ?", card.ID).Updates(map[string]any{
			"balance":           card.Balance,
			"last_operation_at": card.LastOperationAt,
			"updated_at":        card.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		updated = card
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListEntries returns the ledger of a card in insertion order
func (r *LoyaltyRepositoryImpl) ListEntries(ctx context.Context, cardID int64) ([]*models.LoyaltyTransaction, error) {
	var rows []*models.LoyaltyTransaction
	err := r.getDB(ctx).Where("loyality_card_id = ?", cardID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CashboxUserRepositoryImpl implements CashboxUserRepository interface
type CashboxUserRepositoryImpl struct {
	DB *gorm.DB
}

func NewCashboxUserRepository(db *gorm.DB) CashboxUserRepository {
	return &CashboxUserRepositoryImpl{DB: db}
}

func (r *CashboxUserRepositoryImpl) ListActive(ctx context.Context, cashboxID int64) ([]*models.CashboxUser, error) {
	var rows []*models.CashboxUser
	err := r.DB.WithContext(ctx).
		Where("cashbox_id = ? AND is_active = ?", cashboxID, true).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
