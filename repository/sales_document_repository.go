package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/gorm"
)

// lookupChunk bounds the number of bind parameters of IN lists built from id slices
const lookupChunk = 10000

// SalesDocumentRepositoryImpl implements SalesDocumentRepository interface
type SalesDocumentRepositoryImpl struct {
	*BaseRepository[models.SalesDocument, models.SalesDocumentFilter]
}

// NewSalesDocumentRepository creates a new sales document repository
func NewSalesDocumentRepository(db *gorm.DB) SalesDocumentRepository {
	return &SalesDocumentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SalesDocument, models.SalesDocumentFilter](db),
	}
}

// ListActiveIDs returns the ids of every non-deleted document of a tenant in ascending order
func (r *SalesDocumentRepositoryImpl) ListActiveIDs(ctx context.Context, cashboxID int64) ([]int64, error) {
	db := r.getDB(ctx)
	var ids []int64
	err := db.Model(&models.SalesDocument{}).
		Where("cashbox_id = ? AND is_deleted = ?", cashboxID, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of cashbox %d: %w", cashboxID, err)
	}
	return ids, nil
}

// ContragentsOf resolves the owning contragent of each document; documents without one are omitted
func (r *SalesDocumentRepositoryImpl) ContragentsOf(ctx context.Context, documentIDs []int64) ([]DocumentContragent, error) {
	db := r.getDB(ctx)
	out := make([]DocumentContragent, 0, len(documentIDs))
	for start := 0; start < len(documentIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(documentIDs))
		var rows []struct {
			ID           int64
			ContragentID int64
		}
		err := db.Model(&models.SalesDocument{}).
			Select("id, contragent_id").
			Where("id IN ? AND contragent_id IS NOT NULL", documentIDs[start:end]).
			Order("id ASC").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to resolve contragents: %w", err)
		}
		for _, row := range rows {
			out = append(out, DocumentContragent{DocumentID: row.ID, ContragentID: row.ContragentID})
		}
	}
	return out, nil
}

func (r *SalesDocumentRepositoryImpl) SoftDelete(ctx context.Context, id int64) error {
	db := r.getDB(ctx)
	return db.Model(&models.SalesDocument{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "updated_at": utils.UTCNow()}).Error
}

func (r *SalesDocumentRepositoryImpl) applyFilter(query *gorm.DB, filter models.SalesDocumentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.CashboxID != nil {
		query = query.Where("cashbox_id = ?", *filter.CashboxID)
	}
	if filter.ContragentID != nil {
		query = query.Where("contragent_id = ?", *filter.ContragentID)
	}
	if filter.OrderStatus != nil {
		query = query.Where("order_status = ?", *filter.OrderStatus)
	}
	if filter.IsDeleted != nil {
		query = query.Where("is_deleted = ?", *filter.IsDeleted)
	}
	return query
}

func (r *SalesDocumentRepositoryImpl) ByFilter(ctx context.Context, filter models.SalesDocumentFilter, orderBy string, limit, offset int) ([]*models.SalesDocument, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.SalesDocument{}), filter)
	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.SalesDocument
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SalesDocumentRepositoryImpl) Count(ctx context.Context, filter models.SalesDocumentFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.SalesDocument{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SalesDocumentRepositoryImpl) Exists(ctx context.Context, filter models.SalesDocumentFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ContragentRepositoryImpl implements ContragentRepository interface
type ContragentRepositoryImpl struct {
	DB *gorm.DB
}

func NewContragentRepository(db *gorm.DB) ContragentRepository {
	return &ContragentRepositoryImpl{DB: db}
}

// ByIDs returns the contragents of a tenant with the given ids, ordered by id
func (r *ContragentRepositoryImpl) ByIDs(ctx context.Context, cashboxID int64, ids []int64) ([]*models.Contragent, error) {
	db := r.DB.WithContext(ctx)
	out := make([]*models.Contragent, 0, len(ids))
	for start := 0; start < len(ids); start += lookupChunk {
		end := min(start+lookupChunk, len(ids))
		var rows []*models.Contragent
		err := db.Where("cashbox_id = ? AND id IN ?", cashboxID, ids[start:end]).Order("id ASC").Find(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
