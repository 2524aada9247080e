package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TagRepositoryImpl implements TagRepository interface over docs_sales_tags and contragents_tags
type TagRepositoryImpl struct {
	DB *gorm.DB
}

// NewTagRepository creates a new tag repository
func NewTagRepository(db *gorm.DB) TagRepository {
	return &TagRepositoryImpl{DB: db}
}

func (r *TagRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB.WithContext(ctx)
}

func tagModel(entity models.TagEntity) (model any, column string, err error) {
	switch entity {
	case models.TagEntityDocument:
		return &models.DocumentTag{}, "docs_sales_id", nil
	case models.TagEntityContragent:
		return &models.ContragentTag{}, "contragent_id", nil
	}
	return nil, "", fmt.Errorf("unknown tag entity %q", entity)
}

// AddTags attaches every name to every entity; pairs that already exist are left untouched
func (r *TagRepositoryImpl) AddTags(ctx context.Context, entity models.TagEntity, cashboxID int64, entityIDs []int64, names []string) (int64, error) {
	if len(entityIDs) == 0 || len(names) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	now := utils.UTCNow()
	onConflict := clause.OnConflict{DoNothing: true}

	switch entity {
	case models.TagEntityDocument:
		rows := make([]models.DocumentTag, 0, len(entityIDs)*len(names))
		for _, id := range entityIDs {
			for _, name := range names {
				rows = append(rows, models.DocumentTag{CashboxID: cashboxID, DocsSalesID: id, Name: name, CreatedAt: now})
			}
		}
		res := db.Clauses(onConflict).CreateInBatches(rows, 500)
		return res.RowsAffected, res.Error
	case models.TagEntityContragent:
		rows := make([]models.ContragentTag, 0, len(entityIDs)*len(names))
		for _, id := range entityIDs {
			for _, name := range names {
				rows = append(rows, models.ContragentTag{CashboxID: cashboxID, ContragentID: id, Name: name, CreatedAt: now})
			}
		}
		res := db.Clauses(onConflict).CreateInBatches(rows, 500)
		return res.RowsAffected, res.Error
	}
	return 0, fmt.Errorf("unknown tag entity %q", entity)
}

// RemoveTags detaches the names from the entities; missing pairs are ignored
func (r *TagRepositoryImpl) RemoveTags(ctx context.Context, entity models.TagEntity, cashboxID int64, entityIDs []int64, names []string) (int64, error) {
	if len(entityIDs) == 0 || len(names) == 0 {
		return 0, nil
	}
	model, column, err := tagModel(entity)
	if err != nil {
		return 0, err
	}
	db := r.getDB(ctx)
	var affected int64
	for start := 0; start < len(entityIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(entityIDs))
		res := db.Where("cashbox_id = ? AND "+column+" IN ? AND name IN ?", cashboxID, entityIDs[start:end], names).
			Delete(model)
		if res.Error != nil {
			return affected, res.Error
		}
		affected += res.RowsAffected
	}
	return affected, nil
}

// ListNames returns the tag names attached to one entity in alphabetical order
func (r *TagRepositoryImpl) ListNames(ctx context.Context, entity models.TagEntity, entityID int64) ([]string, error) {
	model, column, err := tagModel(entity)
	if err != nil {
		return nil, err
	}
	var names []string
	err = r.getDB(ctx).Model(model).Where(column+" = ?", entityID).Order("name ASC").Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Count returns the number of tag rows matching the filter
func (r *TagRepositoryImpl) Count(ctx context.Context, entity models.TagEntity, filter models.TagFilter) (int64, error) {
	model, column, err := tagModel(entity)
	if err != nil {
		return 0, err
	}
	query := r.getDB(ctx).Model(model)
	if filter.CashboxID != nil {
		query = query.Where("cashbox_id = ?", *filter.CashboxID)
	}
	if filter.EntityID != nil {
		query = query.Where(column+" = ?", *filter.EntityID)
	}
	if filter.Name != nil {
		query = query.Where("name = ?", *filter.Name)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
