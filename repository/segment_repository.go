package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/gorm"
)

// SegmentRepositoryImpl implements SegmentRepository interface
type SegmentRepositoryImpl struct {
	*BaseRepository[models.Segment, models.SegmentFilter]
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &SegmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Segment, models.SegmentFilter](db),
	}
}

// ByIDAndCashbox retrieves a non-deleted segment owned by the given tenant
func (r *SegmentRepositoryImpl) ByIDAndCashbox(ctx context.Context, id uint, cashboxID int64) (*models.Segment, error) {
	db := r.getDB(ctx)
	var row models.Segment
	err := db.Where("id = ? AND cashbox_id = ? AND is_deleted = ?", id, cashboxID, false).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Update persists the editable fields of a segment
func (r *SegmentRepositoryImpl) Update(ctx context.Context, segment *models.Segment) error {
	db := r.getDB(ctx)
	segment.UpdatedAt = utils.UTCNow()
	err := db.Model(&models.Segment{}).
		Where("id = ?", segment.ID).
		Updates(map[string]any{
			"name":            segment.Name,
			"criteria":        segment.Criteria,
			"actions":         segment.Actions,
			"type_of_update":  segment.TypeOfUpdate,
			"update_settings": segment.UpdateSettings,
			"status":          segment.Status,
			"updated_at":      segment.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update segment %d: %w", segment.ID, err)
	}
	return nil
}

// UpdateStatus sets the status of a segment
func (r *SegmentRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.SegmentStatus) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Segment{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": utils.UTCNow()}).Error
	if err != nil {
		return fmt.Errorf("failed to update segment %d status: %w", id, err)
	}
	return nil
}

// MarkInProcess moves a segment to in_process
func (r *SegmentRepositoryImpl) MarkInProcess(ctx context.Context, id uint) error {
	return r.UpdateStatus(ctx, id, models.SegmentStatusInProcess)
}

// CommitRecomputation writes the counters of a finished run and marks the segment ready
func (r *SegmentRepositoryImpl) CommitRecomputation(ctx context.Context, id uint, c models.SegmentCounters) error {
	db := r.getDB(ctx)
	now := utils.UTCNow()
	err := db.Model(&models.Segment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                    models.SegmentStatusReady,
			"contragents_count":         c.ContragentsCount,
			"added_contragents_count":   c.AddedContragentsCount,
			"deleted_contragents_count": c.DeletedContragentsCount,
			"entered_contragents_count": c.EnteredContragentsCount,
			"exited_contragents_count":  c.ExitedContragentsCount,
			"docs_count":                c.DocsCount,
			"added_docs_count":          c.AddedDocsCount,
			"deleted_docs_count":        c.DeletedDocsCount,
			"recalculated_at":           now,
			"updated_at":                now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to commit segment %d: %w", id, err)
	}
	return nil
}

func (r *SegmentRepositoryImpl) SetArchived(ctx context.Context, id uint, archived bool) error {
	db := r.getDB(ctx)
	return db.Model(&models.Segment{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_archived": archived, "updated_at": utils.UTCNow()}).Error
}

func (r *SegmentRepositoryImpl) SoftDelete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.Segment{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "updated_at": utils.UTCNow()}).Error
}

// ListForRecompute returns every segment that takes part in periodic recomputation
func (r *SegmentRepositoryImpl) ListForRecompute(ctx context.Context) ([]*models.Segment, error) {
	db := r.getDB(ctx)
	var rows []*models.Segment
	err := db.Where("is_archived = ? AND is_deleted = ? AND type_of_update = ?", false, false, models.SegmentUpdatePeriodic).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *SegmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.SegmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.CashboxID != nil {
		query = query.Where("cashbox_id = ?", *filter.CashboxID)
	}
	if filter.Name != nil {
		query = query.Where("name = ?", *filter.Name)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.TypeOfUpdate != nil {
		query = query.Where("type_of_update = ?", *filter.TypeOfUpdate)
	}
	if filter.IsArchived != nil {
		query = query.Where("is_archived = ?", *filter.IsArchived)
	}
	if filter.IsDeleted != nil {
		query = query.Where("is_deleted = ?", *filter.IsDeleted)
	}
	return query
}

// ByFilter retrieves segments based on filter criteria
func (r *SegmentRepositoryImpl) ByFilter(ctx context.Context, filter models.SegmentFilter, orderBy string, limit, offset int) ([]*models.Segment, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Segment{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Segment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of segments matching the filter
func (r *SegmentRepositoryImpl) Count(ctx context.Context, filter models.SegmentFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Segment{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any segment matching the filter exists
func (r *SegmentRepositoryImpl) Exists(ctx context.Context, filter models.SegmentFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
