package repository

import (
	"context"
	"errors"
	"slices"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SegmentSnapshotRepositoryImpl struct {
	DB *gorm.DB
}

func NewSegmentSnapshotRepository(db *gorm.DB) SegmentSnapshotRepository {
	return &SegmentSnapshotRepositoryImpl{DB: db}
}

func (r *SegmentSnapshotRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB.WithContext(ctx)
}

func (r *SegmentSnapshotRepositoryImpl) Latest(ctx context.Context, segmentID uint) (*models.SegmentSnapshot, error) {
	db := r.getDB(ctx)
	var row models.SegmentSnapshot
	err := db.Where("segment_id = ?", segmentID).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *SegmentSnapshotRepositoryImpl) Insert(ctx context.Context, segmentID uint, correlationID string, documentIDs, contragentIDs []int64) (*models.SegmentSnapshot, error) {
	db := r.getDB(ctx)
	row := models.SegmentSnapshot{
		SegmentID:     segmentID,
		CorrelationID: correlationID,
		DocumentIDs:   datatypes.NewJSONSlice(dedupeAndSort(documentIDs)),
		ContragentIDs: datatypes.NewJSONSlice(dedupeAndSort(contragentIDs)),
		CreatedAt:     utils.UTCNow(),
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListBySegment returns the most recent snapshots of a segment, newest first
func (r *SegmentSnapshotRepositoryImpl) ListBySegment(ctx context.Context, segmentID uint, limit int) ([]*models.SegmentSnapshot, error) {
	db := r.getDB(ctx)
	query := db.Where("segment_id = ?", segmentID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.SegmentSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func dedupeAndSort(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
