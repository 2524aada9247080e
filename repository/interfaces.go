// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/segment-engine/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SegmentRepository defines operations for segments
type SegmentRepository interface {
	Repository[models.Segment, models.SegmentFilter]
	ByIDAndCashbox(ctx context.Context, id uint, cashboxID int64) (*models.Segment, error)
	Update(ctx context.Context, segment *models.Segment) error
	UpdateStatus(ctx context.Context, id uint, status models.SegmentStatus) error
	MarkInProcess(ctx context.Context, id uint) error
	CommitRecomputation(ctx context.Context, id uint, counters models.SegmentCounters) error
	SetArchived(ctx context.Context, id uint, archived bool) error
	SoftDelete(ctx context.Context, id uint) error
	ListForRecompute(ctx context.Context) ([]*models.Segment, error)
}

// SegmentSnapshotRepository defines operations for committed segment memberships
type SegmentSnapshotRepository interface {
	Latest(ctx context.Context, segmentID uint) (*models.SegmentSnapshot, error)
	Insert(ctx context.Context, segmentID uint, correlationID string, documentIDs, contragentIDs []int64) (*models.SegmentSnapshot, error)
	ListBySegment(ctx context.Context, segmentID uint, limit int) ([]*models.SegmentSnapshot, error)
}

// DocumentContragent pairs a sales document with its owning contragent
type DocumentContragent struct {
	DocumentID   int64
	ContragentID int64
}

// SalesDocumentRepository defines read operations for sales documents
type SalesDocumentRepository interface {
	Repository[models.SalesDocument, models.SalesDocumentFilter]
	ListActiveIDs(ctx context.Context, cashboxID int64) ([]int64, error)
	ContragentsOf(ctx context.Context, documentIDs []int64) ([]DocumentContragent, error)
	SoftDelete(ctx context.Context, id int64) error
}

// ContragentRepository defines read operations for contragents
type ContragentRepository interface {
	ByIDs(ctx context.Context, cashboxID int64, ids []int64) ([]*models.Contragent, error)
}

// TagRepository defines operations for document and contragent tag rows
type TagRepository interface {
	AddTags(ctx context.Context, entity models.TagEntity, cashboxID int64, entityIDs []int64, names []string) (int64, error)
	RemoveTags(ctx context.Context, entity models.TagEntity, cashboxID int64, entityIDs []int64, names []string) (int64, error)
	ListNames(ctx context.Context, entity models.TagEntity, entityID int64) ([]string, error)
	Count(ctx context.Context, entity models.TagEntity, filter models.TagFilter) (int64, error)
}

// LoyaltyRepository defines operations for loyalty cards and their ledger
type LoyaltyRepository interface {
	CardByID(ctx context.Context, id int64) (*models.LoyaltyCard, error)
	CardsByFilter(ctx context.Context, filter models.LoyaltyCardFilter) ([]*models.LoyaltyCard, error)
	AppendEntry(ctx context.Context, entry *models.LoyaltyTransaction) (*models.LoyaltyCard, error)
	ListEntries(ctx context.Context, cardID int64) ([]*models.LoyaltyTransaction, error)
}

// CashboxUserRepository defines read operations for tenant users that receive notifications
type CashboxUserRepository interface {
	ListActive(ctx context.Context, cashboxID int64) ([]*models.CashboxUser, error)
}
