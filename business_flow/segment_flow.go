package businessflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/segment-engine/app/dto"
	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/segmentation"
	"github.com/amirphl/segment-engine/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

// SegmentFlow handles the tenant-facing segment operations
type SegmentFlow interface {
	CreateSegment(ctx context.Context, req *dto.CreateSegmentRequest) (*dto.SegmentResponse, error)
	ListSegments(ctx context.Context, req *dto.ListSegmentsRequest) (*dto.ListSegmentsResponse, error)
	GetSegment(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error)
	UpdateSegment(ctx context.Context, req *dto.UpdateSegmentRequest) (*dto.SegmentResponse, error)
	DeleteSegment(ctx context.Context, cashboxID int64, segmentID uint) error
	RefreshSegment(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error)
	ToggleArchive(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error)
	SegmentMembers(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentMembersResponse, error)
	ExportSegmentMembers(ctx context.Context, cashboxID int64, segmentID uint) (string, []byte, error)
}

// SegmentTrigger schedules and aborts recomputations
type SegmentTrigger interface {
	Enqueue(segmentID uint) error
	Cancel(segmentID uint) bool
}

// ActionValidator rejects actions documents the dispatcher cannot run
type ActionValidator interface {
	Validate(raw json.RawMessage) error
}

type SegmentFlowImpl struct {
	segmentRepo  repository.SegmentRepository
	snapshotRepo repository.SegmentSnapshotRepository
	contragents  repository.ContragentRepository
	actions      ActionValidator
	trigger      SegmentTrigger
	exportLimit  int
	logger       *log.Logger
}

func NewSegmentFlow(
	segmentRepo repository.SegmentRepository,
	snapshotRepo repository.SegmentSnapshotRepository,
	contragents repository.ContragentRepository,
	actions ActionValidator,
	trigger SegmentTrigger,
	exportLimit int,
	logger *log.Logger,
) SegmentFlow {
	return &SegmentFlowImpl{
		segmentRepo:  segmentRepo,
		snapshotRepo: snapshotRepo,
		contragents:  contragents,
		actions:      actions,
		trigger:      trigger,
		exportLimit:  exportLimit,
		logger:       logger,
	}
}

var emptyCriteria = json.RawMessage(`{}`)

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (f *SegmentFlowImpl) compileCriteria(raw json.RawMessage) (json.RawMessage, error) {
	if isNullJSON(raw) {
		return emptyCriteria, nil
	}
	if _, err := segmentation.Compile(raw); err != nil {
		return nil, NewBusinessError("INVALID_CRITERIA", "Criteria could not be compiled", fmt.Errorf("%w: %w", ErrInvalidCriteria, err))
	}
	return raw, nil
}

// validateActions returns nil for an absent or null document
func (f *SegmentFlowImpl) validateActions(raw json.RawMessage) (datatypes.JSON, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	if err := f.actions.Validate(raw); err != nil {
		return nil, NewBusinessError("INVALID_ACTIONS", "Actions are invalid", fmt.Errorf("%w: %w", ErrInvalidActions, err))
	}
	return datatypes.JSON(raw), nil
}

func encodeUpdateSettings(s *dto.SegmentUpdateSettings) (datatypes.JSON, error) {
	if s == nil {
		return nil, nil
	}
	if s.IntervalMinutes < 0 {
		return nil, NewBusinessError("INVALID_UPDATE_SETTINGS", "Interval must not be negative", ErrInvalidUpdateSettings)
	}
	b, err := json.Marshal(models.SegmentUpdateSettings{IntervalMinutes: s.IntervalMinutes})
	if err != nil {
		return nil, NewBusinessError("INVALID_UPDATE_SETTINGS", "Update settings could not be encoded", err)
	}
	return datatypes.JSON(b), nil
}

func parseUpdateType(v string) (models.SegmentUpdateType, error) {
	switch models.SegmentUpdateType(v) {
	case "":
		return models.SegmentUpdatePeriodic, nil
	case models.SegmentUpdateManual, models.SegmentUpdatePeriodic:
		return models.SegmentUpdateType(v), nil
	}
	return "", NewBusinessErrorf("INVALID_UPDATE_TYPE", "Unknown type of update %q", ErrInvalidUpdateType, v)
}

// schedule hands the segment to the queue; a refused trigger is picked up again on the next start
func (f *SegmentFlowImpl) schedule(segmentID uint) {
	if err := f.trigger.Enqueue(segmentID); err != nil {
		f.logger.Printf("enqueue segment %d failed: %v", segmentID, err)
	}
}

func (f *SegmentFlowImpl) loadOwned(ctx context.Context, cashboxID int64, segmentID uint) (*models.Segment, error) {
	seg, err := f.segmentRepo.ByIDAndCashbox(ctx, segmentID, cashboxID)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LOAD_FAILED", "Failed to load segment", err)
	}
	if seg == nil {
		return nil, NewBusinessError("SEGMENT_NOT_FOUND", "Segment not found", ErrSegmentNotFound)
	}
	return seg, nil
}

// CreateSegment stores a compiled-clean definition as in_process and schedules its first run
func (f *SegmentFlowImpl) CreateSegment(ctx context.Context, req *dto.CreateSegmentRequest) (*dto.SegmentResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, NewBusinessError("SEGMENT_NAME_REQUIRED", "Segment name is required", ErrSegmentNameRequired)
	}
	criteria, err := f.compileCriteria(req.Criteria)
	if err != nil {
		return nil, err
	}
	actions, err := f.validateActions(req.Actions)
	if err != nil {
		return nil, err
	}
	updateType, err := parseUpdateType(req.TypeOfUpdate)
	if err != nil {
		return nil, err
	}
	settings, err := encodeUpdateSettings(req.UpdateSettings)
	if err != nil {
		return nil, err
	}

	now := utils.UTCNow()
	seg := &models.Segment{
		CashboxID:      req.CashboxID,
		Name:           name,
		Criteria:       datatypes.JSON(criteria),
		Actions:        actions,
		Status:         models.SegmentStatusInProcess,
		TypeOfUpdate:   updateType,
		UpdateSettings: settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.segmentRepo.Save(ctx, seg); err != nil {
		return nil, NewBusinessError("SEGMENT_CREATE_FAILED", "Failed to create segment", err)
	}
	f.schedule(seg.ID)

	return &dto.SegmentResponse{
		Message: "Segment created successfully",
		Segment: toSegmentItem(seg),
	}, nil
}

func (f *SegmentFlowImpl) ListSegments(ctx context.Context, req *dto.ListSegmentsRequest) (*dto.ListSegmentsResponse, error) {
	page := req.Page
	if page < 0 {
		return nil, NewBusinessError("INVALID_PAGE", "Page must not be negative", ErrInvalidPage)
	}
	if page == 0 {
		page = 1
	}
	limit := req.Limit
	if limit < 0 || limit > 100 {
		return nil, NewBusinessError("INVALID_PAGE_SIZE", "Limit must be between 1 and 100", ErrInvalidPageSize)
	}
	if limit == 0 {
		limit = 20
	}

	filter := models.SegmentFilter{
		CashboxID:  &req.CashboxID,
		IsDeleted:  utils.ToPtr(false),
		IsArchived: req.IsArchived,
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		filter.Name = utils.ToPtr(strings.TrimSpace(*req.Name))
	}
	if req.Status != nil {
		status := models.SegmentStatus(*req.Status)
		filter.Status = &status
	}

	total, err := f.segmentRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LIST_FAILED", "Failed to count segments", err)
	}
	rows, err := f.segmentRepo.ByFilter(ctx, filter, "id DESC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("SEGMENT_LIST_FAILED", "Failed to list segments", err)
	}

	items := make([]dto.SegmentItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, toSegmentItem(r))
	}

	return &dto.ListSegmentsResponse{
		Message: "Segments retrieved successfully",
		Items:   items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		},
	}, nil
}

func (f *SegmentFlowImpl) GetSegment(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error) {
	seg, err := f.loadOwned(ctx, cashboxID, segmentID)
	if err != nil {
		return nil, err
	}
	return &dto.SegmentResponse{
		Message: "Segment retrieved successfully",
		Segment: toSegmentItem(seg),
	}, nil
}

// UpdateSegment applies a partial edit. Non-archived segments re-enter in_process and are rescheduled.
func (f *SegmentFlowImpl) UpdateSegment(ctx context.Context, req *dto.UpdateSegmentRequest) (*dto.SegmentResponse, error) {
	if req.Name == nil && len(req.Criteria) == 0 && len(req.Actions) == 0 && req.TypeOfUpdate == nil && req.UpdateSettings == nil {
		return nil, NewBusinessError("SEGMENT_UPDATE_REQUIRED", "At least one field must be provided", ErrSegmentUpdateRequired)
	}
	seg, err := f.loadOwned(ctx, req.CashboxID, req.SegmentID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, NewBusinessError("SEGMENT_NAME_REQUIRED", "Segment name is required", ErrSegmentNameRequired)
		}
		seg.Name = name
	}
	if len(req.Criteria) > 0 {
		criteria, err := f.compileCriteria(req.Criteria)
		if err != nil {
			return nil, err
		}
		seg.Criteria = datatypes.JSON(criteria)
	}
	if len(req.Actions) > 0 {
		actions, err := f.validateActions(req.Actions)
		if err != nil {
			return nil, err
		}
		seg.Actions = actions
	}
	if req.TypeOfUpdate != nil {
		updateType, err := parseUpdateType(*req.TypeOfUpdate)
		if err != nil {
			return nil, err
		}
		seg.TypeOfUpdate = updateType
	}
	if req.UpdateSettings != nil {
		settings, err := encodeUpdateSettings(req.UpdateSettings)
		if err != nil {
			return nil, err
		}
		seg.UpdateSettings = settings
	}
	if !seg.IsArchived {
		seg.Status = models.SegmentStatusInProcess
	}

	if err := f.segmentRepo.Update(ctx, seg); err != nil {
		return nil, NewBusinessError("SEGMENT_UPDATE_FAILED", "Failed to update segment", err)
	}
	if !seg.IsArchived {
		f.schedule(seg.ID)
	}

	return &dto.SegmentResponse{
		Message: "Segment updated successfully",
		Segment: toSegmentItem(seg),
	}, nil
}

// DeleteSegment soft deletes the segment and aborts its running recomputation
func (f *SegmentFlowImpl) DeleteSegment(ctx context.Context, cashboxID int64, segmentID uint) error {
	seg, err := f.loadOwned(ctx, cashboxID, segmentID)
	if err != nil {
		return err
	}
	if err := f.segmentRepo.SoftDelete(ctx, seg.ID); err != nil {
		return NewBusinessError("SEGMENT_DELETE_FAILED", "Failed to delete segment", err)
	}
	if f.trigger.Cancel(seg.ID) {
		f.logger.Printf("segment %d deleted, running recomputation cancelled", seg.ID)
	}
	return nil
}

func (f *SegmentFlowImpl) RefreshSegment(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error) {
	seg, err := f.loadOwned(ctx, cashboxID, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.IsArchived {
		return nil, NewBusinessError("SEGMENT_ARCHIVED", "Archived segments are not recomputed", ErrSegmentArchived)
	}
	if err := f.segmentRepo.MarkInProcess(ctx, seg.ID); err != nil {
		return nil, NewBusinessError("SEGMENT_REFRESH_FAILED", "Failed to refresh segment", err)
	}
	seg.Status = models.SegmentStatusInProcess
	f.schedule(seg.ID)

	return &dto.SegmentResponse{
		Message: "Segment refresh scheduled",
		Segment: toSegmentItem(seg),
	}, nil
}

// ToggleArchive flips is_archived. Archiving cancels a running task; unarchiving schedules a fresh run.
func (f *SegmentFlowImpl) ToggleArchive(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentResponse, error) {
	seg, err := f.loadOwned(ctx, cashboxID, segmentID)
	if err != nil {
		return nil, err
	}
	archived := !seg.IsArchived
	if err := f.segmentRepo.SetArchived(ctx, seg.ID, archived); err != nil {
		return nil, NewBusinessError("SEGMENT_ARCHIVE_FAILED", "Failed to change archive state", err)
	}
	seg.IsArchived = archived

	message := "Segment archived"
	if archived {
		f.trigger.Cancel(seg.ID)
	} else {
		if err := f.segmentRepo.MarkInProcess(ctx, seg.ID); err != nil {
			return nil, NewBusinessError("SEGMENT_ARCHIVE_FAILED", "Failed to change archive state", err)
		}
		seg.Status = models.SegmentStatusInProcess
		f.schedule(seg.ID)
		message = "Segment unarchived"
	}

	return &dto.SegmentResponse{
		Message: message,
		Segment: toSegmentItem(seg),
	}, nil
}

func (f *SegmentFlowImpl) latestSnapshot(ctx context.Context, cashboxID int64, segmentID uint) (*models.Segment, *models.SegmentSnapshot, error) {
	seg, err := f.loadOwned(ctx, cashboxID, segmentID)
	if err != nil {
		return nil, nil, err
	}
	snap, err := f.snapshotRepo.Latest(ctx, seg.ID)
	if err != nil {
		return nil, nil, NewBusinessError("SNAPSHOT_LOAD_FAILED", "Failed to load segment members", err)
	}
	if snap == nil {
		return nil, nil, NewBusinessError("SNAPSHOT_NOT_FOUND", "Segment has not been computed yet", ErrSnapshotNotFound)
	}
	return seg, snap, nil
}

func (f *SegmentFlowImpl) SegmentMembers(ctx context.Context, cashboxID int64, segmentID uint) (*dto.SegmentMembersResponse, error) {
	seg, snap, err := f.latestSnapshot(ctx, cashboxID, segmentID)
	if err != nil {
		return nil, err
	}
	return &dto.SegmentMembersResponse{
		Message:       "Segment members retrieved successfully",
		SegmentID:     seg.ID,
		CorrelationID: snap.CorrelationID,
		ComputedAt:    snap.CreatedAt.UTC().Format(time.RFC3339),
		DocumentIDs:   nonNil(snap.DocumentIDs),
		ContragentIDs: nonNil(snap.ContragentIDs),
	}, nil
}

// ExportSegmentMembers renders the latest snapshot as a workbook with one sheet per entity
func (f *SegmentFlowImpl) ExportSegmentMembers(ctx context.Context, cashboxID int64, segmentID uint) (string, []byte, error) {
	seg, snap, err := f.latestSnapshot(ctx, cashboxID, segmentID)
	if err != nil {
		return "", nil, err
	}
	if f.exportLimit > 0 && (len(snap.DocumentIDs) > f.exportLimit || len(snap.ContragentIDs) > f.exportLimit) {
		return "", nil, NewBusinessErrorf("EXPORT_TOO_LARGE", "Segment has more than %d members", ErrExportTooLarge, f.exportLimit)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const summarySheet = "summary"
	xl.SetSheetName(xl.GetSheetName(0), summarySheet)
	summary := [][]any{
		{"segment_id", seg.ID},
		{"name", seg.Name},
		{"status", string(seg.Status)},
		{"correlation_id", snap.CorrelationID},
		{"computed_at", snap.CreatedAt.UTC().Format(time.RFC3339)},
		{"contragents_count", len(snap.ContragentIDs)},
		{"docs_count", len(snap.DocumentIDs)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cell, &row); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
		}
	}

	people, err := f.contragents.ByIDs(ctx, cashboxID, snap.ContragentIDs)
	if err != nil {
		return "", nil, NewBusinessError("CONTRAGENT_LOOKUP_FAILED", "Failed to load segment contragents", err)
	}
	byID := make(map[int64]*models.Contragent, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	contragentRows := make([][]any, 0, len(snap.ContragentIDs))
	for _, id := range snap.ContragentIDs {
		// contragents removed since the snapshot keep their id only
		if p, ok := byID[id]; ok {
			contragentRows = append(contragentRows, []any{id, p.Name, p.Phone})
			continue
		}
		contragentRows = append(contragentRows, []any{id})
	}
	if err := writeSheet(xl, "contragents", []any{"contragent_id", "name", "phone"}, contragentRows); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	documentRows := make([][]any, 0, len(snap.DocumentIDs))
	for _, id := range snap.DocumentIDs {
		documentRows = append(documentRows, []any{id})
	}
	if err := writeSheet(xl, "documents", []any{"document_id"}, documentRows); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := "segment_" + strconv.FormatUint(uint64(seg.ID), 10) + "_members.xlsx"
	return filename, buf.Bytes(), nil
}

func writeSheet(xl *excelize.File, sheet string, header []any, rows [][]any) error {
	if _, err := xl.NewSheet(sheet); err != nil {
		return err
	}
	sw, err := xl.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// rawOrNil maps both an empty column and a scanned NULL to an absent field
func rawOrNil(j datatypes.JSON) json.RawMessage {
	if isNullJSON(json.RawMessage(j)) {
		return nil
	}
	return json.RawMessage(j)
}

func toSegmentItem(s *models.Segment) dto.SegmentItem {
	item := dto.SegmentItem{
		ID:                      s.ID,
		Name:                    s.Name,
		Criteria:                rawOrNil(s.Criteria),
		Actions:                 rawOrNil(s.Actions),
		Status:                  string(s.Status),
		TypeOfUpdate:            string(s.TypeOfUpdate),
		UpdateSettings:          rawOrNil(s.UpdateSettings),
		IsArchived:              s.IsArchived,
		ContragentsCount:        s.ContragentsCount,
		AddedContragentsCount:   s.AddedContragentsCount,
		DeletedContragentsCount: s.DeletedContragentsCount,
		EnteredContragentsCount: s.EnteredContragentsCount,
		ExitedContragentsCount:  s.ExitedContragentsCount,
		DocsCount:               s.DocsCount,
		AddedDocsCount:          s.AddedDocsCount,
		DeletedDocsCount:        s.DeletedDocsCount,
		CreatedAt:               s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:               s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.RecalculatedAt != nil {
		item.RecalculatedAt = utils.ToPtr(s.RecalculatedAt.UTC().Format(time.RFC3339))
	}
	return item
}
