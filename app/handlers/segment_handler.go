package handlers

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/segment-engine/app/dto"
	businessflow "github.com/amirphl/segment-engine/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SegmentHandlerInterface defines the contract for segment handlers
type SegmentHandlerInterface interface {
	Create(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Refresh(c fiber.Ctx) error
	Archive(c fiber.Ctx) error
	Members(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// SegmentHandler handles segment-related HTTP requests
type SegmentHandler struct {
	flow      businessflow.SegmentFlow
	validator *validator.Validate
	timeout   time.Duration
	logger    *log.Logger
}

func NewSegmentHandler(flow businessflow.SegmentFlow, logger *log.Logger) *SegmentHandler {
	return &SegmentHandler{
		flow:      flow,
		validator: validator.New(),
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

func cashboxFromLocals(c fiber.Ctx) (int64, bool) {
	id, ok := c.Locals("cashbox_id").(int64)
	return id, ok && id > 0
}

func segmentIDParam(c fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// flowError maps business errors to status codes; anything unknown is a 500
func (h *SegmentHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	var be *businessflow.BusinessError
	if !errors.As(err, &be) {
		h.logger.Printf("%s: %v", fallbackCode, err)
		return errorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
	}
	switch {
	case businessflow.IsSegmentNotFound(err), businessflow.IsSnapshotNotFound(err):
		return errorResponse(c, fiber.StatusNotFound, be.Message, be.Code, nil)
	case businessflow.IsSegmentNameRequired(err),
		businessflow.IsInvalidCriteria(err),
		businessflow.IsInvalidActions(err),
		businessflow.IsInvalidUpdateType(err),
		businessflow.IsInvalidUpdateSettings(err),
		businessflow.IsSegmentUpdateRequired(err),
		businessflow.IsSegmentArchived(err),
		businessflow.IsExportTooLarge(err),
		businessflow.IsInvalidPage(err),
		businessflow.IsInvalidPageSize(err):
		var details any
		if be.Err != nil {
			details = be.Err.Error()
		}
		return errorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, details)
	}
	h.logger.Printf("%s: %v", be.Code, err)
	return errorResponse(c, fiber.StatusInternalServerError, fallbackMessage, be.Code, nil)
}

// Create handles POST /api/v1/segments
func (h *SegmentHandler) Create(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	var req dto.CreateSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CashboxID = cashboxID
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments", h.timeout)
	defer cancel()
	res, err := h.flow.CreateSegment(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to create segment", "SEGMENT_CREATE_FAILED")
	}
	return successResponse(c, fiber.StatusCreated, res.Message, res)
}

// List handles GET /api/v1/segments
func (h *SegmentHandler) List(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	req := dto.ListSegmentsRequest{CashboxID: cashboxID}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid page", "INVALID_PAGE", nil)
		}
		req.Page = page
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid limit", "INVALID_PAGE_SIZE", nil)
		}
		req.Limit = limit
	}
	if v := c.Query("name"); v != "" {
		req.Name = &v
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("is_archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid is_archived", "INVALID_REQUEST", nil)
		}
		req.IsArchived = &archived
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments", h.timeout)
	defer cancel()
	res, err := h.flow.ListSegments(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list segments", "SEGMENT_LIST_FAILED")
	}
	return successResponse(c, fiber.StatusOK, res.Message, res)
}

// Get handles GET /api/v1/segments/:id
func (h *SegmentHandler) Get(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id", h.timeout)
	defer cancel()
	res, err := h.flow.GetSegment(ctx, cashboxID, segmentID)
	if err != nil {
		return h.flowError(c, err, "Failed to get segment", "SEGMENT_GET_FAILED")
	}
	return successResponse(c, fiber.StatusOK, res.Message, res)
}

// Update handles PATCH /api/v1/segments/:id
func (h *SegmentHandler) Update(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}
	var req dto.UpdateSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CashboxID = cashboxID
	req.SegmentID = segmentID
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id", h.timeout)
	defer cancel()
	res, err := h.flow.UpdateSegment(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to update segment", "SEGMENT_UPDATE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, res.Message, res)
}

// Delete handles DELETE /api/v1/segments/:id
func (h *SegmentHandler) Delete(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id", h.timeout)
	defer cancel()
	if err := h.flow.DeleteSegment(ctx, cashboxID, segmentID); err != nil {
		return h.flowError(c, err, "Failed to delete segment", "SEGMENT_DELETE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, "Segment deleted successfully", nil)
}

// Refresh handles POST /api/v1/segments/:id/refresh
func (h *SegmentHandler) Refresh(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id/refresh", h.timeout)
	defer cancel()
	res, err := h.flow.RefreshSegment(ctx, cashboxID, segmentID)
	if err != nil {
		return h.flowError(c, err, "Failed to refresh segment", "SEGMENT_REFRESH_FAILED")
	}
	return successResponse(c, fiber.StatusAccepted, res.Message, res)
}

// Archive handles POST /api/v1/segments/:id/archive and toggles the flag
func (h *SegmentHandler) Archive(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id/archive", h.timeout)
	defer cancel()
	res, err := h.flow.ToggleArchive(ctx, cashboxID, segmentID)
	if err != nil {
		return h.flowError(c, err, "Failed to change archive state", "SEGMENT_ARCHIVE_FAILED")
	}
	return successResponse(c, fiber.StatusOK, res.Message, res)
}

// Members handles GET /api/v1/segments/:id/members
func (h *SegmentHandler) Members(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id/members", h.timeout)
	defer cancel()
	res, err := h.flow.SegmentMembers(ctx, cashboxID, segmentID)
	if err != nil {
		return h.flowError(c, err, "Failed to load segment members", "SNAPSHOT_LOAD_FAILED")
	}
	return successResponse(c, fiber.StatusOK, res.Message, res)
}

// Export handles GET /api/v1/segments/:id/export
func (h *SegmentHandler) Export(c fiber.Ctx) error {
	cashboxID, ok := cashboxFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Cashbox ID not found in context", "MISSING_CASHBOX_ID", nil)
	}
	segmentID, ok := segmentIDParam(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid segment id", "INVALID_SEGMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/segments/:id/export", 2*h.timeout)
	defer cancel()
	filename, data, err := h.flow.ExportSegmentMembers(ctx, cashboxID, segmentID)
	if err != nil {
		return h.flowError(c, err, "Failed to export segment", "EXCEL_WRITE_ERROR")
	}

	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}
