// Package businessflow contains the use cases behind the segment API
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Segment-related errors
	ErrSegmentNotFound       = errors.New("segment not found")
	ErrSegmentNameRequired   = errors.New("segment name is required")
	ErrSegmentArchived       = errors.New("segment is archived")
	ErrInvalidCriteria       = errors.New("invalid criteria")
	ErrInvalidActions        = errors.New("invalid actions")
	ErrInvalidUpdateType     = errors.New("invalid type of update")
	ErrInvalidUpdateSettings = errors.New("invalid update settings")
	ErrSegmentUpdateRequired = errors.New("at least one field must be provided for update")
	ErrSnapshotNotFound      = errors.New("segment has no committed snapshot")
	ErrExportTooLarge        = errors.New("segment is too large to export")

	// Pagination errors
	ErrInvalidPage     = errors.New("invalid page")
	ErrInvalidPageSize = errors.New("invalid page size")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsSegmentNotFound(err error) bool {
	return errors.Is(err, ErrSegmentNotFound)
}

func IsSegmentNameRequired(err error) bool {
	return errors.Is(err, ErrSegmentNameRequired)
}

func IsSegmentArchived(err error) bool {
	return errors.Is(err, ErrSegmentArchived)
}

func IsInvalidCriteria(err error) bool {
	return errors.Is(err, ErrInvalidCriteria)
}

func IsInvalidActions(err error) bool {
	return errors.Is(err, ErrInvalidActions)
}

func IsInvalidUpdateType(err error) bool {
	return errors.Is(err, ErrInvalidUpdateType)
}

func IsInvalidUpdateSettings(err error) bool {
	return errors.Is(err, ErrInvalidUpdateSettings)
}

func IsSegmentUpdateRequired(err error) bool {
	return errors.Is(err, ErrSegmentUpdateRequired)
}

func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}

func IsExportTooLarge(err error) bool {
	return errors.Is(err, ErrExportTooLarge)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}
