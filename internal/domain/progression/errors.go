package progression

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrTransientStore  = errors.New("store unavailable")
	ErrInvalidState    = errors.New("invalid state")
	ErrStageIncomplete = errors.New("stage incomplete")
	ErrSummaryRequired = errors.New("summary required")
)
