package customers

import "prospectcrm/internal/domain/progression"

// The customer area shares the progression sentinels so handlers map both the
// same way.
var (
	ErrValidation = progression.ErrValidation
	ErrForbidden  = progression.ErrForbidden
	ErrNotFound   = progression.ErrNotFound
	ErrConflict   = progression.ErrConflict
)
