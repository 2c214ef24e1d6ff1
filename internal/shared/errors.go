package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTenantMissing occurs when a request carries no tenant id.
	ErrTenantMissing = errors.New("tenant not resolved")
	// ErrOperatorMissing occurs when a request carries no operator id.
	ErrOperatorMissing = errors.New("operator not resolved")
)
