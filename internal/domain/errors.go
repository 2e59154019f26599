// Package domain defines core entities, ports, and domain-specific errors.
package domain

import "errors"

// Error taxonomy (sentinels). Adapters wrap these with "op=<pkg>.<verb>: %w" at the
// point of failure; callers compare with errors.Is against the sentinel.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrExternalUnavailable = errors.New("external collaborator unavailable")
	ErrSchemaInvalid       = errors.New("schema invalid")
	ErrToolFailure         = errors.New("tool failure")
	ErrInternal            = errors.New("internal error")

	// Analytics validation errors.
	ErrFeatureUnsupported = errors.New("feature unsupported")
	ErrFieldUnsupported   = errors.New("field unsupported")
	ErrBadRange           = errors.New("bad range")

	// Pipeline validator errors.
	ErrForbiddenStage  = errors.New("forbidden stage")
	ErrForbiddenLookup = errors.New("forbidden lookup")

	// Crawler errors.
	ErrMissingRequiredColumn = errors.New("missing required column")
	ErrAmbiguousHeaderColumn = errors.New("ambiguous header column")
)
