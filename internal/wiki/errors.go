package wiki

import "errors"

// Sentinel errors for the store and service layers. Callers classify
// failures with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrNotFound reports a missing bag, recipe, tiddler, role or grant.
	ErrNotFound = errors.New("not found")

	// ErrValidation reports input rejected before any store mutation:
	// a bad name, a missing title, or mutually exclusive text and
	// attachment payloads.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied reports a failed access-control check.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInUse reports a delete attempt on an entity with dependents.
	ErrInUse = errors.New("entity in use")

	// ErrComposition reports a recipe unusable for the operation: no
	// layers, or no writable layer at position 0.
	ErrComposition = errors.New("recipe composition invalid")
)
