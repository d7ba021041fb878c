package service

import "errors"

// Errors returned by the deletion service layer. Handlers map these onto
// problem responses; the orchestrator maps them onto terminal queue states.
var (
	// ErrNotFound indicates the tenant or queue item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBlockedLegalHold means an active legal hold forbids deletion.
	ErrBlockedLegalHold = errors.New("tenant has an active legal hold")

	// ErrBlockedSharedResources means the tenant owns resources shared with
	// other tenants; those must be transferred or detached first.
	ErrBlockedSharedResources = errors.New("tenant owns resources shared with other tenants")

	// ErrDeletionInProgress means a deletion request is already in flight for
	// the tenant.
	ErrDeletionInProgress = errors.New("a deletion request is already in flight for this tenant")

	// ErrInvalidState means the operation is not valid in the item's current
	// lifecycle or approval state.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrSelfApproval enforces the two-person rule.
	ErrSelfApproval = errors.New("requester cannot approve their own deletion request")

	// ErrCoolingOffNotElapsed is time-based and self-resolving; callers should
	// retry after the remaining hours stated in the wrapped message.
	ErrCoolingOffNotElapsed = errors.New("cooling-off period has not elapsed")
)
