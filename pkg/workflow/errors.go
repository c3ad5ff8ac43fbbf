package workflow

import "errors"

var (
	// ErrNotFound is returned when the referenced workflow does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrIllegalTransition is returned when the event is not legal for the
	// workflow's current state. The state and history are left untouched.
	ErrIllegalTransition = errors.New("illegal workflow transition")

	// ErrStateConflict is returned when a concurrent transition committed
	// first. The caller may reload and retry with fresh state.
	ErrStateConflict = errors.New("workflow state changed concurrently")

	// ErrDuplicateWorkflow is returned when a workflow already exists for the
	// (entityID, entityType) pair.
	ErrDuplicateWorkflow = errors.New("workflow already exists for entity")

	// ErrCommentRequired is returned for REJECT and REQUIRE_EDIT without a
	// comment explaining the decision.
	ErrCommentRequired = errors.New("comment is required for this event")

	// ErrRoleNotAllowed is returned when the caller's role may not issue the
	// event. The role itself is an opaque upstream-verified string.
	ErrRoleNotAllowed = errors.New("role is not allowed to perform this event")

	// ErrDeadlineExceeded is returned for review decisions issued after the
	// workflow's review deadline lapsed.
	ErrDeadlineExceeded = errors.New("review deadline exceeded")
)
