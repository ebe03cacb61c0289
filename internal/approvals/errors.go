package approvals

import "errors"

// Error taxonomy. Handlers map these to HTTP status codes; services wrap
// them with context via fmt.Errorf("...: %w", err).
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInactiveWorkflow       = errors.New("workflow is not active")
	ErrInvalidState           = errors.New("request state does not permit this operation")
	ErrUnauthorizedAction     = errors.New("actor is not the current approver")
	ErrActionNotAllowed       = errors.New("action type not allowed at this step")
	ErrConcurrentModification = errors.New("request was modified concurrently")
	ErrApproverResolution     = errors.New("could not resolve an approver for the step")
)
