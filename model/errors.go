package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Approval-domain error codes.
const (
	ErrTechnicianRequired = "TECHNICIAN_REQUIRED"
	ErrNoPendingStep      = "NO_PENDING_STEP"
	ErrActionInFlight     = "ACTION_IN_FLIGHT"
	ErrWorkflowClosed     = "WORKFLOW_CLOSED"
	ErrStepUnauthorized   = "STEP_UNAUTHORIZED"
	ErrVendorInactive     = "VENDOR_INACTIVE"
	ErrBackendRejected    = "BACKEND_REJECTED"
)

// ErrorEnvelope is the standard error response envelope returned to the
// front end. It implements the error interface; every failure that crosses
// a handler boundary is one of these.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details ...FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewTechnicianRequiredError returns a TECHNICIAN_REQUIRED error.
func NewTechnicianRequiredError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTechnicianRequired,
		Message: "A technician must be selected before this workflow can be approved",
	}
}

// NewNoPendingStepError returns a NO_PENDING_STEP error.
func NewNoPendingStepError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoPendingStep,
		Message: fmt.Sprintf("workflow %q has no step awaiting action", workflowID),
	}
}

// NewActionInFlightError returns an ACTION_IN_FLIGHT error.
func NewActionInFlightError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrActionInFlight,
		Message: fmt.Sprintf("another action on workflow %q is still in flight", workflowID),
	}
}

// NewWorkflowClosedError returns a WORKFLOW_CLOSED error.
func NewWorkflowClosedError(workflowID, status string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowClosed,
		Message: fmt.Sprintf("workflow %q is %s and accepts no further actions", workflowID, status),
	}
}

// NewStepUnauthorizedError returns a STEP_UNAUTHORIZED error.
func NewStepUnauthorizedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStepUnauthorized,
		Message: "The current step is not awaiting approval from any of your roles",
	}
}

// NewVendorInactiveError returns a VENDOR_INACTIVE error.
func NewVendorInactiveError(vendorName string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrVendorInactive,
		Message: fmt.Sprintf("vendor %q is inactive; reassign before approving", vendorName),
	}
}

// NewBackendRejectedError surfaces a success=false backend response. The
// backend message is passed through verbatim when present.
func NewBackendRejectedError(message string) *ErrorEnvelope {
	if message == "" {
		message = "The request was rejected by the asset service"
	}
	return &ErrorEnvelope{Code: ErrBackendRejected, Message: message}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The asset service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The asset service did not respond in time",
	}
}

// AsEnvelope coerces any error into an *ErrorEnvelope, wrapping unknown
// errors as INTERNAL_ERROR so nothing leaks raw error text to the UI.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*ErrorEnvelope); ok {
		return ee
	}
	return NewInternalError()
}
