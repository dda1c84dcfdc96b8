package model

import "context"

// Action kinds accepted by the dispatcher.
const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)

// ActionRequest is a validated Approve/Reject submission. Comments are
// mandatory; TechnicianID is required in the cases described by the
// dispatcher's validation rules.
type ActionRequest struct {
	Action         string `json:"action"`
	WorkflowID     string `json:"workflow_id"`
	StepID         string `json:"step_id"`
	Comments       string `json:"comments"`
	TechnicianID   string `json:"technician_id,omitempty"`
	IdempotencyKey string `json:"-"`
}

// ActionAck is the backend's answer to an action submission. Success=false
// with a message is a business rejection, not a transport failure.
type ActionAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AssignmentUpdate reassigns a technician or vendor mid-flow.
type AssignmentUpdate struct {
	TechnicianID string `json:"technician_id,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
}

// Warning is a non-fatal data-integrity finding surfaced to the UI as an
// inline banner. Blocking warnings disable Approve until resolved but never
// block read-only viewing.
type Warning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// Warning codes.
const (
	WarnNoTechnicians  = "NO_TECHNICIANS_AVAILABLE"
	WarnVendorInactive = "VENDOR_INACTIVE"
	WarnRefreshFailed  = "REFRESH_FAILED"
)

// AssetService is the full backend contract this process depends on. The
// asset service is the sole source of truth; every mutation is followed by
// a full re-read rather than a local patch.
type AssetService interface {
	Detail(ctx context.Context, rctx *RequestContext, workflowID string) (WorkflowDetail, error)
	History(ctx context.Context, rctx *RequestContext, workflowID string) ([]HistoryRecord, error)
	Technicians(ctx context.Context, rctx *RequestContext, assetTypeID string) ([]Technician, error)
	SubmitAction(ctx context.Context, rctx *RequestContext, req ActionRequest) (ActionAck, error)
	UpdateAssignment(ctx context.Context, rctx *RequestContext, workflowID string, upd AssignmentUpdate) (ActionAck, error)
}
