package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/chain"
	"github.com/upendohq/idhini/internal/metadata"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/model"
)

// assignmentResponse is returned for an accepted reassignment. Descriptor
// carries the re-read screen state when the refresh succeeded.
type assignmentResponse struct {
	WorkflowID string                    `json:"workflow_id"`
	Message    string                    `json:"message,omitempty"`
	Refreshed  bool                      `json:"refreshed"`
	Descriptor *model.ApprovalDescriptor `json:"descriptor,omitempty"`
	Warnings   []model.Warning           `json:"warnings,omitempty"`
}

// HandleAssignment reassigns the technician or vendor on an open workflow.
//
// PUT /ui/approvals/{workflowId}/assignment
func (h *Handlers) HandleAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)
	logger := observability.RequestLogger(ctx, h.logger)

	workflowID := chi.URLParam(r, "workflowId")
	if workflowID == "" {
		WriteError(w, model.NewBadRequestError("workflow id is required"))
		return
	}

	var upd model.AssignmentUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if upd.TechnicianID == "" && upd.VendorID == "" {
		WriteError(w, model.NewValidationError(model.FieldError{
			Field:   "technician_id",
			Code:    "REQUIRED",
			Message: "Either technician_id or vendor_id must be provided",
		}))
		return
	}

	detail, err := h.backend.Detail(ctx, rctx, workflowID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if model.HeaderClosed(detail.Header.Status) {
		WriteError(w, model.NewWorkflowClosedError(workflowID, detail.Header.Status))
		return
	}

	ack, err := h.backend.UpdateAssignment(ctx, rctx, workflowID, upd)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !ack.Success {
		WriteError(w, model.NewBackendRejectedError(ack.Message))
		return
	}

	// The assignment changed the authoritative state; cached pools for
	// this tenant may now be stale.
	h.lookups.Invalidate(rctx.TenantID)

	resp := assignmentResponse{
		WorkflowID: workflowID,
		Message:    ack.Message,
	}

	refreshed, rerr := h.backend.Detail(ctx, rctx, workflowID)
	if rerr != nil {
		logger.Warn("post-assignment refresh failed",
			zap.String("workflow_id", workflowID), zap.Error(rerr))
		resp.Warnings = append(resp.Warnings, model.Warning{
			Code:    model.WarnRefreshFailed,
			Message: "The assignment was recorded but the view could not be refreshed",
		})
	} else {
		steps := chain.Normalize(refreshed.Header, refreshed.Steps, rctx.Roles)
		descriptor := metadata.BuildDescriptor(refreshed.Header, steps, rctx.Roles,
			h.technicianPool(r, refreshed.Header))
		resp.Descriptor = &descriptor
		resp.Refreshed = true
	}

	logger.Info("assignment updated",
		zap.String("workflow_id", workflowID),
		zap.Bool("refreshed", resp.Refreshed),
	)
	WriteJSON(w, http.StatusOK, resp)
}
