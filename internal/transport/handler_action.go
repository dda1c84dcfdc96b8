package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/action"
	"github.com/upendohq/idhini/internal/chain"
	"github.com/upendohq/idhini/internal/metadata"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/model"
)

// actionBody is the request body for approve and reject submissions.
type actionBody struct {
	StepID       string `json:"step_id,omitempty"`
	Comments     string `json:"comments"`
	TechnicianID string `json:"technician_id,omitempty"`
}

// actionResponse is returned for an accepted action. Descriptor and History
// carry the re-read state; Refreshed=false means the caller's view is stale
// and should be reloaded.
type actionResponse struct {
	ActionID   string                    `json:"action_id"`
	Action     string                    `json:"action"`
	WorkflowID string                    `json:"workflow_id"`
	StepID     string                    `json:"step_id"`
	Message    string                    `json:"message,omitempty"`
	Refreshed  bool                      `json:"refreshed"`
	Descriptor *model.ApprovalDescriptor `json:"descriptor,omitempty"`
	History    []model.HistoryRecord     `json:"history,omitempty"`
	Warnings   []model.Warning           `json:"warnings,omitempty"`
}

// HandleApprove submits an approval for the current step.
//
// POST /ui/approvals/{workflowId}/approve
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, model.ActionApprove)
}

// HandleReject submits a rejection for the current step.
//
// POST /ui/approvals/{workflowId}/reject
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, model.ActionReject)
}

func (h *Handlers) handleAction(w http.ResponseWriter, r *http.Request, kind string) {
	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)
	logger := observability.RequestLogger(ctx, h.logger)

	workflowID := chi.URLParam(r, "workflowId")
	if workflowID == "" {
		WriteError(w, model.NewBadRequestError("workflow id is required"))
		return
	}

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}

	detail, err := h.backend.Detail(ctx, rctx, workflowID)
	if err != nil {
		WriteError(w, err)
		return
	}

	snapshot := action.Snapshot{
		Header:      detail.Header,
		Steps:       detail.Steps,
		Technicians: h.technicianPool(r, detail.Header),
	}
	req := model.ActionRequest{
		Action:         kind,
		WorkflowID:     workflowID,
		StepID:         body.StepID,
		Comments:       body.Comments,
		TechnicianID:   body.TechnicianID,
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
	}

	outcome, err := h.dispatcher.Dispatch(ctx, rctx, snapshot, req)
	if err != nil {
		WriteError(w, err)
		return
	}

	logger.Info("action accepted",
		zap.String("workflow_id", workflowID),
		zap.String("action", kind),
		zap.String("action_id", outcome.ActionID),
		zap.Bool("refreshed", outcome.Refreshed),
	)
	WriteJSON(w, http.StatusOK, h.actionResponse(r, rctx, outcome))
}

// actionResponse folds the dispatch outcome into the wire response,
// rebuilding the screen descriptor from the re-read state when available.
func (h *Handlers) actionResponse(r *http.Request, rctx *model.RequestContext, outcome action.Outcome) actionResponse {
	resp := actionResponse{
		ActionID:   outcome.ActionID,
		Action:     outcome.Action,
		WorkflowID: outcome.WorkflowID,
		StepID:     outcome.StepID,
		Message:    outcome.Message,
		Refreshed:  outcome.Refreshed,
		History:    outcome.History,
		Warnings:   outcome.Warnings,
	}

	if outcome.Detail != nil {
		steps := chain.Normalize(outcome.Detail.Header, outcome.Detail.Steps, rctx.Roles)
		technicians := h.technicianPool(r, outcome.Detail.Header)
		descriptor := metadata.BuildDescriptor(outcome.Detail.Header, steps, rctx.Roles, technicians)
		resp.Descriptor = &descriptor
	}
	return resp
}
