package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upendohq/idhini/internal/action"
	"github.com/upendohq/idhini/internal/chain"
	"github.com/upendohq/idhini/internal/lookup"
	"github.com/upendohq/idhini/internal/metadata"
	"github.com/upendohq/idhini/internal/observability"
	"github.com/upendohq/idhini/model"
)

// Handlers holds the dependencies shared by all approval endpoints.
type Handlers struct {
	backend    model.AssetService
	dispatcher *action.Dispatcher
	lookups    *lookup.TechnicianProvider
	logger     *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(backend model.AssetService, dispatcher *action.Dispatcher, lookups *lookup.TechnicianProvider, logger *zap.Logger) *Handlers {
	return &Handlers{
		backend:    backend,
		dispatcher: dispatcher,
		lookups:    lookups,
		logger:     logger,
	}
}

// HandleApprovalDetail serves the full approval screen payload for one
// workflow: the normalized chain plus the presentation metadata derived
// from it and from the caller's roles.
//
// GET /ui/approvals/{workflowId}
func (h *Handlers) HandleApprovalDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)
	logger := observability.RequestLogger(ctx, h.logger)

	workflowID := chi.URLParam(r, "workflowId")
	if workflowID == "" {
		WriteError(w, model.NewBadRequestError("workflow id is required"))
		return
	}

	detail, err := h.backend.Detail(ctx, rctx, workflowID)
	if err != nil {
		WriteError(w, err)
		return
	}

	technicians := h.technicianPool(r, detail.Header)

	steps := chain.Normalize(detail.Header, detail.Steps, rctx.Roles)
	descriptor := metadata.BuildDescriptor(detail.Header, steps, rctx.Roles, technicians)

	logger.Debug("approval detail served",
		zap.String("workflow_id", workflowID),
		zap.Int("steps", len(steps)),
		zap.Bool("can_act", descriptor.CanAct),
	)
	WriteJSON(w, http.StatusOK, descriptor)
}

// HandleApprovalHistory serves the audit trail for one workflow. A failed
// history read degrades to an empty list with an error marker so the
// detail screen still renders.
//
// GET /ui/approvals/{workflowId}/history
func (h *Handlers) HandleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)
	logger := observability.RequestLogger(ctx, h.logger)

	workflowID := chi.URLParam(r, "workflowId")
	if workflowID == "" {
		WriteError(w, model.NewBadRequestError("workflow id is required"))
		return
	}

	records, err := h.backend.History(ctx, rctx, workflowID)
	if err != nil {
		ee := model.AsEnvelope(err)
		logger.Warn("history read failed, degrading to empty trail",
			zap.String("workflow_id", workflowID),
			zap.String("code", ee.Code),
		)
		WriteJSON(w, http.StatusOK, model.HistoryPayload{
			Records: []model.HistoryRecord{},
			Partial: true,
			Error:   ee.Code,
		})
		return
	}

	if records == nil {
		records = []model.HistoryRecord{}
	}
	WriteJSON(w, http.StatusOK, model.HistoryPayload{Records: records})
}

// technicianPool fetches the eligible pool when the workflow's maintenance
// mode calls for one. A pool fetch failure degrades to an empty pool; the
// asset service remains authoritative at submission time.
func (h *Handlers) technicianPool(r *http.Request, header model.WorkflowHeader) []model.Technician {
	if header.MaintenanceMode == "" || header.AssetTypeID == "" {
		return nil
	}

	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)

	technicians, err := h.lookups.Technicians(ctx, rctx, header.AssetTypeID, "")
	if err != nil {
		observability.RequestLogger(ctx, h.logger).Warn("technician pool fetch failed",
			zap.String("workflow_id", header.ID),
			zap.String("asset_type_id", header.AssetTypeID),
			zap.Error(err),
		)
		return nil
	}
	return technicians
}
