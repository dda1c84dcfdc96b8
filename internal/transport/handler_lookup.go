package transport

import (
	"net/http"

	"github.com/upendohq/idhini/model"
)

// lookupResponse is the technician lookup payload.
type lookupResponse struct {
	Technicians []model.Technician `json:"technicians"`
}

// HandleTechnicianLookup serves the eligible technician pool for an asset
// type, optionally filtered by name.
//
// GET /ui/lookups/technicians?asset_type_id=...&q=...
func (h *Handlers) HandleTechnicianLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rctx := model.MustRequestContext(ctx)

	assetTypeID := r.URL.Query().Get("asset_type_id")
	if assetTypeID == "" {
		WriteError(w, model.NewValidationError(model.FieldError{
			Field:   "asset_type_id",
			Code:    "REQUIRED",
			Message: "asset_type_id query parameter is required",
		}))
		return
	}
	query := r.URL.Query().Get("q")

	technicians, err := h.lookups.Technicians(ctx, rctx, assetTypeID, query)
	if err != nil {
		WriteError(w, err)
		return
	}

	if technicians == nil {
		technicians = []model.Technician{}
	}
	WriteJSON(w, http.StatusOK, lookupResponse{Technicians: technicians})
}
