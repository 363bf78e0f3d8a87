package handler

import (
	"fmt"
	"net/http"

	"github.com/rxledger/pharmacy-backend/internal/purchase/service"
	"github.com/rxledger/pharmacy-backend/pkg/httputil"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
)

// CleanupHandler handles retention cleanup endpoints. When dryRun is
// configured, the run endpoint previews instead of mutating.
type CleanupHandler struct {
	cleanup *service.CleanupEngine
	dryRun  bool
	logger  *logger.Logger
}

// NewCleanupHandler creates a new cleanup handler
func NewCleanupHandler(cleanup *service.CleanupEngine, dryRun bool, log *logger.Logger) *CleanupHandler {
	return &CleanupHandler{
		cleanup: cleanup,
		dryRun:  dryRun,
		logger:  log,
	}
}

type runCleanupRequest struct {
	PharmacyID string `json:"pharmacy_id" validate:"omitempty,uuid"`
}

// Run triggers a retention cleanup, scoped to one pharmacy when a
// pharmacy_id is given, otherwise across all pharmacies. An empty
// request body is allowed.
func (h *CleanupHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runCleanupRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(&req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	if h.dryRun {
		preview, err := h.cleanup.DryRun(r.Context(), req.PharmacyID)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, &service.CleanupResult{
			Success:          true,
			Message:          fmt.Sprintf("dry run: %d expired batches would be purged", len(preview.Batches)),
			CutoffDate:       preview.CutoffDate,
			BatchesProcessed: len(preview.Batches),
			Stats:            preview.Stats,
		})
		return
	}

	result := h.cleanup.Run(r.Context(), req.PharmacyID)
	httputil.JSON(w, http.StatusOK, result)
}

// Preview reports what a cleanup run would purge without mutating
// anything
func (h *CleanupHandler) Preview(w http.ResponseWriter, r *http.Request) {
	pharmacyID := r.URL.Query().Get("pharmacy_id")

	preview, err := h.cleanup.DryRun(r.Context(), pharmacyID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, preview)
}
