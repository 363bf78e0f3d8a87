package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/rxledger/pharmacy-backend/internal/purchase/service"
	"github.com/rxledger/pharmacy-backend/pkg/errors"
	"github.com/rxledger/pharmacy-backend/pkg/httputil"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
)

// ItemHandler handles purchase item mutation endpoints
type ItemHandler struct {
	updates *service.UpdateEngine
	deletes *service.DeleteEngine
	logger  *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(updates *service.UpdateEngine, deletes *service.DeleteEngine, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		updates: updates,
		deletes: deletes,
		logger:  log,
	}
}

type updateItemRequest struct {
	MedicineName *string `json:"medicine_name" validate:"omitempty,min=1,max=255"`
	BatchNumber  *string `json:"batch_number" validate:"omitempty,min=1,max=100"`
	ExpiryDate   *string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Quantity     *int    `json:"quantity"`
	FreeQuantity *int    `json:"free_quantity"`
	PurchaseRate *string `json:"purchase_rate"`
	MRP          *string `json:"mrp"`
}

// toChanges converts the wire request into engine changes. Monetary
// fields arrive as strings to keep exact decimal values.
func (req *updateItemRequest) toChanges() (*service.ItemChanges, error) {
	if req.Quantity != nil && *req.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if req.FreeQuantity != nil && *req.FreeQuantity < 0 {
		return nil, errors.BadRequest("free_quantity must not be negative")
	}

	changes := &service.ItemChanges{
		MedicineName: req.MedicineName,
		BatchNumber:  req.BatchNumber,
		Quantity:     req.Quantity,
		FreeQuantity: req.FreeQuantity,
	}

	if req.ExpiryDate != nil {
		expiry, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			return nil, errors.BadRequest("expiry_date must be formatted as YYYY-MM-DD")
		}
		changes.ExpiryDate = &expiry
	}

	if req.PurchaseRate != nil {
		rate, err := decimal.NewFromString(*req.PurchaseRate)
		if err != nil || rate.IsNegative() {
			return nil, errors.BadRequest("purchase_rate must be a non-negative decimal")
		}
		changes.PurchaseRate = &rate
	}

	if req.MRP != nil {
		mrp, err := decimal.NewFromString(*req.MRP)
		if err != nil || mrp.IsNegative() {
			return nil, errors.BadRequest("mrp must be a non-negative decimal")
		}
		changes.MRP = &mrp
	}

	return changes, nil
}

func (req *updateItemRequest) isEmpty() bool {
	return req.MedicineName == nil && req.BatchNumber == nil && req.ExpiryDate == nil &&
		req.Quantity == nil && req.FreeQuantity == nil && req.PurchaseRate == nil && req.MRP == nil
}

// Update applies a partial edit to a purchase item and cascades it
// through the dependent tables
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	if req.isEmpty() {
		httputil.Error(w, errors.BadRequest("no fields to update"))
		return
	}

	changes, err := req.toChanges()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.updates.UpdateItem(r.Context(), id, changes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Delete removes one item, or several when the path segment is a
// comma-separated id list. Bulk mode reports per-item outcomes instead
// of failing the whole batch.
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(chi.URLParam(r, "ids"))
	if len(ids) == 0 {
		httputil.Error(w, errors.BadRequest("no item ids given"))
		return
	}

	if len(ids) == 1 {
		outcome, err := h.deletes.DeleteItem(r.Context(), ids[0])
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, outcome)
		return
	}

	result := h.deletes.DeleteItems(r.Context(), ids)
	httputil.JSON(w, http.StatusOK, result)
}

// splitIDs splits a comma-separated id list, dropping empty segments
func splitIDs(raw string) []string {
	ids := []string{}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
