package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/suprimo-erp/suprimo-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleApplyMovement)
	r.Get("/movements", h.handleListMovements)
	r.Post("/stock-count", h.handleStockCount)
	r.Get("/products/{id}/movements", h.handleProductMovements)
	r.Get("/alerts", h.handleAlerts)
	r.Get("/stats", h.handleStats)
}

type movementRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	Type          string `json:"type" validate:"required,oneof=entrada saida ajuste transferencia"`
	Quantity      int64  `json:"quantity" validate:"gte=0"`
	Reason        string `json:"reason" validate:"required"`
	ReferenceID   string `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
	UserID        int64  `json:"user_id"`
}

func (h *Handler) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.ApplyMovement(r.Context(), MovementInput{
		ProductID:     req.ProductID,
		Type:          MovementType(req.Type),
		Quantity:      req.Quantity,
		Reason:        req.Reason,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		UserID:        req.UserID,
	})
	if err != nil {
		h.logger.Warn("apply movement failed",
			slog.Int64("product_id", req.ProductID),
			slog.String("type", req.Type),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

type stockCountRequest struct {
	UserID int64 `json:"user_id"`
	Items  []struct {
		ProductID       int64 `json:"product_id" validate:"required,gt=0"`
		CountedQuantity int64 `json:"counted_quantity" validate:"gte=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleStockCount(w http.ResponseWriter, r *http.Request) {
	var req stockCountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]CountInput, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, CountInput{ProductID: item.ProductID, CountedQuantity: item.CountedQuantity})
	}
	results, err := h.service.PerformStockCount(r.Context(), lines, req.UserID)
	if err != nil {
		h.logger.Warn("stock count failed", slog.Int("lines", len(lines)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	movements, err := h.service.GetMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleProductMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "product id must be numeric")
		return
	}
	filter, err := movementFilterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	movements, err := h.service.ProductMovements(r.Context(), productID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.StockAlerts(r.Context())
	if err != nil {
		h.logger.Error("stock alerts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.logger.Error("inventory stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func movementFilterFromQuery(r *http.Request) (MovementFilter, error) {
	var f MovementFilter
	q := r.URL.Query()
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, err
		}
		f.ProductID = id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, err
		}
		// Inclusive end of day
		f.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Limit = limit
	}
	return f, nil
}
