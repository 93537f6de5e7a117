package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/suprimo-erp/suprimo-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the orders module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/stats", h.handleStats)
	r.Get("/overdue", h.handleOverdue)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}/status", h.handleUpdateStatus)
	r.Patch("/{id}/items/{productID}/received", h.handleUpdateItemReceived)
	r.Delete("/{id}", h.handleDelete)
}

type createRequest struct {
	SupplierID   int64  `json:"supplier_id" validate:"required,gt=0"`
	QuoteID      *int64 `json:"quote_id" validate:"omitempty,gt=0"`
	DeliveryDate string `json:"delivery_date" validate:"required"`
	Notes        string `json:"notes"`
	UserID       int64  `json:"user_id"`
	Items        []struct {
		ProductID int64   `json:"product_id" validate:"required,gt=0"`
		Quantity  int64   `json:"quantity" validate:"required,gt=0"`
		UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	deliveryDate, err := time.Parse("2006-01-02", req.DeliveryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "delivery_date must be YYYY-MM-DD")
		return
	}
	in := CreateInput{
		SupplierID:   req.SupplierID,
		QuoteID:      req.QuoteID,
		DeliveryDate: deliveryDate,
		Notes:        req.Notes,
		UserID:       req.UserID,
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	order, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("create order failed", slog.Int64("supplier_id", req.SupplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("order created", slog.String("number", order.Number), slog.Int64("id", order.ID))
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f := Filter{Status: Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("supplier_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "supplier_id must be numeric")
			return
		}
		f.SupplierID = id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "limit must be numeric")
			return
		}
		f.Limit = limit
	}
	orders, err := h.service.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.Overdue(r.Context())
	if err != nil {
		h.logger.Error("overdue orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.logger.Error("order stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	UserID int64  `json:"user_id"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), req.UserID)
	if err != nil {
		h.logger.Warn("update order status failed",
			slog.Int64("order_id", id),
			slog.String("status", req.Status),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type receivedRequest struct {
	Received int64 `json:"received_quantity" validate:"gte=0"`
	UserID   int64 `json:"user_id"`
}

func (h *Handler) handleUpdateItemReceived(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	productID, err := urlID(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	var req receivedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	order, err := h.service.UpdateItemReceived(r.Context(), id, productID, req.Received, req.UserID)
	if err != nil {
		h.logger.Warn("update received failed",
			slog.Int64("order_id", id),
			slog.Int64("product_id", productID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), id, 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
