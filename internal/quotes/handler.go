package quotes

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/suprimo-erp/suprimo-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the quotes module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs quotes handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers quote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/expiring", h.handleExpiring)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}/status", h.handleUpdateStatus)
	r.Post("/{id}/convert", h.handleConvert)
}

type createRequest struct {
	SupplierID   int64  `json:"supplier_id" validate:"required,gt=0"`
	DeliveryDate string `json:"delivery_date" validate:"required"`
	ValidUntil   string `json:"valid_until"`
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
		DeliveryDate: deliveryDate,
		Notes:        req.Notes,
		UserID:       req.UserID,
	}
	if req.ValidUntil != "" {
		validUntil, err := time.Parse("2006-01-02", req.ValidUntil)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "valid_until must be YYYY-MM-DD")
			return
		}
		in.ValidUntil = &validUntil
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	quote, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("create quote failed", slog.Int64("supplier_id", req.SupplierID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("quote created", slog.String("number", quote.Number), slog.Int64("id", quote.ID))
	httpx.JSON(w, http.StatusCreated, quote)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	quote, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
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
	quotes, err := h.service.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotes)
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "days must be numeric")
			return
		}
		days = parsed
	}
	quotes, err := h.service.Expiring(r.Context(), days)
	if err != nil {
		h.logger.Error("expiring quotes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotes)
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
	quote, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), req.UserID)
	if err != nil {
		h.logger.Warn("update quote status failed",
			slog.Int64("quote_id", id),
			slog.String("status", req.Status),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

type convertRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	var req convertRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	order, err := h.service.ConvertToOrder(r.Context(), id, req.UserID)
	if err != nil {
		h.logger.Warn("convert quote failed", slog.Int64("quote_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("quote converted", slog.Int64("quote_id", id), slog.String("order_number", order.Number))
	httpx.JSON(w, http.StatusCreated, order)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
