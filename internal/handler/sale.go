package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/VanshSharma88/medimind/internal/model"
	"github.com/VanshSharma88/medimind/internal/repository"
	"github.com/VanshSharma88/medimind/internal/service"
)

type saleLineRequest struct {
	MedicineID string `json:"medicineId"`
	Quantity   int64  `json:"quantity"`
}

type saleRequest struct {
	Items []saleLineRequest `json:"items"`
}

type saleItemResponse struct {
	MedicineID string      `json:"medicineId"`
	Name       string      `json:"name"`
	Quantity   int64       `json:"quantity"`
	UnitPrice  json.Number `json:"unitPrice"`
}

type saleResponse struct {
	ID        string             `json:"id"`
	Owner     string             `json:"owner"`
	Items     []saleItemResponse `json:"items"`
	Total     json.Number        `json:"total"`
	Timestamp string             `json:"timestamp"`
}

func toSaleResponse(s *model.Sale) saleResponse {
	items := make([]saleItemResponse, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, saleItemResponse{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  json.Number(it.UnitPrice.StringFixed(2)),
		})
	}
	return saleResponse{
		ID:        s.ID,
		Owner:     s.OwnerID,
		Items:     items,
		Total:     json.Number(s.Total.StringFixed(2)),
		Timestamp: formatTime(s.CreatedAt),
	}
}

// RecordSale проводит продажу корзины текущего пользователя.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidCart, "malformed cart")
		return
	}

	cart := make([]model.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		cart = append(cart, model.CartLine{MedicineID: it.MedicineID, Quantity: it.Quantity})
	}

	sale, err := h.service.RecordSale(r.Context(), userID, cart)
	if err != nil {
		h.writeSaleError(w, err, userID)
		return
	}

	writeJSON(w, http.StatusCreated, toSaleResponse(sale))
}

// ListSales возвращает продажи текущего пользователя, последние первыми.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	sales, err := h.service.ListSales(r.Context(), userID)
	if err != nil {
		h.logger.Error("list sales error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "server error")
		return
	}

	resp := make([]saleResponse, 0, len(sales))
	for i := range sales {
		resp = append(resp, toSaleResponse(&sales[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSale возвращает одну продажу текущего пользователя.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	sale, err := h.service.GetSale(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, codeSaleNotFound, "sale not found")
			return
		}
		h.logger.Error("get sale error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "server error")
		return
	}

	writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) writeSaleError(w http.ResponseWriter, err error, userID string) {
	var (
		notFound *service.MedicineNotFoundError
		stock    *service.InsufficientStockError
	)

	switch {
	case errors.Is(err, service.ErrInvalidCart):
		writeError(w, http.StatusBadRequest, codeInvalidCart, err.Error())
	case errors.Is(err, service.ErrStorageFailure):
		h.logger.Error("record sale error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "sale could not be recorded, retry is safe")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("record sale aborted", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusServiceUnavailable, codeRequestCanceled, "request canceled before the sale was recorded")
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:      codeMedicineNotFound,
			Message:    "medicine not found",
			MedicineID: notFound.MedicineID,
		})
	case errors.As(err, &stock):
		available := stock.Available
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:      codeInsufficientStock,
			Message:    stock.Error(),
			MedicineID: stock.MedicineID,
			Name:       stock.Name,
			Available:  &available,
		})
	default:
		h.logger.Error("record sale error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "sale could not be recorded, retry is safe")
	}
}
