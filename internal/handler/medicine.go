package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/VanshSharma88/medimind/internal/model"
	"github.com/VanshSharma88/medimind/internal/repository"
	"github.com/VanshSharma88/medimind/internal/validation"
)

type medicineRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	ExpiryDate  string          `json:"expiryDate"`
	Supplier    string          `json:"supplier"`
}

type medicineResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category"`
	Price       json.Number `json:"price"`
	Quantity    int64       `json:"quantity"`
	ExpiryDate  string      `json:"expiryDate"`
	Supplier    string      `json:"supplier,omitempty"`
	CreatedAt   string      `json:"createdAt"`
}

func toMedicineResponse(m *model.Medicine) medicineResponse {
	return medicineResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Price:       json.Number(m.Price.StringFixed(2)),
		Quantity:    m.Quantity,
		ExpiryDate:  validation.FormatDate(m.ExpiryDate),
		Supplier:    m.Supplier,
		CreatedAt:   formatTime(m.CreatedAt),
	}
}

// decodeMedicine разбирает тело запроса. При ошибке ответ уже записан.
func decodeMedicine(w http.ResponseWriter, r *http.Request) (model.Medicine, bool) {
	var req medicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidMedicine, "malformed JSON body")
		return model.Medicine{}, false
	}

	expiry, err := validation.ParseExpiryDate(req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidMedicine, err.Error())
		return model.Medicine{}, false
	}

	return model.Medicine{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Quantity:    req.Quantity,
		ExpiryDate:  expiry,
		Supplier:    req.Supplier,
	}, true
}

// ListMedicines возвращает каталог текущего пользователя.
func (h *Handler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	medicines, err := h.service.ListMedicines(r.Context(), userID)
	if err != nil {
		h.logger.Error("list medicines error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "server error")
		return
	}

	resp := make([]medicineResponse, 0, len(medicines))
	for i := range medicines {
		resp = append(resp, toMedicineResponse(&medicines[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateMedicine добавляет лекарство в каталог текущего пользователя.
func (h *Handler) CreateMedicine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	med, ok := decodeMedicine(w, r)
	if !ok {
		return
	}

	created, err := h.service.CreateMedicine(r.Context(), userID, med)
	if err != nil {
		h.writeMedicineError(w, err, userID, "create medicine error")
		return
	}

	writeJSON(w, http.StatusCreated, toMedicineResponse(created))
}

// GetMedicine возвращает одно лекарство текущего пользователя.
func (h *Handler) GetMedicine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	med, err := h.service.GetMedicine(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeMedicineError(w, err, userID, "get medicine error")
		return
	}

	writeJSON(w, http.StatusOK, toMedicineResponse(med))
}

// UpdateMedicine изменяет лекарство текущего пользователя.
func (h *Handler) UpdateMedicine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	med, ok := decodeMedicine(w, r)
	if !ok {
		return
	}

	updated, err := h.service.UpdateMedicine(r.Context(), userID, chi.URLParam(r, "id"), med)
	if err != nil {
		h.writeMedicineError(w, err, userID, "update medicine error")
		return
	}

	writeJSON(w, http.StatusOK, toMedicineResponse(updated))
}

// DeleteMedicine удаляет лекарство текущего пользователя.
func (h *Handler) DeleteMedicine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteMedicine(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.writeMedicineError(w, err, userID, "delete medicine error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Medicine deleted"})
}

func (h *Handler) writeMedicineError(w http.ResponseWriter, err error, userID, msg string) {
	switch {
	case errors.Is(err, validation.ErrInvalidMedicine):
		writeError(w, http.StatusBadRequest, codeInvalidMedicine, err.Error())
	case errors.Is(err, repository.ErrMedicineNotFound):
		writeError(w, http.StatusNotFound, codeMedicineNotFound, "medicine not found or unauthorized")
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, codeStorageFailure, "server error")
	}
}
