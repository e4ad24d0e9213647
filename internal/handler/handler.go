// Package handler содержит HTTP-обработчики API сервиса MediMind.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/VanshSharma88/medimind/internal/middleware"
	"github.com/VanshSharma88/medimind/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, name, email, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)

	CreateMedicine(ctx context.Context, ownerID string, med model.Medicine) (*model.Medicine, error)
	GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error)
	ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error)
	UpdateMedicine(ctx context.Context, ownerID, id string, med model.Medicine) (*model.Medicine, error)
	DeleteMedicine(ctx context.Context, ownerID, id string) error

	RecordSale(ctx context.Context, ownerID string, cart []model.CartLine) (*model.Sale, error)
	GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error)
	ListSales(ctx context.Context, ownerID string) ([]model.Sale, error)
}

// Handler реализует HTTP-обработчики API сервиса MediMind.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// Коды ошибок в теле ответа.
const (
	codeInvalidRequest    = "invalid_request"
	codeUnauthorized      = "unauthorized"
	codeUserExists        = "user_exists"
	codeInvalidMedicine   = "invalid_medicine"
	codeInvalidCart       = "invalid_cart"
	codeMedicineNotFound  = "medicine_not_found"
	codeSaleNotFound      = "sale_not_found"
	codeInsufficientStock = "insufficient_stock"
	codeStorageFailure    = "storage_failure"
	codeRequestCanceled   = "request_canceled"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	MedicineID string `json:"medicineId,omitempty"`
	Name       string `json:"name,omitempty"`
	Available  *int64 `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ownerID извлекает владельца, установленного AuthMiddleware.
func (h *Handler) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}
