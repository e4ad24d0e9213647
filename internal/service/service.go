// Package service реализует бизнес-логику сервиса MediMind.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/VanshSharma88/medimind/internal/model"
	"github.com/VanshSharma88/medimind/internal/repository"
	"github.com/VanshSharma88/medimind/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	CreateMedicine(ctx context.Context, med *model.Medicine) error
	ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error)
	UpdateMedicine(ctx context.Context, med *model.Medicine) error
	DeleteMedicine(ctx context.Context, ownerID, id string) error
	CatalogStore

	GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error)
	ListSales(ctx context.Context, ownerID string) ([]model.Sale, error)
	SaleLedger
}

// Service содержит бизнес-логику сервиса MediMind.
type Service struct {
	repo     Repository
	checkout *CheckoutEngine
	logger   *zap.Logger
}

// NewService создаёт сервис поверх репозитория. Если репозиторий поддерживает
// транзакции, продажа фиксируется в одной транзакции, иначе через компенсации.
func NewService(repo Repository, logger *zap.Logger, publisher SalePublisher) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	var tx Transactor
	if t, ok := repo.(Transactor); ok {
		tx = t
	}

	engine := NewCheckoutEngine(repo, repo, tx, logger.Named("checkout"))
	if publisher != nil {
		engine.WithPublisher(publisher)
	}

	return &Service{
		repo:     repo,
		checkout: engine,
		logger:   logger,
	}
}

// Close дожидается фоновых публикаций и закрывает ресурсы сервиса.
func (s *Service) Close() error {
	s.checkout.Wait()
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, name, email, password string) (*model.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, strings.TrimSpace(name), normalizeEmail(email), hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, repository.ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateMedicine проверяет и добавляет лекарство в каталог владельца.
func (s *Service) CreateMedicine(ctx context.Context, ownerID string, med model.Medicine) (*model.Medicine, error) {
	med.OwnerID = ownerID
	if err := validation.ValidateMedicine(&med); err != nil {
		return nil, err
	}
	if err := s.repo.CreateMedicine(ctx, &med); err != nil {
		return nil, err
	}
	return &med, nil
}

// GetMedicine возвращает лекарство владельца.
func (s *Service) GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error) {
	return s.repo.GetMedicine(ctx, ownerID, id)
}

// ListMedicines возвращает каталог владельца.
func (s *Service) ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error) {
	return s.repo.ListMedicines(ctx, ownerID)
}

// UpdateMedicine проверяет и сохраняет изменения лекарства владельца.
func (s *Service) UpdateMedicine(ctx context.Context, ownerID, id string, med model.Medicine) (*model.Medicine, error) {
	med.ID = id
	med.OwnerID = ownerID
	if err := validation.ValidateMedicine(&med); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateMedicine(ctx, &med); err != nil {
		return nil, err
	}
	return &med, nil
}

// DeleteMedicine удаляет лекарство владельца.
func (s *Service) DeleteMedicine(ctx context.Context, ownerID, id string) error {
	return s.repo.DeleteMedicine(ctx, ownerID, id)
}

// RecordSale проводит продажу корзины через движок продаж.
func (s *Service) RecordSale(ctx context.Context, ownerID string, cart []model.CartLine) (*model.Sale, error) {
	return s.checkout.Checkout(ctx, ownerID, cart)
}

// GetSale возвращает продажу владельца.
func (s *Service) GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error) {
	return s.repo.GetSale(ctx, ownerID, id)
}

// ListSales возвращает продажи владельца, последние первыми.
func (s *Service) ListSales(ctx context.Context, ownerID string) ([]model.Sale, error) {
	return s.repo.ListSales(ctx, ownerID)
}
