package service

import (
	"errors"
	"fmt"

	"github.com/VanshSharma88/medimind/internal/repository"
)

var (
	// ErrInvalidCart возвращается для пустой корзины или строки с неположительным количеством.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrStorageFailure оборачивает инфраструктурные ошибки хранилища. Частичных изменений при ней не остаётся.
	ErrStorageFailure = errors.New("storage failure")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// MedicineNotFoundError сообщает, что лекарства из корзины нет в каталоге владельца.
type MedicineNotFoundError struct {
	MedicineID string
}

func (e *MedicineNotFoundError) Error() string {
	return fmt.Sprintf("medicine not found: %s", e.MedicineID)
}

func (e *MedicineNotFoundError) Unwrap() error {
	return repository.ErrMedicineNotFound
}

// InsufficientStockError сообщает, что суммарный спрос корзины превышает остаток.
type InsufficientStockError struct {
	MedicineID string
	Name       string
	Available  int64
	Requested  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (available: %d, requested: %d)", e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return repository.ErrInsufficientStock
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
