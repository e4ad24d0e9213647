// Package repository содержит реализации хранилищ каталога лекарств и журнала продаж.
package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrMedicineNotFound возвращается, если лекарство не найдено или принадлежит другому пользователю.
	ErrMedicineNotFound = errors.New("medicine not found")
	// ErrSaleNotFound возвращается, если продажа не найдена или принадлежит другому пользователю.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrInsufficientStock возвращается, если остаток меньше запрошенного списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidAmount возвращается при попытке изменить остаток на неположительное количество.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// StockError сообщает о неудачном условном списании и содержит фактический остаток.
type StockError struct {
	MedicineID string
	Available  int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: medicine %s, available %d", ErrInsufficientStock, e.MedicineID, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

func newID() string {
	return uuid.NewString()
}
