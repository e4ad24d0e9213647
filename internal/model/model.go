// Package model содержит доменные сущности сервиса MediMind.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного владельца аптеки.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Medicine описывает позицию каталога лекарств конкретного пользователя.
type Medicine struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Quantity    int64
	ExpiryDate  time.Time
	Supplier    string
	OwnerID     string
	CreatedAt   time.Time
}

// SaleItem содержит зафиксированный на момент продажи снимок позиции.
// MedicineID является слабой ссылкой: лекарство может быть удалено после продажи.
type SaleItem struct {
	MedicineID string
	Name       string
	Quantity   int64
	UnitPrice  decimal.Decimal
}

// Subtotal возвращает стоимость строки продажи.
func (i SaleItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Sale описывает завершённую продажу. После записи не изменяется.
type Sale struct {
	ID        string
	OwnerID   string
	Items     []SaleItem
	Total     decimal.Decimal
	CreatedAt time.Time
}

// ItemsTotal пересчитывает сумму продажи по строкам.
func (s Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// CartLine описывает одну строку корзины, присланная клиентом.
type CartLine struct {
	MedicineID string
	Quantity   int64
}
