// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VanshSharma88/medimind/internal/model"
)

// ErrInvalidMedicine возвращается, если карточка лекарства заполнена некорректно.
var ErrInvalidMedicine = errors.New("invalid medicine")

const dateLayout = "2006-01-02"

// ValidateMedicine проверяет обязательные поля лекарства и нормализует строки.
func ValidateMedicine(m *model.Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	m.Category = strings.TrimSpace(m.Category)
	m.Description = strings.TrimSpace(m.Description)
	m.Supplier = strings.TrimSpace(m.Supplier)

	switch {
	case m.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMedicine)
	case m.Category == "":
		return fmt.Errorf("%w: category is required", ErrInvalidMedicine)
	case m.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidMedicine)
	case m.Quantity < 0:
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidMedicine)
	case m.ExpiryDate.IsZero():
		return fmt.Errorf("%w: expiry date is required", ErrInvalidMedicine)
	}

	if !m.Price.Equal(m.Price.Round(2)) {
		return fmt.Errorf("%w: price must have at most two decimal places", ErrInvalidMedicine)
	}

	return nil
}

// ParseExpiryDate разбирает дату годности в формате YYYY-MM-DD или RFC3339
// и отбрасывает время суток.
func ParseExpiryDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: expiry date is required", ErrInvalidMedicine)
	}

	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expiry date %q: expected YYYY-MM-DD", ErrInvalidMedicine, s)
	}

	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate возвращает дату в формате YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
