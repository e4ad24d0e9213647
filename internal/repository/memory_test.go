package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanshSharma88/medimind/internal/model"
)

func newTestMedicine(owner string, qty int64) *model.Medicine {
	return &model.Medicine{
		Name:       "Paracetamol",
		Category:   "Analgesic",
		Price:      decimal.RequireFromString("10.50"),
		Quantity:   qty,
		ExpiryDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		OwnerID:    owner,
	}
}

func TestMemoryRepository_DecrementStock(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	med := newTestMedicine("u1", 5)
	require.NoError(t, repo.CreateMedicine(ctx, med))

	got, err := repo.DecrementStock(ctx, "u1", med.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Quantity)

	_, err = repo.DecrementStock(ctx, "u1", med.ID, 3)
	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.Available)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = repo.DecrementStock(ctx, "u2", med.ID, 1)
	assert.ErrorIs(t, err, ErrMedicineNotFound)

	_, err = repo.DecrementStock(ctx, "u1", med.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, repo.RestockMedicine(ctx, "u1", med.ID, 3))
	stored, err := repo.GetMedicine(ctx, "u1", med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.Quantity)

	assert.ErrorIs(t, repo.RestockMedicine(ctx, "u1", "missing", 1), ErrMedicineNotFound)
}

func TestMemoryRepository_Users(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "Ann", "ann@example.com", []byte("hash"))
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, "Ann", "ANN@example.com", []byte("hash"))
	assert.ErrorIs(t, err, ErrUserExists)

	byEmail, err := repo.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = repo.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryRepository_SalesAreIsolatedCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	items := []model.SaleItem{{MedicineID: "m1", Name: "Paracetamol", Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")}}
	sale, err := repo.AppendSale(ctx, "u1", items, decimal.RequireFromString("1.00"))
	require.NoError(t, err)

	items[0].Name = "changed"
	sale.Items[0].Quantity = 99

	got, err := repo.GetSale(ctx, "u1", sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol", got.Items[0].Name)
	assert.Equal(t, int64(1), got.Items[0].Quantity)

	_, err = repo.GetSale(ctx, "u2", sale.ID)
	assert.ErrorIs(t, err, ErrSaleNotFound)
}
