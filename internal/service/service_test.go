package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanshSharma88/medimind/internal/model"
	"github.com/VanshSharma88/medimind/internal/repository"
	"github.com/VanshSharma88/medimind/internal/validation"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	u, err := s.RegisterUser(ctx, " Ann ", "Ann@Example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.NotEqual(t, []byte("secret"), u.PasswordHash)

	got, err := s.AuthenticateUser(ctx, "ANN@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.AuthenticateUser(ctx, "ann@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.AuthenticateUser(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	me, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, me.Email)
}

func TestRegisterUser_Duplicate(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	_, err := s.RegisterUser(ctx, "Ann", "ann@example.com", "secret")
	require.NoError(t, err)

	_, err = s.RegisterUser(ctx, "Other", "ANN@example.com", "secret2")
	assert.ErrorIs(t, err, repository.ErrUserExists)
}

func TestCreateMedicine_Validation(t *testing.T) {
	s, _ := newMemoryService(t)

	_, err := s.CreateMedicine(context.Background(), owner, model.Medicine{
		Name:     "No expiry",
		Category: "General",
		Price:    decimal.RequireFromString("1.00"),
		Quantity: 1,
	})
	assert.ErrorIs(t, err, validation.ErrInvalidMedicine)

	meds, err := s.ListMedicines(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestMedicineCatalog_OwnerScoped(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	med := addMedicine(t, s, owner, "Paracetamol", "10.50", 5)
	addMedicine(t, s, "owner-2", "Foreign", "1.00", 1)

	meds, err := s.ListMedicines(ctx, owner)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, med.ID, meds[0].ID)

	_, err = s.GetMedicine(ctx, "owner-2", med.ID)
	assert.ErrorIs(t, err, repository.ErrMedicineNotFound)

	err = s.DeleteMedicine(ctx, "owner-2", med.ID)
	assert.ErrorIs(t, err, repository.ErrMedicineNotFound)
}

func TestUpdateMedicine(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	med := addMedicine(t, s, owner, "Paracetamol", "10.50", 5)

	upd := *med
	upd.Price = decimal.RequireFromString("12.00")
	upd.Quantity = 9

	got, err := s.UpdateMedicine(ctx, owner, med.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, med.CreatedAt, got.CreatedAt)

	stored, err := s.GetMedicine(ctx, owner, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stored.Quantity)
	assert.Equal(t, "12.00", stored.Price.StringFixed(2))

	_, err = s.UpdateMedicine(ctx, "owner-2", med.ID, upd)
	assert.ErrorIs(t, err, repository.ErrMedicineNotFound)
}

func TestSales_NewestFirstAndOwnerScoped(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	med := addMedicine(t, s, owner, "Paracetamol", "1.00", 10)

	first, err := s.RecordSale(ctx, owner, []model.CartLine{{MedicineID: med.ID, Quantity: 1}})
	require.NoError(t, err)
	second, err := s.RecordSale(ctx, owner, []model.CartLine{{MedicineID: med.ID, Quantity: 2}})
	require.NoError(t, err)

	sales, err := s.ListSales(ctx, owner)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, second.ID, sales[0].ID)
	assert.Equal(t, first.ID, sales[1].ID)

	other, err := s.ListSales(ctx, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = s.GetSale(ctx, "owner-2", first.ID)
	assert.ErrorIs(t, err, repository.ErrSaleNotFound)
}
