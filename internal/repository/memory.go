package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/VanshSharma88/medimind/internal/model"
)

// MemoryRepository хранит данные в памяти процесса.
// Каждый метод выполняется под одной блокировкой и не удерживает её между вызовами.
type MemoryRepository struct {
	mu        sync.RWMutex
	now       func() time.Time
	users     map[string]model.User
	medicines map[string]model.Medicine
	sales     []model.Sale
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[string]model.User),
		medicines: make(map[string]model.Medicine),
	}
}

// Close ничего не делает: ресурсов для освобождения нет.
func (m *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт нового пользователя.
func (m *MemoryRepository) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return nil, ErrUserExists
		}
	}

	u := model.User{
		ID:           newID(),
		Name:         name,
		Email:        email,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u

	cp := u
	return &cp, nil
}

// GetUserByEmail возвращает пользователя по email.
func (m *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByID возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := u
	return &cp, nil
}

// CreateMedicine добавляет лекарство в каталог владельца.
func (m *MemoryRepository) CreateMedicine(ctx context.Context, med *model.Medicine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	med.ID = newID()
	med.CreatedAt = m.now()
	m.medicines[med.ID] = *med
	return nil
}

// GetMedicine возвращает лекарство владельца.
func (m *MemoryRepository) GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	med, ok := m.medicines[id]
	if !ok || med.OwnerID != ownerID {
		return nil, ErrMedicineNotFound
	}
	cp := med
	return &cp, nil
}

// ListMedicines возвращает каталог владельца, новые позиции первыми.
func (m *MemoryRepository) ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Medicine, 0)
	for _, med := range m.medicines {
		if med.OwnerID == ownerID {
			out = append(out, med)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateMedicine перезаписывает редактируемые поля лекарства владельца.
func (m *MemoryRepository) UpdateMedicine(ctx context.Context, med *model.Medicine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.medicines[med.ID]
	if !ok || cur.OwnerID != med.OwnerID {
		return ErrMedicineNotFound
	}
	med.CreatedAt = cur.CreatedAt
	m.medicines[med.ID] = *med
	return nil
}

// DeleteMedicine удаляет лекарство владельца. Продажи не затрагиваются.
func (m *MemoryRepository) DeleteMedicine(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	med, ok := m.medicines[id]
	if !ok || med.OwnerID != ownerID {
		return ErrMedicineNotFound
	}
	delete(m.medicines, id)
	return nil
}

// DecrementStock атомарно уменьшает остаток, только если он не меньше amount.
func (m *MemoryRepository) DecrementStock(ctx context.Context, ownerID, id string, amount int64) (*model.Medicine, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	med, ok := m.medicines[id]
	if !ok || med.OwnerID != ownerID {
		return nil, ErrMedicineNotFound
	}
	if med.Quantity < amount {
		return nil, &StockError{MedicineID: id, Available: med.Quantity}
	}

	med.Quantity -= amount
	m.medicines[id] = med

	cp := med
	return &cp, nil
}

// RestockMedicine возвращает на остаток ранее списанное количество.
func (m *MemoryRepository) RestockMedicine(ctx context.Context, ownerID, id string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	med, ok := m.medicines[id]
	if !ok || med.OwnerID != ownerID {
		return ErrMedicineNotFound
	}
	med.Quantity += amount
	m.medicines[id] = med
	return nil
}

// AppendSale добавляет продажу в журнал, присваивая идентификатор и время.
func (m *MemoryRepository) AppendSale(ctx context.Context, ownerID string, items []model.SaleItem, total decimal.Decimal) (*model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := model.Sale{
		ID:        newID(),
		OwnerID:   ownerID,
		Items:     append([]model.SaleItem(nil), items...),
		Total:     total,
		CreatedAt: m.now(),
	}
	m.sales = append(m.sales, s)

	return copySale(s), nil
}

// GetSale возвращает продажу владельца.
func (m *MemoryRepository) GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sales {
		if s.ID == id && s.OwnerID == ownerID {
			return copySale(s), nil
		}
	}
	return nil, ErrSaleNotFound
}

// ListSales возвращает продажи владельца, последние первыми.
func (m *MemoryRepository) ListSales(ctx context.Context, ownerID string) ([]model.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Журнал только дополняется: обратный обход даёт порядок от новых к старым.
	out := make([]model.Sale, 0)
	for i := len(m.sales) - 1; i >= 0; i-- {
		if m.sales[i].OwnerID == ownerID {
			out = append(out, *copySale(m.sales[i]))
		}
	}
	return out, nil
}

func copySale(s model.Sale) *model.Sale {
	cp := s
	cp.Items = append([]model.SaleItem(nil), s.Items...)
	return &cp
}
