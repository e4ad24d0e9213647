package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/VanshSharma88/medimind/internal/model"
	"github.com/VanshSharma88/medimind/internal/repository"
)

const (
	compensationTimeout = 10 * time.Second
	publishTimeout      = 15 * time.Second
)

// CatalogStore описывает доступ к каталогу, нужный движку продаж.
// Все операции ограничены владельцем.
type CatalogStore interface {
	GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error)
	DecrementStock(ctx context.Context, ownerID, id string, amount int64) (*model.Medicine, error)
	RestockMedicine(ctx context.Context, ownerID, id string, amount int64) error
}

// SaleLedger описывает журнал продаж. Он только дополняется.
type SaleLedger interface {
	AppendSale(ctx context.Context, ownerID string, items []model.SaleItem, total decimal.Decimal) (*model.Sale, error)
}

// Transactor выполняет fn атомарно на стороне хранилища.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SalePublisher уведомляет внешних потребителей о записанной продаже.
type SalePublisher interface {
	PublishSale(ctx context.Context, sale model.Sale) error
}

// CheckoutEngine проводит одну продажу: проверяет корзину, списывает остатки
// и записывает продажу в журнал как единое целое.
type CheckoutEngine struct {
	catalog   CatalogStore
	ledger    SaleLedger
	tx        Transactor
	publisher SalePublisher
	logger    *zap.Logger

	publishing sync.WaitGroup
}

// NewCheckoutEngine создаёт движок продаж. Если tx равен nil, фиксация
// выполняется с журналом компенсаций.
func NewCheckoutEngine(catalog CatalogStore, ledger SaleLedger, tx Transactor, logger *zap.Logger) *CheckoutEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutEngine{
		catalog: catalog,
		ledger:  ledger,
		tx:      tx,
		logger:  logger,
	}
}

// WithPublisher подключает публикацию событий о записанных продажах.
func (e *CheckoutEngine) WithPublisher(p SalePublisher) *CheckoutEngine {
	e.publisher = p
	return e
}

// deduction хранит суммарное списание по одному лекарству корзины.
type deduction struct {
	medicineID string
	name       string
	amount     int64
}

type checkoutPlan struct {
	items      []model.SaleItem
	total      decimal.Decimal
	deductions []deduction
}

// Checkout проводит продажу корзины от имени ownerID.
// При любой ошибке остатки и журнал остаются без изменений.
func (e *CheckoutEngine) Checkout(ctx context.Context, ownerID string, cart []model.CartLine) (*model.Sale, error) {
	if err := validateCart(cart); err != nil {
		return nil, err
	}

	plan, err := e.plan(ctx, ownerID, cart)
	if err != nil {
		return nil, err
	}

	sale, err := e.commit(ctx, ownerID, plan)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, sale)

	return sale, nil
}

// publish отправляет событие в фоне. Ответ клиенту не ждёт брокера, а отмена
// запроса не отменяет отправку.
func (e *CheckoutEngine) publish(ctx context.Context, sale *model.Sale) {
	if e.publisher == nil {
		return
	}

	event := *sale
	event.Items = append([]model.SaleItem(nil), sale.Items...)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	e.publishing.Add(1)
	go func() {
		defer e.publishing.Done()
		defer cancel()

		if err := e.publisher.PublishSale(ctx, event); err != nil {
			e.logger.Warn("publish sale event failed", zap.Error(err), zap.String("saleID", event.ID))
		}
	}()
}

// Wait дожидается завершения фоновых публикаций.
func (e *CheckoutEngine) Wait() {
	e.publishing.Wait()
}

func validateCart(cart []model.CartLine) error {
	if len(cart) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidCart)
	}
	for i, line := range cart {
		if line.MedicineID == "" {
			return fmt.Errorf("%w: item %d: medicine id is required", ErrInvalidCart, i+1)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", ErrInvalidCart, i+1)
		}
	}
	return nil
}

// plan читает каждое лекарство один раз и проверяет суммарный спрос корзины
// против прочитанного остатка. Ничего не изменяет.
func (e *CheckoutEngine) plan(ctx context.Context, ownerID string, cart []model.CartLine) (*checkoutPlan, error) {
	p := &checkoutPlan{
		items: make([]model.SaleItem, 0, len(cart)),
		total: decimal.Zero,
	}

	stock := make(map[string]*model.Medicine, len(cart))
	index := make(map[string]int, len(cart))

	for _, line := range cart {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		med, ok := stock[line.MedicineID]
		if !ok {
			var err error
			med, err = e.catalog.GetMedicine(ctx, ownerID, line.MedicineID)
			if err != nil {
				if errors.Is(err, repository.ErrMedicineNotFound) {
					return nil, &MedicineNotFoundError{MedicineID: line.MedicineID}
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, storageFailure("get medicine", err)
			}
			stock[line.MedicineID] = med
			index[line.MedicineID] = len(p.deductions)
			p.deductions = append(p.deductions, deduction{medicineID: med.ID, name: med.Name})
		}

		d := &p.deductions[index[line.MedicineID]]
		if line.Quantity > med.Quantity-d.amount {
			return nil, &InsufficientStockError{
				MedicineID: med.ID,
				Name:       med.Name,
				Available:  med.Quantity,
				Requested:  d.amount + line.Quantity,
			}
		}
		d.amount += line.Quantity

		item := model.SaleItem{
			MedicineID: med.ID,
			Name:       med.Name,
			Quantity:   line.Quantity,
			UnitPrice:  med.Price,
		}
		p.items = append(p.items, item)
		p.total = p.total.Add(item.Subtotal())
	}

	// Единый порядок списаний: встречные корзины блокируют строки одинаково.
	sort.Slice(p.deductions, func(i, j int) bool {
		return p.deductions[i].medicineID < p.deductions[j].medicineID
	})

	return p, nil
}

func (e *CheckoutEngine) commit(ctx context.Context, ownerID string, p *checkoutPlan) (*model.Sale, error) {
	if e.tx == nil {
		return e.apply(ctx, ownerID, p, true)
	}

	var sale *model.Sale
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = e.apply(ctx, ownerID, p, false)
		return err
	})
	if err != nil {
		return nil, classifyCommitError(err)
	}
	return sale, nil
}

// apply списывает остатки и дописывает продажу. С compensate=true уже
// применённые списания возвращаются при любой последующей ошибке.
func (e *CheckoutEngine) apply(ctx context.Context, ownerID string, p *checkoutPlan, compensate bool) (*model.Sale, error) {
	applied := make([]deduction, 0, len(p.deductions))

	fail := func(err error) (*model.Sale, error) {
		err = classifyCommitError(err)
		if compensate {
			if cerr := e.compensate(ctx, ownerID, applied); cerr != nil {
				return nil, storageFailure("compensate", errors.Join(err, cerr))
			}
		}
		return nil, err
	}

	for _, d := range p.deductions {
		if _, err := e.catalog.DecrementStock(ctx, ownerID, d.medicineID, d.amount); err != nil {
			var stockErr *repository.StockError
			if errors.As(err, &stockErr) {
				return fail(&InsufficientStockError{
					MedicineID: d.medicineID,
					Name:       d.name,
					Available:  stockErr.Available,
					Requested:  d.amount,
				})
			}
			if errors.Is(err, repository.ErrMedicineNotFound) {
				return fail(&MedicineNotFoundError{MedicineID: d.medicineID})
			}
			return fail(storageFailure("decrement stock", err))
		}
		applied = append(applied, d)
	}

	sale, err := e.ledger.AppendSale(ctx, ownerID, p.items, p.total)
	if err != nil {
		return fail(storageFailure("append sale", err))
	}

	return sale, nil
}

// compensate возвращает списанные остатки в обратном порядке. Отмена
// исходного контекста не прерывает откат.
func (e *CheckoutEngine) compensate(ctx context.Context, ownerID string, applied []deduction) error {
	if len(applied) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if err := e.catalog.RestockMedicine(ctx, ownerID, d.medicineID, d.amount); err != nil {
			e.logger.Error("stock compensation failed",
				zap.Error(err),
				zap.String("ownerID", ownerID),
				zap.String("medicineID", d.medicineID),
				zap.Int64("amount", d.amount),
			)
			errs = append(errs, fmt.Errorf("restock %s: %w", d.medicineID, err))
		}
	}
	return errors.Join(errs...)
}

func classifyCommitError(err error) error {
	var (
		notFound *MedicineNotFoundError
		stock    *InsufficientStockError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &stock), errors.Is(err, ErrStorageFailure):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return storageFailure("commit", err)
	}
}
