package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/VanshSharma88/medimind/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const medicineColumns = `id, user_id, name, description, category, price, quantity, expiry_date, supplier, created_at`

// querier объединяет методы, общие для пула соединений и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// PostgresRepository предоставляет доступ к каталогу и журналу продаж в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	begin  func(ctx context.Context) (pgx.Tx, error)
	delays []time.Duration
}

// finalError помечает ошибку, которую withRetry возвращает без повтора.
type finalError struct {
	err error
}

func (e *finalError) Error() string { return e.err.Error() }

func (e *finalError) Unwrap() error { return e.err }

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		begin:  pool.Begin,
		delays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сбоях сериализации, взаимоблокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		var final *finalError
		if errors.As(err, &final) {
			return final.err
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isConflict(err)
	}
	return isConnectionError(err)
}

// isConflict сообщает, что сервер откатил транзакцию из-за конфликта сериализации
// или взаимоблокировки. Такой откат окончателен, и транзакцию можно повторить.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func (r *PostgresRepository) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// WithinTx выполняет fn в одной транзакции. Методы репозитория, вызванные с
// переданным контекстом, работают внутри неё. Вложенный вызов переиспользует
// уже открытую транзакцию.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	// Повторяется только обрыв на BEGIN и конфликт, о котором сообщил сервер.
	// Обрыв соединения на COMMIT не повторяется: транзакция могла зафиксироваться.
	return r.withRetry(ctx, func() error {
		tx, err := r.begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			if isConflict(err) {
				return err
			}
			return &finalError{err: err}
		}

		if err := tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
			if isConflict(err) {
				return err
			}
			return &finalError{err: err}
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error) {
	u := model.User{
		ID:           newID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}

	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, name, email, passwordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var u model.User
	err := r.conn(ctx).QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func scanMedicine(row pgx.Row) (*model.Medicine, error) {
	var m model.Medicine
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Name, &m.Description, &m.Category,
		&m.Price, &m.Quantity, &m.ExpiryDate, &m.Supplier, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMedicine добавляет лекарство в каталог владельца.
func (r *PostgresRepository) CreateMedicine(ctx context.Context, med *model.Medicine) error {
	med.ID = newID()

	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO medicines (id, user_id, name, description, category, price, quantity, expiry_date, supplier)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		med.ID, med.OwnerID, med.Name, med.Description, med.Category,
		med.Price, med.Quantity, med.ExpiryDate, med.Supplier,
	).Scan(&med.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert medicine: %w", err)
	}
	return nil
}

// GetMedicine возвращает лекарство владельца.
func (r *PostgresRepository) GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error) {
	med, err := scanMedicine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicineNotFound
		}
		return nil, fmt.Errorf("get medicine: %w", err)
	}
	return med, nil
}

// ListMedicines возвращает каталог владельца, новые позиции первыми.
func (r *PostgresRepository) ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE user_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select medicines: %w", err)
	}
	defer rows.Close()

	res := make([]model.Medicine, 0)
	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		res = append(res, *med)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateMedicine перезаписывает редактируемые поля лекарства владельца.
func (r *PostgresRepository) UpdateMedicine(ctx context.Context, med *model.Medicine) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE medicines
		 SET name = $3, description = $4, category = $5, price = $6, quantity = $7, expiry_date = $8, supplier = $9
		 WHERE id = $1 AND user_id = $2
		 RETURNING created_at`,
		med.ID, med.OwnerID, med.Name, med.Description, med.Category,
		med.Price, med.Quantity, med.ExpiryDate, med.Supplier,
	).Scan(&med.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMedicineNotFound
		}
		return fmt.Errorf("update medicine: %w", err)
	}
	return nil
}

// DeleteMedicine удаляет лекарство владельца. Строки продаж хранят собственный снимок и не затрагиваются.
func (r *PostgresRepository) DeleteMedicine(ctx context.Context, ownerID, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medicines WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete medicine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

// DecrementStock уменьшает остаток одним условным UPDATE: строка меняется,
// только если текущий остаток не меньше amount.
func (r *PostgresRepository) DecrementStock(ctx context.Context, ownerID, id string, amount int64) (*model.Medicine, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	q := r.conn(ctx)
	med, err := scanMedicine(q.QueryRow(ctx,
		`UPDATE medicines SET quantity = quantity - $3
		 WHERE id = $1 AND user_id = $2 AND quantity >= $3
		 RETURNING `+medicineColumns,
		id, ownerID, amount,
	))
	if err == nil {
		return med, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	// Строка не обновлена: либо лекарства нет, либо остатка не хватает.
	var available int64
	err = q.QueryRow(ctx,
		`SELECT quantity FROM medicines WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicineNotFound
		}
		return nil, fmt.Errorf("read stock: %w", err)
	}
	return nil, &StockError{MedicineID: id, Available: available}
}

// RestockMedicine возвращает на остаток ранее списанное количество.
func (r *PostgresRepository) RestockMedicine(ctx context.Context, ownerID, id string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE medicines SET quantity = quantity + $3 WHERE id = $1 AND user_id = $2`,
		id, ownerID, amount,
	)
	if err != nil {
		return fmt.Errorf("restock medicine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

// AppendSale записывает продажу и её строки. Без внешней транзакции открывает собственную.
func (r *PostgresRepository) AppendSale(ctx context.Context, ownerID string, items []model.SaleItem, total decimal.Decimal) (*model.Sale, error) {
	var sale *model.Sale

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)

		s := model.Sale{
			ID:      newID(),
			OwnerID: ownerID,
			Items:   append([]model.SaleItem(nil), items...),
			Total:   total,
		}

		err := q.QueryRow(ctx,
			`INSERT INTO sales (id, user_id, total) VALUES ($1, $2, $3) RETURNING created_at`,
			s.ID, ownerID, total,
		).Scan(&s.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range items {
			batch.Queue(
				`INSERT INTO sale_items (sale_id, position, medicine_id, name, quantity, unit_price)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				s.ID, i, it.MedicineID, it.Name, it.Quantity, it.UnitPrice,
			)
		}

		br := q.SendBatch(ctx, batch)
		for range items {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert sale item: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}

		sale = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetSale возвращает продажу владельца вместе со строками.
func (r *PostgresRepository) GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error) {
	var s model.Sale
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, user_id, total, created_at FROM sales WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	).Scan(&s.ID, &s.OwnerID, &s.Total, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}

	items, err := r.saleItems(ctx, []string{s.ID})
	if err != nil {
		return nil, err
	}
	s.Items = items[s.ID]

	return &s, nil
}

// ListSales возвращает продажи владельца, последние первыми.
func (r *PostgresRepository) ListSales(ctx context.Context, ownerID string) ([]model.Sale, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, user_id, total, created_at
		 FROM sales
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	defer rows.Close()

	res := make([]model.Sale, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var s model.Sale
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Total, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		res = append(res, s)
		ids = append(ids, s.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return res, nil
	}

	items, err := r.saleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Items = items[res[i].ID]
	}

	return res, nil
}

func (r *PostgresRepository) saleItems(ctx context.Context, saleIDs []string) (map[string][]model.SaleItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT sale_id, medicine_id, name, quantity, unit_price
		 FROM sale_items
		 WHERE sale_id = ANY($1)
		 ORDER BY sale_id, position`,
		saleIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select sale items: %w", err)
	}
	defer rows.Close()

	res := make(map[string][]model.SaleItem, len(saleIDs))
	for rows.Next() {
		var (
			saleID string
			it     model.SaleItem
		)
		if err := rows.Scan(&saleID, &it.MedicineID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		res[saleID] = append(res[saleID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
