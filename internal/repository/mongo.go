package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/VanshSharma88/medimind/internal/model"
)

const (
	usersCollection     = "users"
	medicinesCollection = "medicines"
	salesCollection     = "sales"
)

// MongoRepository хранит каталог и журнал продаж в MongoDB.
// Многодокументные транзакции не используются: атомарность списания
// обеспечивается условным $inc, а откат выполняет вызывающая сторона.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

type userDocument struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	PasswordHash []byte    `bson:"password"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type medicineDocument struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description,omitempty"`
	Category    string               `bson:"category"`
	Price       primitive.Decimal128 `bson:"price"`
	Quantity    int64                `bson:"quantity"`
	ExpiryDate  time.Time            `bson:"expiryDate"`
	Supplier    string               `bson:"supplier,omitempty"`
	User        string               `bson:"user"`
	CreatedAt   time.Time            `bson:"createdAt"`
}

type saleItemDocument struct {
	MedicineID string               `bson:"medicineId"`
	Name       string               `bson:"name"`
	Quantity   int64                `bson:"quantity"`
	Price      primitive.Decimal128 `bson:"price"`
}

type saleDocument struct {
	ID    string               `bson:"_id"`
	Items []saleItemDocument   `bson:"items"`
	Total primitive.Decimal128 `bson:"total"`
	User  string               `bson:"user"`
	Date  time.Time            `bson:"date"`
}

// NewMongoRepository подключается к MongoDB и создаёт необходимые индексы.
func NewMongoRepository(ctx context.Context, uri, dbName string) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	r := &MongoRepository{
		client: client,
		db:     client.Database(dbName),
	}

	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return r, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = r.db.Collection(medicinesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create medicines index: %w", err)
	}

	_, err = r.db.Collection(salesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "date", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create sales index: %w", err)
	}

	return nil
}

// Close закрывает соединение с MongoDB.
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert decimal %s: %w", d.String(), err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert decimal128 %s: %w", v.String(), err)
	}
	return d, nil
}

func (d *medicineDocument) toModel() (*model.Medicine, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	return &model.Medicine{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Price:       price,
		Quantity:    d.Quantity,
		ExpiryDate:  d.ExpiryDate.UTC(),
		Supplier:    d.Supplier,
		OwnerID:     d.User,
		CreatedAt:   d.CreatedAt.UTC(),
	}, nil
}

func (d *saleDocument) toModel() (*model.Sale, error) {
	total, err := fromDecimal128(d.Total)
	if err != nil {
		return nil, err
	}

	items := make([]model.SaleItem, 0, len(d.Items))
	for _, it := range d.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return nil, err
		}
		items = append(items, model.SaleItem{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  price,
		})
	}

	return &model.Sale{
		ID:        d.ID,
		OwnerID:   d.User,
		Items:     items,
		Total:     total,
		CreatedAt: d.Date.UTC(),
	}, nil
}

// CreateUser создаёт нового пользователя.
func (r *MongoRepository) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*model.User, error) {
	doc := userDocument{
		ID:           newID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := r.db.Collection(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &model.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *MongoRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findUser(ctx, bson.M{"email": email})
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *MongoRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.findUser(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDocument
	if err := r.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &model.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt.UTC(),
	}, nil
}

func newMedicineDocument(med *model.Medicine) (*medicineDocument, error) {
	price, err := toDecimal128(med.Price)
	if err != nil {
		return nil, err
	}
	return &medicineDocument{
		ID:          med.ID,
		Name:        med.Name,
		Description: med.Description,
		Category:    med.Category,
		Price:       price,
		Quantity:    med.Quantity,
		ExpiryDate:  med.ExpiryDate,
		Supplier:    med.Supplier,
		User:        med.OwnerID,
		CreatedAt:   med.CreatedAt,
	}, nil
}

// CreateMedicine добавляет лекарство в каталог владельца.
func (r *MongoRepository) CreateMedicine(ctx context.Context, med *model.Medicine) error {
	med.ID = newID()
	med.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	doc, err := newMedicineDocument(med)
	if err != nil {
		return err
	}

	if _, err := r.db.Collection(medicinesCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert medicine: %w", err)
	}
	return nil
}

// GetMedicine возвращает лекарство владельца.
func (r *MongoRepository) GetMedicine(ctx context.Context, ownerID, id string) (*model.Medicine, error) {
	var doc medicineDocument
	err := r.db.Collection(medicinesCollection).
		FindOne(ctx, bson.M{"_id": id, "user": ownerID}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMedicineNotFound
		}
		return nil, fmt.Errorf("find medicine: %w", err)
	}
	return doc.toModel()
}

// ListMedicines возвращает каталог владельца, новые позиции первыми.
func (r *MongoRepository) ListMedicines(ctx context.Context, ownerID string) ([]model.Medicine, error) {
	cur, err := r.db.Collection(medicinesCollection).Find(ctx,
		bson.M{"user": ownerID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find medicines: %w", err)
	}
	defer cur.Close(ctx)

	res := make([]model.Medicine, 0)
	for cur.Next(ctx) {
		var doc medicineDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode medicine: %w", err)
		}
		med, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, *med)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return res, nil
}

// UpdateMedicine перезаписывает редактируемые поля лекарства владельца.
func (r *MongoRepository) UpdateMedicine(ctx context.Context, med *model.Medicine) error {
	price, err := toDecimal128(med.Price)
	if err != nil {
		return err
	}

	var doc medicineDocument
	err = r.db.Collection(medicinesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": med.ID, "user": med.OwnerID},
		bson.M{"$set": bson.M{
			"name":        med.Name,
			"description": med.Description,
			"category":    med.Category,
			"price":       price,
			"quantity":    med.Quantity,
			"expiryDate":  med.ExpiryDate,
			"supplier":    med.Supplier,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrMedicineNotFound
		}
		return fmt.Errorf("update medicine: %w", err)
	}

	med.CreatedAt = doc.CreatedAt.UTC()
	return nil
}

// DeleteMedicine удаляет лекарство владельца. Продажи хранят встроенный снимок и не затрагиваются.
func (r *MongoRepository) DeleteMedicine(ctx context.Context, ownerID, id string) error {
	res, err := r.db.Collection(medicinesCollection).DeleteOne(ctx, bson.M{"_id": id, "user": ownerID})
	if err != nil {
		return fmt.Errorf("delete medicine: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

// DecrementStock уменьшает остаток одним FindOneAndUpdate с условием quantity >= amount.
func (r *MongoRepository) DecrementStock(ctx context.Context, ownerID, id string, amount int64) (*model.Medicine, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	coll := r.db.Collection(medicinesCollection)

	var doc medicineDocument
	err := coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": ownerID, "quantity": bson.M{"$gte": amount}},
		bson.M{"$inc": bson.M{"quantity": -amount}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toModel()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	// Документ не обновлён: либо лекарства нет, либо остатка не хватает.
	var cur medicineDocument
	err = coll.FindOne(ctx,
		bson.M{"_id": id, "user": ownerID},
		options.FindOne().SetProjection(bson.M{"quantity": 1}),
	).Decode(&cur)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMedicineNotFound
		}
		return nil, fmt.Errorf("read stock: %w", err)
	}
	return nil, &StockError{MedicineID: id, Available: cur.Quantity}
}

// RestockMedicine возвращает на остаток ранее списанное количество.
func (r *MongoRepository) RestockMedicine(ctx context.Context, ownerID, id string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := r.db.Collection(medicinesCollection).UpdateOne(ctx,
		bson.M{"_id": id, "user": ownerID},
		bson.M{"$inc": bson.M{"quantity": amount}},
	)
	if err != nil {
		return fmt.Errorf("restock medicine: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

// AppendSale записывает продажу одним документом со встроенными строками.
func (r *MongoRepository) AppendSale(ctx context.Context, ownerID string, items []model.SaleItem, total decimal.Decimal) (*model.Sale, error) {
	totalDec, err := toDecimal128(total)
	if err != nil {
		return nil, err
	}

	doc := saleDocument{
		ID:    newID(),
		Items: make([]saleItemDocument, 0, len(items)),
		Total: totalDec,
		User:  ownerID,
		Date:  time.Now().UTC().Truncate(time.Millisecond),
	}
	for _, it := range items {
		price, err := toDecimal128(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, saleItemDocument{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      price,
		})
	}

	if _, err := r.db.Collection(salesCollection).InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	return &model.Sale{
		ID:        doc.ID,
		OwnerID:   ownerID,
		Items:     append([]model.SaleItem(nil), items...),
		Total:     total,
		CreatedAt: doc.Date,
	}, nil
}

// GetSale возвращает продажу владельца.
func (r *MongoRepository) GetSale(ctx context.Context, ownerID, id string) (*model.Sale, error) {
	var doc saleDocument
	err := r.db.Collection(salesCollection).FindOne(ctx, bson.M{"_id": id, "user": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("find sale: %w", err)
	}
	return doc.toModel()
}

// ListSales возвращает продажи владельца, последние первыми.
func (r *MongoRepository) ListSales(ctx context.Context, ownerID string) ([]model.Sale, error) {
	cur, err := r.db.Collection(salesCollection).Find(ctx,
		bson.M{"user": ownerID},
		options.Find().SetSort(bson.D{{Key: "date", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find sales: %w", err)
	}
	defer cur.Close(ctx)

	res := make([]model.Sale, 0)
	for cur.Next(ctx) {
		var doc saleDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode sale: %w", err)
		}
		s, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return res, nil
}
