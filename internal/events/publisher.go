// Package events публикует записанные продажи для внешних потребителей отчётности.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/VanshSharma88/medimind/internal/model"
)

// EventSaleRecorded задаёт тип события о записанной продаже.
const EventSaleRecorded = "sale.recorded"

// messageWriter покрывает часть kafka.Writer, используемая публикатором.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SaleEvent описывает сообщение о продаже.
type SaleEvent struct {
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	SaleID     string          `json:"saleId"`
	OwnerID    string          `json:"ownerId"`
	Total      json.Number     `json:"total"`
	Items      []SaleEventItem `json:"items"`
}

// SaleEventItem описывает строку продажи в событии.
type SaleEventItem struct {
	MedicineID string      `json:"medicineId"`
	Name       string      `json:"name"`
	Quantity   int64       `json:"quantity"`
	UnitPrice  json.Number `json:"unitPrice"`
}

// KafkaPublisher пишет события о продажах в топик Kafka с ключом по владельцу.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher создаёт публикатор для указанных брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka producer error", zap.Error(err), zap.Int("messages", len(messages)))
			}
		},
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger,
	}
}

// PublishSale ставит событие о продаже в очередь writer'а. Ошибки доставки
// логируются в Completion и сюда не возвращаются.
func (p *KafkaPublisher) PublishSale(ctx context.Context, sale model.Sale) error {
	payload, err := EncodeSaleEvent(sale)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sale.OwnerID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventSaleRecorded)},
		},
	}); err != nil {
		return fmt.Errorf("write sale event: %w", err)
	}

	p.logger.Debug("sale event published", zap.String("saleID", sale.ID))
	return nil
}

// Close сбрасывает буферы и закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// EncodeSaleEvent сериализует продажу в JSON-событие.
func EncodeSaleEvent(sale model.Sale) ([]byte, error) {
	ev := SaleEvent{
		EventID:    uuid.NewString(),
		Type:       EventSaleRecorded,
		OccurredAt: sale.CreatedAt,
		SaleID:     sale.ID,
		OwnerID:    sale.OwnerID,
		Total:      json.Number(sale.Total.StringFixed(2)),
		Items:      make([]SaleEventItem, 0, len(sale.Items)),
	}
	for _, it := range sale.Items {
		ev.Items = append(ev.Items, SaleEventItem{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  json.Number(it.UnitPrice.StringFixed(2)),
		})
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal sale event: %w", err)
	}
	return payload, nil
}
