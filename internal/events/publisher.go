// Package events publishes storefront domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic         = "storefront-orders"
	EventTypeOrderPlaced = "order_placed"
)

type OrderPlacedItem struct {
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status,omitempty"`
}

type OrderPlaced struct {
	OrderNumber   string            `json:"order_number"`
	OwnerKey      string            `json:"owner_key"`
	TotalAmount   string            `json:"total_amount"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Items         []OrderPlacedItem `json:"items"`
	PlacedAt      time.Time         `json:"placed_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer  messageWriter
	nowFunc func() time.Time
}

func NewPublisher(topic string, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &Publisher{writer: w, nowFunc: time.Now}
}

// PublishOrderPlaced writes an order_placed event keyed by order number, so all
// events of one order land on one partition.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, ownerKey string, order domain.Order) error {
	event := OrderPlaced{
		OrderNumber:   order.OrderNumber,
		OwnerKey:      ownerKey,
		TotalAmount:   pricing.FormatAmount(order.TotalAmount),
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Items:         make([]OrderPlacedItem, 0, len(order.Items)),
		PlacedAt:      p.nowFunc().UTC(),
	}
	for _, it := range order.Items {
		event.Items = append(event.Items, OrderPlacedItem{
			ProductID: it.ProductID,
			VendorID:  it.VendorID,
			Quantity:  it.Quantity,
			Status:    it.Status,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order placed event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.OrderNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeOrderPlaced)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order placed event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
