package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerMock struct {
	msgs []kafka.Message
	err  error
}

func (w *writerMock) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *writerMock) Close() error { return nil }

func TestPublishOrderPlaced(t *testing.T) {
	w := &writerMock{}
	placedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	p := &Publisher{writer: w, nowFunc: func() time.Time { return placedAt }}

	err := p.PublishOrderPlaced(context.Background(), "user:1", domain.Order{
		OrderNumber:   "ORD-7",
		TotalAmount:   decimal.RequireFromString("2310"),
		Status:        "PENDING",
		PaymentStatus: "PAID",
		Items:         []domain.OrderItem{{ProductID: "A", VendorID: "v1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "ORD-7", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventTypeOrderPlaced, string(msg.Headers[0].Value))

	var event OrderPlaced
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "user:1", event.OwnerKey)
	assert.Equal(t, "2310.00", event.TotalAmount)
	assert.Equal(t, placedAt, event.PlacedAt)
	require.Len(t, event.Items, 1)
	assert.Equal(t, 2, event.Items[0].Quantity)
}

func TestPublishOrderPlaced_WriteError(t *testing.T) {
	p := &Publisher{writer: &writerMock{err: errors.New("broker down")}, nowFunc: time.Now}

	err := p.PublishOrderPlaced(context.Background(), "user:1", domain.Order{OrderNumber: "ORD-8"})
	assert.ErrorContains(t, err, "broker down")
}
