package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Evictor drops whatever local cart state an instance holds for an owner.
type Evictor interface {
	Evict(ctx context.Context, ownerKey string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes order_placed events so that every storefront instance forgets
// the cart of an owner whose order was placed through another instance. Each
// instance needs its own consumer group to see every event.
type Listener struct {
	reader  messageReader
	evictor Evictor
	log     *zap.Logger
	backoff time.Duration
}

func NewListener(evictor Evictor, log *zap.Logger, groupID, topic string, brokers ...string) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
	return &Listener{reader: reader, evictor: evictor, log: log, backoff: time.Second}
}

func (l *Listener) Run(ctx context.Context) {
	for ctx.Err() == nil {
		l.handleNext(ctx)
	}
}

func (l *Listener) Close() error {
	return l.reader.Close()
}

func (l *Listener) handleNext(ctx context.Context) {
	m, err := l.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("error reading order event", zap.Error(err))
		select {
		case <-time.After(l.backoff):
		case <-ctx.Done():
		}
		return
	}

	if eventType(m) != EventTypeOrderPlaced {
		return
	}
	var event OrderPlaced
	if err := json.Unmarshal(m.Value, &event); err != nil {
		l.log.Warn("error parsing order event", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	if event.OwnerKey == "" {
		l.log.Warn("order event without owner key", zap.String("order_number", event.OrderNumber))
		return
	}

	if err := l.evictor.Evict(ctx, event.OwnerKey); err != nil {
		l.log.Warn("failed to evict cart after order",
			zap.String("owner_key", event.OwnerKey),
			zap.String("order_number", event.OrderNumber),
			zap.Error(err))
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
