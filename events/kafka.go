package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	BatchSize    int
}

// NewKafkaWriter builds the producer used by KafkaSink.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		BatchSize:    cfg.BatchSize,
		RequiredAcks: kafka.RequireAll,
	}
}

// KafkaSink publishes events as JSON. Messages are keyed by stock key or
// order ID, so each key's events land on one partition in order.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
}

func NewKafkaSink(w MessageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, logger: logger}
}

func (k *KafkaSink) Handle(ctx context.Context, e inventory.Event) error {
	payload, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(e)),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID.String())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	k.logger.Debug("event shipped to kafka", zap.String("event_id", e.ID.String()))
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func messageKey(e inventory.Event) string {
	switch {
	case e.Movement != nil:
		return e.Movement.Key().String()
	case e.Level != nil:
		return e.Level.Key.String()
	}
	return string(e.OrderID)
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// Envelope is the JSON form of an event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	ActorID    string          `json:"actor_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	OrderKind  string          `json:"order_kind,omitempty"`
	Movement   *MovementJSON   `json:"movement,omitempty"`
	Transition *TransitionJSON `json:"transition,omitempty"`
	Level      *LevelJSON      `json:"level,omitempty"`
	Threshold  *int64          `json:"threshold,omitempty"`
}

type MovementJSON struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	ProductID     string `json:"product_id"`
	WarehouseID   string `json:"warehouse_id"`
	QuantityDelta int64  `json:"quantity_delta"`
	Kind          string `json:"kind"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	UnitCost      string `json:"unit_cost,omitempty"`
}

type TransitionJSON struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

type LevelJSON struct {
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	OnHand      int64  `json:"on_hand"`
	Reserved    int64  `json:"reserved"`
	Available   int64  `json:"available"`
}

// Encode renders e as an Envelope.
func Encode(e inventory.Event) ([]byte, error) {
	env := Envelope{
		ID:         e.ID.String(),
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt,
		ActorID:    string(e.ActorID),
		OrderID:    string(e.OrderID),
		OrderKind:  string(e.OrderKind),
	}
	if m := e.Movement; m != nil {
		env.Movement = &MovementJSON{
			ID:            string(m.ID),
			Seq:           m.Seq,
			ProductID:     string(m.ProductID),
			WarehouseID:   string(m.WarehouseID),
			QuantityDelta: m.QuantityDelta,
			Kind:          string(m.Kind),
			ReservationID: string(m.ReservationID),
			Reason:        m.Reason,
		}
		if !m.UnitCost.IsZero() {
			env.Movement.UnitCost = m.UnitCost.String()
		}
	}
	if t := e.Transition; t != nil {
		env.Transition = &TransitionJSON{
			From:   string(t.From),
			To:     string(t.To),
			Event:  string(t.Event),
			Reason: t.Reason,
		}
	}
	if l := e.Level; l != nil {
		env.Level = &LevelJSON{
			ProductID:   string(l.Key.ProductID),
			WarehouseID: string(l.Key.WarehouseID),
			OnHand:      l.OnHand,
			Reserved:    l.Reserved,
			Available:   l.Available(),
		}
	}
	if e.Type == inventory.EventLowStock {
		th := e.Threshold
		env.Threshold = &th
	}
	return json.Marshal(env)
}
