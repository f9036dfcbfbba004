// Package events delivers ledger change notifications to other systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/credit-ledger/ledger"
)

// Envelope is the wire form of a ledger.Event.
type Envelope struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OwnerID    int64        `json:"owner_id"`
	CustomerID int64        `json:"customer_id"`
	EntryID    int64        `json:"entry_id"`
	Amount     ledger.Money `json:"amount"`
	OccurredOn ledger.Date  `json:"occurred_on"`
	At         time.Time    `json:"at"`
}

// NewEnvelope assigns the event a fresh ID.
func NewEnvelope(e ledger.Event) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       string(e.Type),
		OwnerID:    int64(e.OwnerID),
		CustomerID: int64(e.CustomerID),
		EntryID:    int64(e.EntryID),
		Amount:     e.Amount,
		OccurredOn: e.OccurredOn,
		At:         e.At,
	}
}

// =============================================================================
// KAFKA
// =============================================================================

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

var _ ledger.EventPublisher = (*KafkaPublisher)(nil)

// publishBatchTimeout caps how long a single synchronous Publish waits for
// a batch to fill. kafka-go defaults to one second.
const publishBatchTimeout = 5 * time.Millisecond

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: publishBatchTimeout,
		},
	}
}

// Publish writes the event keyed by customer, so one customer's events stay
// in order on a single partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e ledger.Event) error {
	env := NewEnvelope(e)
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(env.CustomerID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", env.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// =============================================================================
// LOG
// =============================================================================

// LogPublisher writes events to the log. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

var _ ledger.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e ledger.Event) error {
	env := NewEnvelope(e)
	p.logger.Info("ledger event",
		zap.String("id", env.ID),
		zap.String("type", env.Type),
		zap.Int64("owner_id", env.OwnerID),
		zap.Int64("customer_id", env.CustomerID),
		zap.Int64("entry_id", env.EntryID),
		zap.Stringer("amount", env.Amount),
		zap.Stringer("occurred_on", env.OccurredOn))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
