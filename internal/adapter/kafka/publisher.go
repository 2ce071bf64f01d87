package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cprunner/park-events-etl/internal/config"
	"github.com/cprunner/park-events-etl/internal/domain"
)

// ChangeMessage is the JSON value of one published store change.
type ChangeMessage struct {
	ID          string                `json:"id"`
	Kind        domain.ChangeKind     `json:"kind"`
	Event       domain.CanonicalEvent `json:"event"`
	PublishedAt time.Time             `json:"published_at"`
}

// Publisher produces store changes to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured change topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish sends every change in a single WriteMessages call. Messages are
// keyed by event ID, so a compacted topic keeps the latest version of each
// event.
func (p *Publisher) Publish(ctx context.Context, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	now := domain.Now().UTC()
	msgs := make([]kafkago.Message, len(changes))
	for i := range changes {
		msg, err := serializeToMessage(changes[i], now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d changes to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.logger.Info("changes published", "topic", p.writer.Topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a change into a Kafka message.
func serializeToMessage(c domain.Change, now time.Time) (kafkago.Message, error) {
	id := domain.EventID(c.Event)
	data, err := json.Marshal(ChangeMessage{
		ID:          id,
		Kind:        c.Kind,
		Event:       c.Event,
		PublishedAt: now,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(id),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "change_kind", Value: []byte(c.Kind)},
			{Key: "event_date", Value: []byte(c.Event.Date)},
			{Key: "published_at", Value: []byte(now.Format(time.RFC3339))},
		},
	}, nil
}
