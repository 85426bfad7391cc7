package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// Publisher publishes session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev *SessionEvent) error
	Close() error
}

// WatermillPublisher publishes events as JSON messages on a single topic.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	log       zerolog.Logger
}

// NewWatermillPublisher wraps any watermill publisher.
func NewWatermillPublisher(pub message.Publisher, topic string, log zerolog.Logger) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: pub,
		topic:     topic,
		log:       log.With().Str("component", "event_publisher").Logger(),
	}
}

// NewKafkaPublisher connects a watermill Kafka publisher.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger, adapter watermill.LoggerAdapter) (*WatermillPublisher, error) {
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}
	return NewWatermillPublisher(pub, topic, log), nil
}

// NewGoChannelPublisher publishes in-process. The returned GoChannel can also subscribe.
func NewGoChannelPublisher(topic string, log zerolog.Logger, adapter watermill.LoggerAdapter) (*WatermillPublisher, *gochannel.GoChannel) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, adapter)
	return NewWatermillPublisher(ch, topic, log), ch
}

// Publish marshals ev and publishes it with its type and origin as metadata.
func (p *WatermillPublisher) Publish(ctx context.Context, ev *SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	msg := message.NewMessage(ev.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("source", ev.Source)
	msg.Metadata.Set("version", ev.Version)
	msg.Metadata.Set("timestamp", ev.Timestamp.Format(time.RFC3339))
	msg.Metadata.Set("test_id", ev.TestID)
	msg.Metadata.Set("student_id", strconv.Itoa(ev.StudentID))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.log.Error().Err(err).Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Msg("Failed to publish session event")
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	p.log.Debug().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Str("topic", p.topic).Msg("Published session event")
	return nil
}

// Close closes the underlying publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// MemoryPublisher keeps events in memory. It backs disabled publishing and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
	keep   bool
}

// NewMemoryPublisher returns a publisher that records events when keep is set
// and discards them otherwise.
func NewMemoryPublisher(keep bool) *MemoryPublisher {
	return &MemoryPublisher{keep: keep}
}

func (m *MemoryPublisher) Publish(_ context.Context, ev *SessionEvent) error {
	if !m.keep {
		return nil
	}
	m.mu.Lock()
	m.events = append(m.events, *ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (m *MemoryPublisher) Events() []SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionEvent(nil), m.events...)
}

// New builds the publisher selected by cfg.
func New(cfg config.EventsConfig, log zerolog.Logger, adapter watermill.LoggerAdapter) (Publisher, error) {
	if !cfg.Enabled {
		log.Info().Msg("Event publishing disabled")
		return NewMemoryPublisher(false), nil
	}

	switch cfg.Publisher {
	case "kafka":
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.Topic).Msg("Creating Kafka event publisher")
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic, log, adapter)
	case "gochannel":
		log.Info().Str("topic", cfg.Topic).Msg("Using in-process event publisher")
		pub, _ := NewGoChannelPublisher(cfg.Topic, log, adapter)
		return pub, nil
	default:
		log.Warn().Str("publisher", cfg.Publisher).Msg("Unknown event publisher, events disabled")
		return NewMemoryPublisher(false), nil
	}
}
