// Package events publishes transcript events to Kafka and tails them back.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"sauc-asr-client/internal/config"
	"sauc-asr-client/internal/models"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/observability/metrics"
)

// Message headers set on every transcript event.
const (
	HeaderEventType  = "eventType"
	HeaderConnectID  = "connectId"
	HeaderResourceID = "resourceId"
	HeaderPrincipal  = "principal"
)

// Publisher writes transcript events keyed by connect id, so every event of
// one session lands on the same partition in order. A single writer serves
// both topics; each message carries its own topic.
//
// Without a writer the publisher only logs.
type Publisher struct {
	writer    *kafka.Writer
	topics    map[string]string
	principal string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics records publish counts and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a publisher from the Kafka settings. Disabled settings, or
// settings without brokers, give a log-only publisher.
func New(cfg config.KafkaConfig, opts ...Option) *Publisher {
	p := &Publisher{
		topics: map[string]string{
			models.EventTypePartial: cfg.TopicPartial,
			models.EventTypeFinal:   cfg.TopicFinal,
		},
		principal: cfg.Principal,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("events"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Debug().Bool("enabled", cfg.Enabled).Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// PublishPartial publishes a partial transcript to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, ev models.TranscriptPartial) error {
	return p.publish(ctx, models.EventTypePartial, ev.ConnectID, ev.ResourceID, ev)
}

// PublishFinal publishes the definite transcript to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, ev models.TranscriptFinal) error {
	return p.publish(ctx, models.EventTypeFinal, ev.ConnectID, ev.ResourceID, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, connectID, resourceID string, event any) error {
	start := time.Now()
	topic := p.topics[eventType]
	logger := p.logger.With().Str("topic", topic).Str("connectId", connectID).Logger()

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal event")
		return err
	}
	logger.Debug().RawJSON("payload", payload).Msg("Publishing event")

	if p.writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	err = p.writer.WriteMessages(ctx, p.message(topic, eventType, connectID, resourceID, payload))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to write to Kafka")
	}
	p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
	return err
}

func (p *Publisher) message(topic, eventType, connectID, resourceID string, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(connectID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(eventType)},
			{Key: HeaderConnectID, Value: []byte(connectID)},
			{Key: HeaderResourceID, Value: []byte(resourceID)},
			{Key: HeaderPrincipal, Value: []byte(p.principal)},
		},
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
