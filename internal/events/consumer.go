package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"sauc-asr-client/internal/models"
)

// ErrUnknownEventType is returned for payloads that are not transcript events.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is a transcript event read back from Kafka. Exactly one of Partial
// and Final is set.
type Event struct {
	Topic     string
	Key       string
	EventType string
	Partial   *models.TranscriptPartial
	Final     *models.TranscriptFinal
}

// Text returns the transcript text of the event.
func (e *Event) Text() string {
	if e.Final != nil {
		return e.Final.Text
	}
	if e.Partial != nil {
		return e.Partial.Text
	}
	return ""
}

// DecodeEvent decodes a published transcript event by its eventType field.
func DecodeEvent(value []byte) (*Event, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	ev := &Event{EventType: head.EventType}
	switch head.EventType {
	case models.EventTypePartial:
		ev.Partial = &models.TranscriptPartial{}
		if err := json.Unmarshal(value, ev.Partial); err != nil {
			return nil, fmt.Errorf("decode partial event: %w", err)
		}
	case models.EventTypeFinal:
		ev.Final = &models.TranscriptFinal{}
		if err := json.Unmarshal(value, ev.Final); err != nil {
			return nil, fmt.Errorf("decode final event: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.EventType)
	}
	return ev, nil
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	// Since rewinds each reader to messages newer than now minus Since.
	// Zero starts at the latest offset.
	Since time.Duration
}

// Consumer tails transcript topics.
type Consumer struct {
	readers []*kafka.Reader
	since   time.Duration
}

// NewConsumer creates one partition-0 reader per topic. Readers without a
// consumer group work through port-forwards.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}

	c := &Consumer{since: cfg.Since}
	for _, topic := range cfg.Topics {
		c.readers = append(c.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			Partition:   0,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}))
	}
	return c, nil
}

// Run reads every topic until ctx is cancelled, calling handle for each
// decoded event. handle may be called from several goroutines.
func (c *Consumer) Run(ctx context.Context, handle func(*Event)) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range c.readers {
		g.Go(func() error { return c.consume(ctx, r, handle) })
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, reader *kafka.Reader, handle func(*Event)) error {
	topic := reader.Config().Topic
	if c.since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-c.since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind reader, starting at latest")
		}
	}

	log.Info().Str("topic", topic).Dur("since", c.since).Msg("Consuming transcript events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("Skipping message")
			continue
		}
		ev.Topic = msg.Topic
		ev.Key = string(msg.Key)
		handle(ev)
	}
}

// Close closes all readers.
func (c *Consumer) Close() error {
	var err error
	for _, r := range c.readers {
		if e := r.Close(); e != nil {
			err = e
		}
	}
	return err
}
