// Package transcript turns session notifications into logs, metrics and
// published transcript events.
package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sauc-asr-client/internal/models"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/observability/metrics"
	"sauc-asr-client/internal/service/stt"
)

// Publisher publishes transcript events. Implementations key each event by
// its connect id.
type Publisher interface {
	PublishPartial(ctx context.Context, ev models.TranscriptPartial) error
	PublishFinal(ctx context.Context, ev models.TranscriptFinal) error
}

// Limits bounds how much a single session may publish.
type Limits struct {
	MaxPartials    int           // Partials beyond this are logged but not published
	PublishTimeout time.Duration // Per-event publish deadline
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPartials:    500,
		PublishTimeout: 5 * time.Second,
	}
}

// Handler implements stt.Callback. It logs every transcript, records metrics
// and publishes events. Publish failures are logged, never returned.
//
// At most one final is published. After a server error no final is published.
type Handler struct {
	publisher  Publisher
	metrics    *metrics.Metrics
	resourceID string
	limits     Limits
	logger     zerolog.Logger

	mu        sync.Mutex
	partials  int
	finalText string
	finalSent bool
	err       error
}

var _ stt.Callback = (*Handler)(nil)

// NewHandler creates a handler with default limits.
func NewHandler(publisher Publisher, m *metrics.Metrics, resourceID string) *Handler {
	return NewHandlerWithLimits(publisher, m, resourceID, DefaultLimits())
}

// NewHandlerWithLimits creates a handler with custom limits.
func NewHandlerWithLimits(publisher Publisher, m *metrics.Metrics, resourceID string, limits Limits) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		publisher:  publisher,
		metrics:    m,
		resourceID: resourceID,
		limits:     limits,
		logger:     logging.WithComponent("transcript"),
	}
}

// OnPartial logs and publishes a non-definite transcript.
func (h *Handler) OnPartial(t stt.Transcript) {
	h.metrics.RecordPartialTranscript()
	h.logger.Info().Str("connectId", t.ConnectID).Uint32("seq", t.Sequence).Msgf("Partial: %s", t.Text)

	h.mu.Lock()
	if h.err != nil || h.finalSent {
		h.mu.Unlock()
		return
	}
	h.partials++
	count := h.partials
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		h.logger.Debug().Int("partials", count).Int("max", h.limits.MaxPartials).Msg("Partial not published: limit reached")
		return
	}

	ev := models.TranscriptPartial{
		EventType:  models.EventTypePartial,
		ConnectID:  t.ConnectID,
		UserID:     t.UserID,
		ResourceID: h.resourceID,
		Timestamp:  time.Now().UnixMilli(),
		Sequence:   t.Sequence,
		Text:       t.Text,
	}
	h.publish(t.ConnectID, "partial", func(ctx context.Context) error {
		return h.publisher.PublishPartial(ctx, ev)
	})
}

// OnFinal logs and publishes the definite transcript, once.
func (h *Handler) OnFinal(t stt.Transcript) {
	h.mu.Lock()
	if h.finalSent {
		h.mu.Unlock()
		h.logger.Warn().Str("connectId", t.ConnectID).Msg("Duplicate final ignored")
		return
	}
	if h.err != nil {
		h.mu.Unlock()
		h.logger.Warn().Str("connectId", t.ConnectID).Msg("Final after error ignored")
		return
	}
	h.finalSent = true
	h.finalText = t.Text
	h.mu.Unlock()

	h.metrics.RecordFinalTranscript()
	h.logger.Info().Str("connectId", t.ConnectID).Uint32("seq", t.Sequence).Msgf("Final: %s", t.Text)

	ev := models.TranscriptFinal{
		EventType:       models.EventTypeFinal,
		ConnectID:       t.ConnectID,
		UserID:          t.UserID,
		ResourceID:      h.resourceID,
		Timestamp:       time.Now().UnixMilli(),
		Sequence:        t.Sequence,
		Text:            t.Text,
		AudioDurationMs: t.AudioDurationMs,
	}
	if len(t.Utterances) > 0 {
		ev.StartTimeMs = t.Utterances[0].StartTime
		ev.EndTimeMs = t.Utterances[0].EndTime
	}
	h.publish(t.ConnectID, "final", func(ctx context.Context) error {
		return h.publisher.PublishFinal(ctx, ev)
	})
}

// OnError records the server error. Nothing further is published.
func (h *Handler) OnError(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	partials := h.partials
	h.mu.Unlock()

	h.logger.Error().Err(err).Int("partials", partials).Msg("Recognition failed, no final will be published")
}

// FinalText returns the published final text, empty if none.
func (h *Handler) FinalText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalText
}

// PartialCount returns the number of partials accepted for publishing.
func (h *Handler) PartialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.partials
}

// Err returns the first server error reported, if any.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handler) publish(key, kind string, fn func(ctx context.Context) error) {
	if h.publisher == nil {
		return
	}
	ctx := context.Background()
	if h.limits.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.limits.PublishTimeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		h.logger.Error().Err(err).Str("connectId", key).Str("kind", kind).Msg("Failed to publish transcript")
	}
}
