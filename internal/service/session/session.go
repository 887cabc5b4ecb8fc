// Package session drives one streaming recognition session: it dials the
// service, sends the configuration frame, streams audio and reads results
// until a terminal state is reached.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sauc-asr-client/internal/config"
	"sauc-asr-client/internal/models"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/observability/metrics"
	"sauc-asr-client/internal/protocol"
	"sauc-asr-client/internal/service/audio"
	"sauc-asr-client/internal/service/stt"
)

// Request headers.
const (
	HeaderAppKey     = "X-Api-App-Key"
	HeaderAccessKey  = "X-Api-Access-Key"
	HeaderResourceID = "X-Api-Resource-Id"
	HeaderConnectID  = "X-Api-Connect-Id"
	HeaderLogID      = "X-Tt-Logid"
)

// Defaults
const (
	DefaultReceiveTimeout   = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxMessageSize   = 10 * 1024 * 1024
	closeGracePeriod        = time.Second
)

// ErrSessionClosed is returned by Run on a session that already ran.
var ErrSessionClosed = errors.New("session closed")

// Config holds everything needed to open and run a session.
type Config struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string

	Audio   models.AudioFormat
	Options models.RequestOptions

	ChunkSize        int
	ReceiveTimeout   time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

// DefaultConfig returns a config for 16kHz 16-bit mono raw PCM with the
// default recognition options. Credentials are left empty.
func DefaultConfig() Config {
	return Config{
		Endpoint:   config.DefaultEndpoint,
		ResourceID: "volc.bigasr.sauc.duration",
		Audio: models.AudioFormat{
			Format:  "pcm",
			Rate:    16000,
			Bits:    16,
			Channel: 1,
			Codec:   "raw",
		},
		Options: models.RequestOptions{
			ModelName:      "bigmodel",
			Language:       "zh",
			EnableITN:      true,
			EnablePunc:     true,
			ResultType:     "full",
			ShowUtterances: true,
		},
		ChunkSize:        audio.DefaultChunkSize,
		ReceiveTimeout:   DefaultReceiveTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
	}
}

// ConfigFrom maps the process configuration onto a session config.
func ConfigFrom(cfg *config.Configuration) Config {
	c := DefaultConfig()
	c.Endpoint = cfg.Volc.Endpoint
	c.AppKey = cfg.Volc.AppKey
	c.AccessKey = cfg.Volc.AccessKey
	c.ResourceID = cfg.Volc.ResourceID
	c.Audio = models.AudioFormat{
		Format:  cfg.Audio.Format,
		Rate:    cfg.Audio.SampleRateHz,
		Bits:    cfg.Audio.Bits,
		Channel: cfg.Audio.Channels,
		Codec:   cfg.Audio.Codec,
	}
	c.Options = models.RequestOptions{
		ModelName:      cfg.Recognition.ModelName,
		Language:       cfg.Recognition.Language,
		EnableITN:      cfg.Recognition.EnableITN,
		EnablePunc:     cfg.Recognition.EnablePunc,
		ResultType:     cfg.Recognition.ResultType,
		ShowUtterances: cfg.Recognition.ShowUtterances,
	}
	c.ChunkSize = cfg.Session.ChunkSize
	c.ReceiveTimeout = cfg.Session.ReceiveTimeout
	c.WriteTimeout = cfg.Session.WriteTimeout
	c.MaxMessageSize = cfg.Session.MaxMessageSize
	return c
}

// ServerError is a server error frame.
type ServerError struct {
	Code    uint32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Result is the outcome of a session.
type Result struct {
	ConnectID string
	// Text is the latest non-empty transcript, empty if none arrived.
	Text  string
	Final bool
	State State

	FramesSent     int64
	AudioBytesSent int64
	FramesReceived int64

	// ServerError is set when the session ended on a server error frame.
	ServerError *ServerError
}

// Option configures a Session.
type Option func(*Session)

// WithCallback sets the transcript callback.
func WithCallback(cb stt.Callback) Option {
	return func(s *Session) {
		if cb != nil {
			s.callback = cb
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session is one live connection to the recognition service.
// A session runs once; it is never reused.
type Session struct {
	cfg       Config
	conn      *websocket.Conn
	connectID string
	userID    string
	logID     string

	lifecycle *Lifecycle
	callback  stt.Callback
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ran        atomic.Bool
	framesSent atomic.Int64
	bytesSent  atomic.Int64
	closeOnce  sync.Once
	closeErr   error
}

// Dial opens the WebSocket connection with the authentication and correlation
// headers.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &Session{
		cfg:       cfg,
		connectID: uuid.NewString(),
		userID:    uuid.NewString(),
		callback:  stt.NopCallback{},
		metrics:   metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = NewLifecycle()
	s.logger = logging.WithSession(s.connectID, cfg.ResourceID)

	header := http.Header{}
	header.Set(HeaderAppKey, cfg.AppKey)
	header.Set(HeaderAccessKey, cfg.AccessKey)
	header.Set(HeaderResourceID, cfg.ResourceID)
	header.Set(HeaderConnectID, s.connectID)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	s.logger.Info().Str("endpoint", cfg.Endpoint).Msg("Connecting")
	conn, resp, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		s.metrics.RecordDialError()
		if resp != nil {
			return nil, fmt.Errorf("connect %s: %s: %w", cfg.Endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	s.conn = conn
	if resp != nil {
		s.logID = resp.Header.Get(HeaderLogID)
	}

	s.logger.Info().Str("logId", s.logID).Msg("Connected")
	return s, nil
}

// ConnectID returns the correlation id sent in the X-Api-Connect-Id header.
func (s *Session) ConnectID() string {
	return s.connectID
}

// LogID returns the server log id from the handshake response, if any.
func (s *Session) LogID() string {
	return s.logID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Run sends the configuration frame, then streams audio while reading results
// until a definite utterance, a server error, the receive timeout or a close.
// The connection is always closed on return.
//
// The error is non-nil only if the configuration frame could not be sent or
// ctx was cancelled. Timeouts and server errors end the session normally and
// are reported through Result.State.
func (s *Session) Run(ctx context.Context, pcm []byte) (*Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, ErrSessionClosed
	}
	defer s.Close()

	start := time.Now()
	result := &Result{ConnectID: s.connectID}

	frame, err := protocol.EncodeFullClientRequest(s.recognitionRequest())
	if err != nil {
		return s.finish(result, StateErrored, start), fmt.Errorf("encode full client request: %w", err)
	}
	if err := s.writeFrame(frame); err != nil {
		return s.finish(result, StateErrored, start), fmt.Errorf("send full client request: %w", err)
	}
	s.framesSent.Add(1)
	s.metrics.RecordFrameSent(protocol.MessageTypeFullClientRequest.String(), 0)
	if err := s.lifecycle.Begin(); err != nil {
		s.logger.Warn().Err(err).Str("state", s.lifecycle.State().String()).Msg("Unexpected lifecycle state after initial request")
	}
	s.logger.Info().Str("userId", s.userID).Msg("Initial request sent")

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return s.sendAudio(pcm) })

	state := s.receive(ctx, result, start)

	if err := g.Wait(); err != nil {
		s.logger.Warn().Err(err).Msg("Audio upload ended early")
	}

	s.finish(result, state, start)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Session) finish(result *Result, state State, start time.Time) *Result {
	if err := s.lifecycle.Finish(state); err != nil {
		s.logger.Debug().Err(err).Str("state", state.String()).Msg("Ignoring late state transition")
	}
	result.State = s.lifecycle.State()
	result.FramesSent = s.framesSent.Load()
	result.AudioBytesSent = s.bytesSent.Load()
	s.metrics.RecordSessionEnd(result.State.String(), time.Since(start).Seconds())

	s.logger.Info().
		Str("state", result.State.String()).
		Int64("framesSent", result.FramesSent).
		Int64("audioBytes", result.AudioBytesSent).
		Int64("framesReceived", result.FramesReceived).
		Dur("elapsed", time.Since(start)).
		Msg("Session finished")
	return result
}

func (s *Session) recognitionRequest() models.RecognitionRequest {
	return models.RecognitionRequest{
		User:    models.UserInfo{UID: s.userID},
		Audio:   s.cfg.Audio,
		Request: s.cfg.Options,
	}
}

func (s *Session) writeFrame(frame []byte) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// sendAudio streams pcm as audio-only frames. It is the only writer once the
// configuration frame is out.
func (s *Session) sendAudio(pcm []byte) error {
	chunks := audio.Split(pcm, s.cfg.ChunkSize)
	s.logger.Info().Int("bytes", len(pcm)).Int("chunks", len(chunks)).Msg("Sending audio")

	for _, c := range chunks {
		if err := s.writeFrame(protocol.EncodeAudioOnlyRequest(c.Data, c.Final)); err != nil {
			return fmt.Errorf("send audio chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		s.framesSent.Add(1)
		s.bytesSent.Add(int64(len(c.Data)))
		s.metrics.RecordFrameSent(protocol.MessageTypeAudioOnlyClient.String(), len(c.Data))
	}

	s.logger.Info().Int64("bytes", s.bytesSent.Load()).Msg("Audio sent")
	return nil
}

// receive reads frames until a terminal state and returns it.
func (s *Session) receive(ctx context.Context, result *Result, start time.Time) State {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout))

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.readFailure(ctx, err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		msg, err := protocol.DecodeFrameLimit(data, s.cfg.MaxMessageSize)
		if err != nil {
			s.metrics.RecordDecodeError()
			s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Skipping undecodable frame")
			continue
		}
		result.FramesReceived++
		s.metrics.RecordFrameReceived(msg.MessageType.String())

		switch {
		case msg.IsError():
			serr := &ServerError{Code: msg.ErrorCode(), Message: string(msg.Body)}
			result.ServerError = serr
			s.metrics.RecordServerError(strconv.FormatUint(uint64(serr.Code), 10))
			s.logger.Error().Uint32("code", serr.Code).Str("payload", serr.Message).Msg("Server error")
			s.callback.OnError(serr)
			return StateErrored

		case msg.IsASRResult():
			if s.handleResult(msg, result, start) {
				return StateFinal
			}
		}
	}
}

// handleResult applies an ASR result frame and reports whether it carried a
// definite utterance.
func (s *Session) handleResult(msg *protocol.ServerMessage, result *Result, start time.Time) bool {
	resp := models.ResponseFromFields(msg.Fields)
	if resp == nil {
		return false
	}

	text := strings.TrimSpace(resp.Result.Text)
	if text == "" {
		return false
	}
	if result.Text == "" {
		s.metrics.RecordFirstResult(time.Since(start).Seconds())
	}
	result.Text = text

	t := stt.Transcript{
		ConnectID:  s.connectID,
		UserID:     s.userID,
		Text:       text,
		Sequence:   msg.Sequence,
		Utterances: resp.Result.Utterances,
	}
	if resp.AudioInfo != nil {
		t.AudioDurationMs = resp.AudioInfo.Duration
	}

	if resp.Result.IsDefinite() {
		result.Final = true
		s.callback.OnFinal(t)
		return true
	}
	s.callback.OnPartial(t)
	return false
}

func (s *Session) readFailure(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		s.logger.Warn().Err(ctx.Err()).Msg("Session cancelled")
		return StateConnectionClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Warn().Dur("timeout", s.cfg.ReceiveTimeout).Msg("Timed out waiting for result")
		return StateTimedOut
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info().Msg("Connection closed by server")
	} else {
		s.logger.Warn().Err(err).Msg("Connection lost")
	}
	return StateConnectionClosed
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
