// Package mockserver provides a scriptable in-process recognition server for
// tests and local runs without service credentials. It speaks the same binary
// frame protocol as the real service and records what each client sent.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sauc-asr-client/internal/models"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/protocol"
)

// Mode selects how the server answers.
type Mode int

const (
	// ModeProgressive sends one partial per audio frame and a definite
	// result when the final audio frame arrives.
	ModeProgressive Mode = iota
	// ModeImmediate sends a definite result right after the configuration frame.
	ModeImmediate
	// ModeSilent reads everything and never replies.
	ModeSilent
	// ModeError sends PartialsBeforeError partials, then an error frame.
	ModeError
	// ModeHangUp sends PartialsBeforeError partials, then closes the connection.
	ModeHangUp
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeProgressive:
		return "progressive"
	case ModeImmediate:
		return "immediate"
	case ModeSilent:
		return "silent"
	case ModeError:
		return "error"
	case ModeHangUp:
		return "hangup"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as returned by Mode.String.
func ParseMode(name string) (Mode, error) {
	for _, m := range []Mode{ModeProgressive, ModeImmediate, ModeSilent, ModeError, ModeHangUp} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

// Script describes one scripted conversation.
type Script struct {
	Mode Mode
	// Partials are sent in order, one per audio frame. The last entry repeats
	// if the client sends more frames than there are partials.
	Partials []string
	// Final is the text of the definite result.
	Final string

	PartialsBeforeError int
	ErrorCode           uint32
	ErrorMessage        string

	// Compression applies to every response payload.
	Compression protocol.Compression
	// LogID is returned in the X-Tt-Logid handshake header when set.
	LogID string

	// AppKey and AccessKey, when set, must match the request headers or the
	// handshake is rejected with 401.
	AppKey    string
	AccessKey string
}

// DefaultScript answers "hello world" progressively with gzip payloads.
var DefaultScript = Script{
	Mode:         ModeProgressive,
	Partials:     []string{"hello", "hello wor"},
	Final:        "hello world",
	ErrorCode:    45000001,
	ErrorMessage: `{"error":"invalid request"}`,
	Compression:  protocol.CompressionGzip,
	LogID:        "20261019mock",
}

// AudioFrame records one audio-only frame.
type AudioFrame struct {
	Size  int
	Final bool
}

// Recording is what one client connection sent.
type Recording struct {
	Header       http.Header
	Request      *models.RecognitionRequest
	AudioFrames  []AudioFrame
	AudioBytes   int
	ResponsesOut int
	// ClientClosed is true when the client sent a close frame.
	ClientClosed bool
}

// Server is a scriptable recognition server. It implements http.Handler.
type Server struct {
	script   Script
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu         sync.Mutex
	recordings []*Recording
	wg         sync.WaitGroup
}

// New creates a server that follows script.
func New(script Script) *Server {
	return &Server{
		script: script,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.WithComponent("mockserver"),
	}
}

// Recordings returns a snapshot of every connection handled so far.
func (s *Server) Recordings() []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		cp := *r
		cp.AudioFrames = append([]AudioFrame(nil), r.AudioFrames...)
		out = append(out, cp)
	}
	return out
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ServeHTTP upgrades the request and runs the script.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	if !s.authorized(r.Header) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	respHeader := http.Header{}
	if s.script.LogID != "" {
		respHeader.Set("X-Tt-Logid", s.script.LogID)
	}
	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	rec := &Recording{Header: r.Header.Clone()}
	s.mu.Lock()
	s.recordings = append(s.recordings, rec)
	s.mu.Unlock()

	c := &conversation{server: s, conn: conn, rec: rec, logger: s.logger.With().
		Str("connectId", r.Header.Get("X-Api-Connect-Id")).Logger()}
	c.run()
}

func (s *Server) authorized(h http.Header) bool {
	if s.script.AppKey != "" && h.Get("X-Api-App-Key") != s.script.AppKey {
		return false
	}
	if s.script.AccessKey != "" && h.Get("X-Api-Access-Key") != s.script.AccessKey {
		return false
	}
	return true
}

// conversation is the server side of one connection.
type conversation struct {
	server   *Server
	conn     *websocket.Conn
	rec      *Recording
	logger   zerolog.Logger
	sequence uint32
	partials int
	done     bool
}

func (c *conversation) run() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.update(func(r *Recording) { r.ClientClosed = true })
			} else {
				c.logger.Debug().Err(err).Msg("Read ended")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Bad client frame")
			continue
		}
		if c.done {
			c.recordAudio(frame)
			continue
		}

		if err := c.handle(frame); err != nil {
			c.logger.Warn().Err(err).Msg("Write failed")
			return
		}
	}
}

func (c *conversation) handle(frame *protocol.ClientFrame) error {
	script := c.server.script

	switch frame.Header.MessageType {
	case protocol.MessageTypeFullClientRequest:
		var req models.RecognitionRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.logger.Warn().Err(err).Msg("Bad recognition request")
		} else {
			c.update(func(r *Recording) { r.Request = &req })
		}

		switch script.Mode {
		case ModeImmediate:
			c.done = true
			return c.sendResult(script.Final, true)
		case ModeError, ModeHangUp:
			if script.PartialsBeforeError == 0 {
				return c.abort()
			}
		}
		return nil

	case protocol.MessageTypeAudioOnlyClient:
		c.recordAudio(frame)

		switch script.Mode {
		case ModeSilent:
			return nil
		case ModeProgressive:
			if frame.Header.IsFinalAudio() {
				c.done = true
				return c.sendResult(script.Final, true)
			}
			return c.sendPartial()
		case ModeError, ModeHangUp:
			if err := c.sendPartial(); err != nil {
				return err
			}
			if c.partials >= script.PartialsBeforeError {
				return c.abort()
			}
		}
	}
	return nil
}

func (c *conversation) recordAudio(frame *protocol.ClientFrame) {
	c.update(func(r *Recording) {
		r.AudioFrames = append(r.AudioFrames, AudioFrame{Size: len(frame.Payload), Final: frame.Header.IsFinalAudio()})
		r.AudioBytes += len(frame.Payload)
	})
}

func (c *conversation) sendPartial() error {
	partials := c.server.script.Partials
	if len(partials) == 0 {
		return nil
	}
	i := c.partials
	if i >= len(partials) {
		i = len(partials) - 1
	}
	c.partials++
	return c.sendResult(partials[i], false)
}

// abort ends the conversation the way the script says: an error frame or a
// bare close.
func (c *conversation) abort() error {
	c.done = true
	script := c.server.script

	// After a close frame the read loop keeps draining until the client
	// echoes the close.
	if script.Mode == ModeHangUp {
		c.logger.Info().Int("partials", c.partials).Msg("Hanging up")
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		return c.conn.WriteMessage(websocket.CloseMessage, msg)
	}

	frame, err := protocol.EncodeServerFrame(protocol.MessageTypeServerError, script.ErrorCode,
		[]byte(script.ErrorMessage), script.Compression)
	if err != nil {
		return err
	}
	c.logger.Info().Uint32("code", script.ErrorCode).Msg("Sending error frame")
	return c.write(frame)
}

func (c *conversation) sendResult(text string, definite bool) error {
	c.sequence++
	durationMs := c.audioDurationMs()

	resp := models.ASRResponse{
		Result: &models.ASRResult{
			Text: text,
			Utterances: []models.Utterance{{
				Text:      text,
				StartTime: 0,
				EndTime:   durationMs,
				Definite:  definite,
			}},
		},
		AudioInfo: &models.AudioInfo{Duration: durationMs},
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	frame, err := protocol.EncodeServerFrame(protocol.MessageTypeFullServerResponse, c.sequence,
		payload, c.server.script.Compression)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("text", text).Bool("definite", definite).Msg("Sending result")
	return c.write(frame)
}

func (c *conversation) write(frame []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	c.update(func(r *Recording) { r.ResponsesOut++ })
	return nil
}

// audioDurationMs converts the bytes received so far into milliseconds using
// the format from the recognition request.
func (c *conversation) audioDurationMs() int64 {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	rate, bits, channels := 16000, 16, 1
	if req := c.rec.Request; req != nil {
		if req.Audio.Rate > 0 {
			rate = req.Audio.Rate
		}
		if req.Audio.Bits > 0 {
			bits = req.Audio.Bits
		}
		if req.Audio.Channel > 0 {
			channels = req.Audio.Channel
		}
	}
	bytesPerSecond := rate * bits / 8 * channels
	if bytesPerSecond <= 0 {
		return 0
	}
	return int64(c.rec.AudioBytes) * 1000 / int64(bytesPerSecond)
}

func (c *conversation) update(fn func(r *Recording)) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	fn(c.rec)
}
