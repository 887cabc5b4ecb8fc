// Package protocol implements the SAUC binary frame codec.
//
// Every frame starts with a 4-byte header:
//
//	byte 0: protocol version (high nibble) | header size in 4-byte words (low nibble)
//	byte 1: message type (high nibble)     | message flags (low nibble)
//	byte 2: serialization (high nibble)    | compression (low nibble)
//	byte 3: reserved
//
// Client frames follow the header with a 4-byte big-endian payload size and the
// payload. Server frames carry a 4-byte sequence number between the header and
// the payload size.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MessageType is the 4-bit message type carried in header byte 1.
type MessageType uint8

const (
	MessageTypeFullClientRequest  MessageType = 0b0001
	MessageTypeAudioOnlyClient    MessageType = 0b0010
	MessageTypeFullServerResponse MessageType = 0b1001
	MessageTypeServerAck          MessageType = 0b1011
	MessageTypeServerError        MessageType = 0b1111
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageTypeFullClientRequest:
		return "FULL_CLIENT_REQUEST"
	case MessageTypeAudioOnlyClient:
		return "AUDIO_ONLY_CLIENT"
	case MessageTypeFullServerResponse:
		return "FULL_SERVER_RESPONSE"
	case MessageTypeServerAck:
		return "SERVER_ACK"
	case MessageTypeServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Serialization is the 4-bit payload serialization method.
type Serialization uint8

const (
	SerializationNone Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression is the 4-bit payload compression method.
type Compression uint8

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

// Protocol constants
const (
	ProtocolVersion = 0b0001
	HeaderWords     = 0b0001 // header size in 4-byte units

	// FlagFinalAudio marks the last audio-only frame of a session.
	FlagFinalAudio uint8 = 0b0010

	HeaderSize          = 4
	SizeFieldSize       = 4
	SequenceFieldSize   = 4
	ClientPrefixSize    = HeaderSize + SizeFieldSize
	MinServerFrameSize  = HeaderSize + SequenceFieldSize + SizeFieldSize
	serverPayloadOffset = MinServerFrameSize
)

// Errors returned by the decoders.
var (
	ErrFrameTooShort       = errors.New("frame too short")
	ErrHeaderTooShort      = errors.New("header too short")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")
	ErrPayloadSizeMismatch = errors.New("payload size mismatch")
	ErrPayloadTooLarge     = errors.New("decompressed payload too large")
)

// MaxPayloadSize caps a decompressed payload. It matches the inbound message
// limit so a small gzip frame cannot expand past what the socket would accept.
const MaxPayloadSize int64 = 10 << 20

// Header represents the 4-byte frame header.
type Header struct {
	Version       uint8
	HeaderWords   uint8
	MessageType   MessageType
	Flags         uint8
	Serialization Serialization
	Compression   Compression
}

// Bytes encodes the header into its 4-byte wire form.
func (h Header) Bytes() [HeaderSize]byte {
	return [HeaderSize]byte{
		h.Version<<4 | h.HeaderWords&0x0F,
		uint8(h.MessageType)<<4 | h.Flags&0x0F,
		uint8(h.Serialization)<<4 | uint8(h.Compression)&0x0F,
		0x00,
	}
}

// IsFinalAudio reports whether the header marks the last audio chunk.
func (h Header) IsFinalAudio() bool {
	return h.MessageType == MessageTypeAudioOnlyClient && h.Flags&FlagFinalAudio != 0
}

// ParseHeader parses the 4-byte header at the start of raw.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrHeaderTooShort, HeaderSize, len(raw))
	}
	return Header{
		Version:       raw[0] >> 4,
		HeaderWords:   raw[0] & 0x0F,
		MessageType:   MessageType(raw[1] >> 4),
		Flags:         raw[1] & 0x0F,
		Serialization: Serialization(raw[2] >> 4),
		Compression:   Compression(raw[2] & 0x0F),
	}, nil
}

var (
	fullClientRequestHeader = Header{
		Version:       ProtocolVersion,
		HeaderWords:   HeaderWords,
		MessageType:   MessageTypeFullClientRequest,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
	}
	audioOnlyHeader = Header{
		Version:     ProtocolVersion,
		HeaderWords: HeaderWords,
		MessageType: MessageTypeAudioOnlyClient,
	}
)

// EncodeFullClientRequest serializes payload to JSON, gzips it and frames it
// as a full client request.
func EncodeFullClientRequest(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal full client request: %w", err)
	}
	compressed, err := gzipBytes(body)
	if err != nil {
		return nil, fmt.Errorf("compress full client request: %w", err)
	}
	return frame(fullClientRequestHeader, compressed), nil
}

// EncodeAudioOnlyRequest frames raw audio bytes. Audio is never compressed.
// final must be set on exactly one frame per session: the last one.
func EncodeAudioOnlyRequest(audio []byte, final bool) []byte {
	h := audioOnlyHeader
	if final {
		h.Flags = FlagFinalAudio
	}
	return frame(h, audio)
}

func frame(h Header, payload []byte) []byte {
	out := make([]byte, ClientPrefixSize+len(payload))
	hdr := h.Bytes()
	copy(out, hdr[:])
	binary.BigEndian.PutUint32(out[HeaderSize:], uint32(len(payload)))
	copy(out[ClientPrefixSize:], payload)
	return out
}

// ServerMessage is a decoded server frame.
type ServerMessage struct {
	MessageType MessageType
	Flags       uint8
	Compression Compression
	Sequence    uint32

	// Body holds the payload after best-effort decompression and UTF-8 repair.
	Body []byte
	// Fields holds the payload parsed as a JSON object. Nil when parsing failed.
	Fields map[string]any
	// Raw holds the payload text when it is not a JSON object.
	Raw string
}

// IsASRResult reports whether the message carries a recognition result.
func (m *ServerMessage) IsASRResult() bool {
	return m.MessageType == MessageTypeFullServerResponse
}

// IsError reports whether the message is a server error frame.
func (m *ServerMessage) IsError() bool {
	return m.MessageType == MessageTypeServerError
}

// ErrorCode returns the error code of an error frame. Error frames carry the
// code in the slot other frames use for the sequence number.
func (m *ServerMessage) ErrorCode() uint32 {
	if !m.IsError() {
		return 0
	}
	return m.Sequence
}

// DecodeFrame decodes a server frame.
//
// Decoding is best-effort: a declared payload size larger than the buffer is
// truncated to what is available, a broken gzip stream passes through
// unchanged, invalid UTF-8 is replaced and a payload that is not a JSON object
// is returned in Raw. Only buffers shorter than the fixed 12-byte prefix fail.
// Gzip payloads are capped at MaxPayloadSize.
func DecodeFrame(raw []byte) (*ServerMessage, error) {
	return DecodeFrameLimit(raw, MaxPayloadSize)
}

// DecodeFrameLimit is DecodeFrame with an explicit cap on the decompressed
// payload. A gzip payload that would expand past limit is treated like a
// broken stream and passes through compressed. A limit <= 0 means
// MaxPayloadSize.
func DecodeFrameLimit(raw []byte, limit int64) (*ServerMessage, error) {
	if len(raw) < MinServerFrameSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrFrameTooShort, MinServerFrameSize, len(raw))
	}

	h, _ := ParseHeader(raw)
	sequence := binary.BigEndian.Uint32(raw[HeaderSize:])
	size := binary.BigEndian.Uint32(raw[HeaderSize+SequenceFieldSize:])

	end := uint64(serverPayloadOffset) + uint64(size)
	if end > uint64(len(raw)) {
		end = uint64(len(raw))
	}
	payload := raw[serverPayloadOffset:end]

	if h.Compression == CompressionGzip {
		if decompressed, err := gunzipBytes(payload, limit); err == nil {
			payload = decompressed
		}
	}

	text := strings.ToValidUTF8(string(payload), "\uFFFD")
	msg := &ServerMessage{
		MessageType: h.MessageType,
		Flags:       h.Flags,
		Compression: h.Compression,
		Sequence:    sequence,
		Body:        []byte(text),
	}

	var fields map[string]any
	if err := json.Unmarshal(msg.Body, &fields); err != nil || fields == nil {
		msg.Raw = text
		return msg, nil
	}
	msg.Fields = fields
	return msg, nil
}

// ClientFrame is a decoded client frame. Servers and tests use it to inspect
// what a client sent.
type ClientFrame struct {
	Header  Header
	Size    uint32
	Payload []byte
}

// DecodeClientFrame decodes a client frame, gunzipping the payload when the
// header says it is compressed. Unlike DecodeFrame it is strict: the declared
// size must match the bytes that follow.
func DecodeClientFrame(raw []byte) (*ClientFrame, error) {
	if len(raw) < ClientPrefixSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrFrameTooShort, ClientPrefixSize, len(raw))
	}
	h, _ := ParseHeader(raw)
	if h.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	size := binary.BigEndian.Uint32(raw[HeaderSize:])
	payload := raw[ClientPrefixSize:]
	if uint64(size) != uint64(len(payload)) {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrPayloadSizeMismatch, size, len(payload))
	}

	if h.Compression == CompressionGzip {
		decompressed, err := gunzipBytes(payload, MaxPayloadSize)
		if err != nil {
			return nil, fmt.Errorf("decompress client payload: %w", err)
		}
		payload = decompressed
	}

	return &ClientFrame{Header: h, Size: size, Payload: payload}, nil
}

// EncodeServerFrame frames a server message. Only the mock server and tests
// produce server frames.
func EncodeServerFrame(t MessageType, sequence uint32, payload []byte, compression Compression) ([]byte, error) {
	if compression == CompressionGzip {
		compressed, err := gzipBytes(payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}

	h := Header{
		Version:       ProtocolVersion,
		HeaderWords:   HeaderWords,
		MessageType:   t,
		Serialization: SerializationJSON,
		Compression:   compression,
	}
	out := make([]byte, MinServerFrameSize+len(payload))
	hdr := h.Bytes()
	copy(out, hdr[:])
	binary.BigEndian.PutUint32(out[HeaderSize:], sequence)
	binary.BigEndian.PutUint32(out[HeaderSize+SequenceFieldSize:], uint32(len(payload)))
	copy(out[MinServerFrameSize:], payload)
	return out, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxPayloadSize
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, limit)
	}
	return out, nil
}
